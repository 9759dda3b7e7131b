// Package httpapi serves the shopauth operations over HTTP with a chi router.
package httpapi

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storefront/shopauth"
	"github.com/storefront/shopauth/middleware"
	"github.com/storefront/shopauth/oauth/google"
)

const maxBodyBytes = 1 << 20

// API holds the dependencies of the REST handlers.
type API struct {
	engine   *shopauth.Engine
	google   *google.Provider
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the logger for request failures. If not set, a JSON logger
// on stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithGoogle enables the authorization code form of POST /login/google. With a
// provider configured, the bare email form is rejected.
func WithGoogle(p *google.Provider) Option {
	return func(a *API) {
		a.google = p
	}
}

// WithGatherer serves g at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *API) {
		a.gatherer = g
	}
}

func New(engine *shopauth.Engine, opts ...Option) *API {
	a := &API{engine: engine}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return a
}

// Handler returns the full HTTP surface: health, metrics and the auth routes
// under /api/auth.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestIDContext)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", a.Health)
	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	r.Mount("/api/auth", a.Router())
	return r
}

// Router returns a chi.Router with the auth routes, relative to their mount point.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/register", a.Register)
	r.Post("/login", a.Login)
	r.Post("/login/google", a.LoginGoogle)
	if a.google != nil {
		r.Get("/login/google/url", a.GoogleURL)
	}
	r.Post("/forgot-password/mail", a.ForgotPasswordMail)
	r.Post("/forgot-password/validate", a.ForgotPasswordValidate)

	r.With(middleware.RequireRefreshIdentity(a.engine)).Post("/refresh-token", a.RefreshToken)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(a.engine))
		r.Post("/logout", a.Logout)
		r.Put("/change-password", a.ChangePassword)
		r.Get("/me", a.Me)
	})

	return r
}

func requestIDContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			r = r.WithContext(shopauth.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
