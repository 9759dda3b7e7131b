// Package google signs users in with a Google authorization code. Only the
// verified email of the Google account is used; the profile is otherwise
// ignored.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	googleendpoint "golang.org/x/oauth2/google"

	"github.com/storefront/shopauth"
)

const defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var (
	ErrEmailNotVerified = errors.New("google account email is not verified")
	ErrExchange         = errors.New("google code exchange failed")
	ErrUserInfo         = errors.New("google userinfo request failed")
)

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint and UserInfoURL default to Google's production endpoints.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
}

// Profile is the subset of the userinfo response the login needs.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

// Authenticator is the engine operation a verified Google email resolves to.
type Authenticator interface {
	LoginWithGoogle(ctx context.Context, verifiedEmail string) (shopauth.AuthResult, error)
}

type Provider struct {
	oauth       *oauth2.Config
	userInfoURL string
	client      *http.Client
}

func New(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("google client id and secret required")
	}
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = googleendpoint.Endpoint
	}
	userInfo := cfg.UserInfoURL
	if userInfo == "" {
		userInfo = defaultUserInfoURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: endpoint,
		},
		userInfoURL: userInfo,
		client:      client,
	}, nil
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Verify exchanges code for a token and returns the account profile. It fails
// with ErrEmailNotVerified unless Google reports the email as verified.
func (p *Provider) Verify(ctx context.Context, code string) (Profile, error) {
	if strings.TrimSpace(code) == "" {
		return Profile{}, shopauth.ErrInvalidRequest
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Profile{}, fmt.Errorf("%w: status %d", ErrUserInfo, resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("%w: decoding: %v", ErrUserInfo, err)
	}
	if !profile.VerifiedEmail || profile.Email == "" {
		return Profile{}, ErrEmailNotVerified
	}
	return profile, nil
}

// Login verifies code and signs the account's email in through auth.
func (p *Provider) Login(ctx context.Context, auth Authenticator, code string) (shopauth.AuthResult, error) {
	profile, err := p.Verify(ctx, code)
	if err != nil {
		return shopauth.AuthResult{}, err
	}
	return auth.LoginWithGoogle(ctx, profile.Email)
}
