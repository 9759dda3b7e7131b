package shopauth

import (
	"context"
	"strings"
	"time"

	internalaudit "github.com/storefront/shopauth/internal/audit"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
)

// ParseRole accepts the three known roles, case-insensitively, and rejects
// anything else with [ErrInvalidRole].
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleCustomer:
		return RoleCustomer, nil
	case RoleStaff:
		return RoleStaff, nil
	default:
		return "", ErrInvalidRole
	}
}

func (r Role) String() string { return string(r) }

// User is an account as kept by the identity store. A user has an email, a
// phone, or both.
type User struct {
	ID        string
	Role      Role
	Email     string
	Phone     string
	Name      string
	ProfileID string
	CreatedAt time.Time
}

// View returns the public projection of u.
func (u User) View() UserView {
	return UserView{
		ID:        u.ID,
		Role:      u.Role,
		Email:     u.Email,
		Phone:     u.Phone,
		Name:      u.Name,
		ProfileID: u.ProfileID,
		CreatedAt: u.CreatedAt,
	}
}

// Credential is the password credential of a user. Users created through
// Google login have none.
type Credential struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// UserView is what the engine hands back to callers. It never carries
// credentials or key material.
type UserView struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Name      string    `json:"name,omitempty"`
	ProfileID string    `json:"profileId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuthResult is returned by Register, Login and LoginWithGoogle.
type AuthResult struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         UserView `json:"user"`
}

// TokenPair is returned by Refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Identity is the caller established by [Engine.Authenticate].
type Identity struct {
	UserID string
	Role   Role
}

// RegisterInput is the input of [Engine.Register]. Email is required.
type RegisterInput struct {
	Email    string
	Phone    string
	Name     string
	Password string
	Role     string
}

// UserStore is the identity store the engine reads and writes users through.
//
// Implementations return [ErrUserNotFound] for missing users or credentials,
// [ErrUserAlreadyExists] when Create collides on email or phone, and wrap
// [ErrStoreUnavailable] for backend failures. Email and phone lookups are
// matched after [NormalizeIdentifier].
type UserStore interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmailOrPhone(ctx context.Context, emailOrPhone string) (User, error)
	// Create stores u, and cred when it is non-nil, as one unit. The ID and
	// CreatedAt of u are assigned by the caller.
	Create(ctx context.Context, u User, cred *Credential) error
	Credential(ctx context.Context, userID string) (Credential, error)
	SetPasswordHash(ctx context.Context, userID, hash string) error
}

// NormalizeIdentifier canonicalizes an email or phone number for lookup.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// AuditEvent is one security-relevant outcome reported to an [AuditSink].
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher worker.
type AuditSink = internalaudit.Sink
