// Package memory is an in-process [shopauth.UserStore].
package memory

import (
	"context"
	"sync"

	"github.com/storefront/shopauth"
)

// Store keeps users and credentials in maps. The zero value is not usable;
// call New.
type Store struct {
	mu          sync.RWMutex
	users       map[string]shopauth.User
	byIdent     map[string]string
	credentials map[string]shopauth.Credential
}

func New() *Store {
	return &Store{
		users:       make(map[string]shopauth.User),
		byIdent:     make(map[string]string),
		credentials: make(map[string]shopauth.Credential),
	}
}

func (s *Store) FindByID(_ context.Context, id string) (shopauth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return shopauth.User{}, shopauth.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) FindByEmailOrPhone(_ context.Context, emailOrPhone string) (shopauth.User, error) {
	key := shopauth.NormalizeIdentifier(emailOrPhone)
	if key == "" {
		return shopauth.User{}, shopauth.ErrUserNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdent[key]
	if !ok {
		return shopauth.User{}, shopauth.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) Create(_ context.Context, u shopauth.User, cred *shopauth.Credential) error {
	u.Email = shopauth.NormalizeIdentifier(u.Email)
	u.Phone = shopauth.NormalizeIdentifier(u.Phone)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return shopauth.ErrUserAlreadyExists
	}
	for _, ident := range []string{u.Email, u.Phone} {
		if ident == "" {
			continue
		}
		if _, ok := s.byIdent[ident]; ok {
			return shopauth.ErrUserAlreadyExists
		}
	}

	s.users[u.ID] = u
	if u.Email != "" {
		s.byIdent[u.Email] = u.ID
	}
	if u.Phone != "" {
		s.byIdent[u.Phone] = u.ID
	}
	if cred != nil {
		c := *cred
		c.UserID = u.ID
		s.credentials[u.ID] = c
	}
	return nil
}

func (s *Store) Credential(_ context.Context, userID string) (shopauth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[userID]
	if !ok {
		return shopauth.Credential{}, shopauth.ErrUserNotFound
	}
	return c, nil
}

// SetPasswordHash creates the credential when the user has none, which is how
// a Google-created user gains a password through reset.
func (s *Store) SetPasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return shopauth.ErrUserNotFound
	}
	s.credentials[userID] = shopauth.Credential{UserID: userID, PasswordHash: hash}
	return nil
}

var _ shopauth.UserStore = (*Store)(nil)
