package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storefront/shopauth"
)

func TestCreateAndFind(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := shopauth.User{ID: "u-1", Role: shopauth.RoleCustomer, Email: " Alice@Example.com ", Phone: "+15550100", CreatedAt: time.Now()}

	if err := s.Create(ctx, u, &shopauth.Credential{PasswordHash: "h"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, ident := range []string{"alice@example.com", "ALICE@example.com", "+15550100"} {
		got, err := s.FindByEmailOrPhone(ctx, ident)
		if err != nil || got.ID != "u-1" {
			t.Fatalf("lookup %q: %v %+v", ident, err, got)
		}
	}
	cred, err := s.Credential(ctx, "u-1")
	if err != nil || cred.UserID != "u-1" || cred.PasswordHash != "h" {
		t.Fatalf("credential: %v %+v", err, cred)
	}
}

func TestCreateRejectsDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, shopauth.User{ID: "u-1", Email: "a@example.com", Phone: "+1"}, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	cases := []shopauth.User{
		{ID: "u-2", Email: "A@example.com"},
		{ID: "u-3", Email: "b@example.com", Phone: "+1"},
		{ID: "u-1", Email: "c@example.com"},
	}
	for _, u := range cases {
		if err := s.Create(ctx, u, nil); !errors.Is(err, shopauth.ErrUserAlreadyExists) {
			t.Fatalf("expected duplicate for %+v, got %v", u, err)
		}
	}
}

func TestCredentialMissingForGoogleUser(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, shopauth.User{ID: "u-1", Email: "g@example.com"}, nil)

	if _, err := s.Credential(ctx, "u-1"); !errors.Is(err, shopauth.ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.SetPasswordHash(ctx, "u-1", "h2"); err != nil {
		t.Fatalf("set hash: %v", err)
	}
	if c, err := s.Credential(ctx, "u-1"); err != nil || c.PasswordHash != "h2" {
		t.Fatalf("credential after set: %v %+v", err, c)
	}
	if err := s.SetPasswordHash(ctx, "nobody", "h"); !errors.Is(err, shopauth.ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
