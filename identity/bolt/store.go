// Package bolt is a single-file [shopauth.UserStore] on bbolt. Users are JSON
// records keyed by id; the email and phone buckets index them.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/storefront/shopauth"
)

var (
	bucketUsers       = []byte("users")
	bucketEmails      = []byte("emails")
	bucketPhones      = []byte("phones")
	bucketCredentials = []byte("credentials")
)

type userRecord struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Name      string    `json:"name,omitempty"`
	ProfileID string    `json:"profile_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type credentialRecord struct {
	PasswordHash string    `json:"password_hash"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store implements shopauth.UserStore.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ shopauth.UserStore = (*Store)(nil)

// New wraps db and creates the buckets.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketEmails, bucketPhones, bucketCredentials} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Open opens (or creates) the database file at path.
func Open(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindByID(_ context.Context, id string) (shopauth.User, error) {
	var u shopauth.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		u, err = getUser(tx, id)
		return err
	})
	return u, wrap(err)
}

func (s *Store) FindByEmailOrPhone(_ context.Context, emailOrPhone string) (shopauth.User, error) {
	key := []byte(shopauth.NormalizeIdentifier(emailOrPhone))
	if len(key) == 0 {
		return shopauth.User{}, shopauth.ErrUserNotFound
	}
	var u shopauth.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketEmails).Get(key)
		if id == nil {
			id = tx.Bucket(bucketPhones).Get(key)
		}
		if id == nil {
			return shopauth.ErrUserNotFound
		}
		var err error
		u, err = getUser(tx, string(id))
		return err
	})
	return u, wrap(err)
}

func (s *Store) Create(_ context.Context, u shopauth.User, cred *shopauth.Credential) error {
	rec := userRecord{
		ID:        u.ID,
		Role:      string(u.Role),
		Email:     shopauth.NormalizeIdentifier(u.Email),
		Phone:     shopauth.NormalizeIdentifier(u.Phone),
		Name:      u.Name,
		ProfileID: u.ProfileID,
		CreatedAt: u.CreatedAt.UTC(),
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		emails := tx.Bucket(bucketEmails)
		phones := tx.Bucket(bucketPhones)

		if users.Get([]byte(rec.ID)) != nil {
			return shopauth.ErrUserAlreadyExists
		}
		if rec.Email != "" && emails.Get([]byte(rec.Email)) != nil {
			return shopauth.ErrUserAlreadyExists
		}
		if rec.Phone != "" && phones.Get([]byte(rec.Phone)) != nil {
			return shopauth.ErrUserAlreadyExists
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := users.Put([]byte(rec.ID), data); err != nil {
			return err
		}
		if rec.Email != "" {
			if err := emails.Put([]byte(rec.Email), []byte(rec.ID)); err != nil {
				return err
			}
		}
		if rec.Phone != "" {
			if err := phones.Put([]byte(rec.Phone), []byte(rec.ID)); err != nil {
				return err
			}
		}
		if cred != nil {
			return putCredential(tx, rec.ID, cred.PasswordHash, cred.UpdatedAt)
		}
		return nil
	})
	return wrap(err)
}

func (s *Store) Credential(_ context.Context, userID string) (shopauth.Credential, error) {
	var c shopauth.Credential
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get([]byte(userID))
		if data == nil {
			return shopauth.ErrUserNotFound
		}
		var rec credentialRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		c = shopauth.Credential{UserID: userID, PasswordHash: rec.PasswordHash, UpdatedAt: rec.UpdatedAt}
		return nil
	})
	return c, wrap(err)
}

func (s *Store) SetPasswordHash(_ context.Context, userID, hash string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketUsers).Get([]byte(userID)) == nil {
			return shopauth.ErrUserNotFound
		}
		return putCredential(tx, userID, hash, s.now())
	})
	return wrap(err)
}

func getUser(tx *bbolt.Tx, id string) (shopauth.User, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return shopauth.User{}, shopauth.ErrUserNotFound
	}
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return shopauth.User{}, err
	}
	return shopauth.User{
		ID:        rec.ID,
		Role:      shopauth.Role(rec.Role),
		Email:     rec.Email,
		Phone:     rec.Phone,
		Name:      rec.Name,
		ProfileID: rec.ProfileID,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func putCredential(tx *bbolt.Tx, userID, hash string, updated time.Time) error {
	data, err := json.Marshal(credentialRecord{PasswordHash: hash, UpdatedAt: updated.UTC()})
	if err != nil {
		return err
	}
	return tx.Bucket(bucketCredentials).Put([]byte(userID), data)
}

func wrap(err error) error {
	switch err {
	case nil, shopauth.ErrUserNotFound, shopauth.ErrUserAlreadyExists:
		return err
	default:
		return fmt.Errorf("%w: %v", shopauth.ErrStoreUnavailable, err)
	}
}
