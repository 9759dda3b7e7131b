// Package postgres is a [shopauth.UserStore] on PostgreSQL through a pgx
// connection pool. The schema is managed by golang-migrate from embedded SQL;
// run [Migrate] (or `shopauth migrate up`) before serving.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/shopauth"
)

const uniqueViolation = "23505"

// Store implements shopauth.UserStore.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ shopauth.UserStore = (*Store)(nil)

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", shopauth.ErrStoreUnavailable, err)
	}
	return New(pool), nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const selectUser = `SELECT id, role, COALESCE(email, ''), COALESCE(phone, ''), name, profile_id, created_at FROM users`

func scanUser(row pgx.Row) (shopauth.User, error) {
	var (
		u    shopauth.User
		role string
	)
	err := row.Scan(&u.ID, &role, &u.Email, &u.Phone, &u.Name, &u.ProfileID, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return shopauth.User{}, shopauth.ErrUserNotFound
	}
	if err != nil {
		return shopauth.User{}, fmt.Errorf("%w: %v", shopauth.ErrStoreUnavailable, err)
	}
	u.Role = shopauth.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (shopauth.User, error) {
	return scanUser(s.pool.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
}

func (s *Store) FindByEmailOrPhone(ctx context.Context, emailOrPhone string) (shopauth.User, error) {
	key := shopauth.NormalizeIdentifier(emailOrPhone)
	if key == "" {
		return shopauth.User{}, shopauth.ErrUserNotFound
	}
	return scanUser(s.pool.QueryRow(ctx, selectUser+` WHERE email = $1 OR phone = $1 LIMIT 1`, key))
}

// Create inserts the user and optional credential in one transaction.
func (s *Store) Create(ctx context.Context, u shopauth.User, cred *shopauth.Credential) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", shopauth.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, role, email, phone, name, profile_id, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)`,
		u.ID, string(u.Role),
		shopauth.NormalizeIdentifier(u.Email), shopauth.NormalizeIdentifier(u.Phone),
		u.Name, u.ProfileID, u.CreatedAt)
	if err != nil {
		return mapWriteErr(err)
	}

	if cred != nil {
		updated := cred.UpdatedAt
		if updated.IsZero() {
			updated = s.now()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO credentials (user_id, password_hash, updated_at) VALUES ($1, $2, $3)`,
			u.ID, cred.PasswordHash, updated)
		if err != nil {
			return mapWriteErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *Store) Credential(ctx context.Context, userID string) (shopauth.Credential, error) {
	var c shopauth.Credential
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, password_hash, updated_at FROM credentials WHERE user_id = $1`, userID).
		Scan(&c.UserID, &c.PasswordHash, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return shopauth.Credential{}, shopauth.ErrUserNotFound
	}
	if err != nil {
		return shopauth.Credential{}, fmt.Errorf("%w: %v", shopauth.ErrStoreUnavailable, err)
	}
	return c, nil
}

// SetPasswordHash upserts the credential, so users created without a password
// gain one.
func (s *Store) SetPasswordHash(ctx context.Context, userID, hash string) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (user_id, password_hash, updated_at)
		 SELECT id, $2, $3 FROM users WHERE id = $1
		 ON CONFLICT (user_id) DO UPDATE SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at`,
		userID, hash, s.now())
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return shopauth.ErrUserNotFound
	}
	return nil
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return shopauth.ErrUserAlreadyExists
	}
	return fmt.Errorf("%w: %v", shopauth.ErrStoreUnavailable, err)
}
