package keystore

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no session record exists for the user.
	ErrNotFound = errors.New("session not found")
	// ErrRefreshMismatch is returned when the presented refresh token is not the current one.
	ErrRefreshMismatch = errors.New("refresh token mismatch")
	// ErrStoreUnavailable wraps Redis transport failures.
	ErrStoreUnavailable = errors.New("key store unavailable")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("session record corrupt")
)

const (
	fieldPublicKey  = "pub"
	fieldPrivateKey = "priv"
	fieldCurrent    = "cur"
	fieldCreatedAt  = "ca"
	fieldUpdatedAt  = "ua"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRotated  int64 = 1
	rotateStatusMismatch int64 = 2
)

const rotateRefreshScript = `
local current = redis.call("HGET", KEYS[1], "cur")
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 2
end

redis.call("HSET", KEYS[1], "cur", ARGV[2], "ua", ARGV[3])
redis.call("LPUSH", KEYS[2], current)
redis.call("LTRIM", KEYS[2], 0, tonumber(ARGV[4]) - 1)

local ttl = tonumber(ARGV[5])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// Config controls key layout, the superseded bound, and record lifetime.
type Config struct {
	Prefix          string
	SupersededLimit int
	// TTL is applied on Put and renewed on every rotation. Zero keeps records forever.
	TTL time.Duration
	// Sealer encrypts private keys at rest. Nil stores raw key bytes.
	Sealer Sealer
	Now    func() time.Time
}

// Store is the Redis-backed key store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	limit  int
	ttl    time.Duration
	sealer Sealer
	now    func() time.Time
}

// NewStore creates a [Store] over the given Redis client.
func NewStore(client redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "ks"
	}
	if cfg.SupersededLimit <= 0 {
		cfg.SupersededLimit = DefaultSupersededLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		redis:  client,
		prefix: cfg.Prefix,
		limit:  cfg.SupersededLimit,
		ttl:    cfg.TTL,
		sealer: cfg.Sealer,
		now:    cfg.Now,
	}
}

func (s *Store) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *Store) supersededKey(userID string) string {
	return s.prefix + ":" + userID + ":superseded"
}

// Put creates or fully replaces the session of userID. The superseded list is
// cleared: tokens of the replaced session belong to a destroyed lineage.
func (s *Store) Put(
	ctx context.Context,
	userID string,
	publicKey ed25519.PublicKey,
	privateKey ed25519.PrivateKey,
	refreshToken string,
) (*Session, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	if len(publicKey) != ed25519.PublicKeySize || len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 key pair")
	}

	storedPrivate := []byte(privateKey)
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(userID, privateKey)
		if err != nil {
			return nil, err
		}
		storedPrivate = sealed
	}

	now := s.now()
	sess := &Session{
		UserID:             userID,
		PublicKey:          append(ed25519.PublicKey(nil), publicKey...),
		CurrentRefreshHash: HashToken(refreshToken),
		Superseded:         []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
		privateKey:         append(ed25519.PrivateKey(nil), privateKey...),
	}

	key := s.key(userID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key, s.supersededKey(userID))
		pipe.HSet(ctx, key,
			fieldPublicKey, base64.RawStdEncoding.EncodeToString(publicKey),
			fieldPrivateKey, base64.RawStdEncoding.EncodeToString(storedPrivate),
			fieldCurrent, sess.CurrentRefreshHash,
			fieldCreatedAt, strconv.FormatInt(now.UnixMilli(), 10),
			fieldUpdatedAt, strconv.FormatInt(now.UnixMilli(), 10),
		)
		if s.ttl > 0 {
			pipe.PExpire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return sess, nil
}

// Get returns the session of userID or [ErrNotFound].
func (s *Store) Get(ctx context.Context, userID string) (*Session, error) {
	var (
		fieldsCmd *redis.MapStringStringCmd
		listCmd   *redis.StringSliceCmd
	)
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fieldsCmd = pipe.HGetAll(ctx, s.key(userID))
		listCmd = pipe.LRange(ctx, s.supersededKey(userID), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	sess, err := s.decode(userID, fields)
	if err != nil {
		return nil, err
	}
	sess.Superseded = listCmd.Val()
	return sess, nil
}

// PublicKey returns only the verification key of userID's session.
func (s *Store) PublicKey(ctx context.Context, userID string) (ed25519.PublicKey, error) {
	raw, err := s.redis.HGet(ctx, s.key(userID), fieldPublicKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	pub, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, ErrCorrupt
	}
	return ed25519.PublicKey(pub), nil
}

// CompareAndRotate atomically replaces the current refresh token of userID with
// next when presented is the current token, and records presented as superseded.
// It returns [ErrRefreshMismatch] or [ErrNotFound] without mutating anything otherwise.
func (s *Store) CompareAndRotate(ctx context.Context, userID, presented, next string) error {
	ttlMillis := int64(0)
	if s.ttl > 0 {
		ttlMillis = s.ttl.Milliseconds()
	}

	code, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(userID), s.supersededKey(userID)},
		HashToken(presented),
		HashToken(next),
		s.now().UnixMilli(),
		s.limit,
		ttlMillis,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch code {
	case rotateStatusRotated:
		return nil
	case rotateStatusMismatch:
		return ErrRefreshMismatch
	case rotateStatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: unknown rotate status %d", ErrStoreUnavailable, code)
	}
}

// WasSuperseded reports whether token is one of the recently rotated-away refresh
// tokens of userID.
func (s *Store) WasSuperseded(ctx context.Context, userID, token string) (bool, error) {
	digests, err := s.redis.LRange(ctx, s.supersededKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	want := []byte(HashToken(token))
	found := false
	for _, d := range digests {
		if subtle.ConstantTimeCompare([]byte(d), want) == 1 {
			found = true
		}
	}
	return found, nil
}

// Remove deletes the session of userID. Removing a missing session is not an error.
func (s *Store) Remove(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID), s.supersededKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) decode(userID string, fields map[string]string) (*Session, error) {
	pub, err := base64.RawStdEncoding.DecodeString(fields[fieldPublicKey])
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, ErrCorrupt
	}

	priv, err := base64.RawStdEncoding.DecodeString(fields[fieldPrivateKey])
	if err != nil {
		return nil, ErrCorrupt
	}
	if s.sealer != nil {
		priv, err = s.sealer.Open(userID, priv)
		if err != nil {
			return nil, err
		}
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrCorrupt
	}

	createdAt, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, ErrCorrupt
	}
	updatedAt, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64)
	if err != nil {
		return nil, ErrCorrupt
	}

	return &Session{
		UserID:             userID,
		PublicKey:          ed25519.PublicKey(pub),
		CurrentRefreshHash: fields[fieldCurrent],
		CreatedAt:          time.UnixMilli(createdAt),
		UpdatedAt:          time.UnixMilli(updatedAt),
		privateKey:         ed25519.PrivateKey(priv),
	}, nil
}
