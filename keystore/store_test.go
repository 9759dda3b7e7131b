package keystore

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newKeyStoreTest(t *testing.T, cfg Config) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewStore(rdb, cfg), mr, rdb
}

func testKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _, _ := newKeyStoreTest(t, Config{Prefix: "ks"})
	ctx := context.Background()
	pub, priv := testKeyPair(t)

	if _, err := store.Put(ctx, "u-1", pub, priv, "r0"); err != nil {
		t.Fatalf("put: %v", err)
	}

	sess, err := store.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(sess.PublicKey, pub) {
		t.Fatal("public key mismatch")
	}
	if !bytes.Equal(sess.PrivateKey(), priv) {
		t.Fatal("private key mismatch")
	}
	if sess.CurrentRefreshHash != HashToken("r0") {
		t.Fatalf("unexpected current hash %q", sess.CurrentRefreshHash)
	}
	if len(sess.Superseded) != 0 {
		t.Fatalf("expected empty superseded list, got %v", sess.Superseded)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, _, _ := newKeyStoreTest(t, Config{})
	if _, err := store.Get(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.PublicKey(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from PublicKey, got %v", err)
	}
}

func TestRefreshTokensStoredAsDigests(t *testing.T) {
	store, _, rdb := newKeyStoreTest(t, Config{Prefix: "ks"})
	ctx := context.Background()
	pub, priv := testKeyPair(t)

	if _, err := store.Put(ctx, "u-1", pub, priv, "raw-refresh-token"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.CompareAndRotate(ctx, "u-1", "raw-refresh-token", "raw-next"); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	fields, err := rdb.HGetAll(ctx, "ks:u-1").Result()
	if err != nil {
		t.Fatalf("hgetall: %v", err)
	}
	list, err := rdb.LRange(ctx, "ks:u-1:superseded", 0, -1).Result()
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	for _, v := range append(list, fields["cur"]) {
		if v == "raw-refresh-token" || v == "raw-next" {
			t.Fatalf("raw refresh token persisted: %q", v)
		}
	}
}

func TestCompareAndRotate(t *testing.T) {
	store, _, _ := newKeyStoreTest(t, Config{})
	ctx := context.Background()
	pub, priv := testKeyPair(t)

	if _, err := store.Put(ctx, "u-1", pub, priv, "r0"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.CompareAndRotate(ctx, "u-1", "r0", "r1"); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	sess, err := store.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.CurrentRefreshHash != HashToken("r1") {
		t.Fatal("current token not advanced")
	}
	if len(sess.Superseded) != 1 || sess.Superseded[0] != HashToken("r0") {
		t.Fatalf("unexpected superseded list %v", sess.Superseded)
	}

	ok, err := store.WasSuperseded(ctx, "u-1", "r0")
	if err != nil || !ok {
		t.Fatalf("expected r0 superseded, got %v %v", ok, err)
	}
	ok, err = store.WasSuperseded(ctx, "u-1", "r1")
	if err != nil || ok {
		t.Fatalf("expected r1 not superseded, got %v %v", ok, err)
	}
}

func TestCompareAndRotateMismatchLeavesStateUntouched(t *testing.T) {
	store, _, _ := newKeyStoreTest(t, Config{})
	ctx := context.Background()
	pub, priv := testKeyPair(t)

	if _, err := store.Put(ctx, "u-1", pub, priv, "r0"); err != nil {
		t.Fatalf("put: %v", err)
	}
	before, _ := store.Get(ctx, "u-1")

	if err := store.CompareAndRotate(ctx, "u-1", "forged", "r1"); !errors.Is(err, ErrRefreshMismatch) {
		t.Fatalf("expected ErrRefreshMismatch, got %v", err)
	}

	after, err := store.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.CurrentRefreshHash != before.CurrentRefreshHash || len(after.Superseded) != 0 {
		t.Fatal("mismatch mutated the session")
	}

	if err := store.CompareAndRotate(ctx, "missing", "r0", "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSupersededListTrimmedToBound(t *testing.T) {
	store, _, _ := newKeyStoreTest(t, Config{SupersededLimit: 3})
	ctx := context.Background()
	pub, priv := testKeyPair(t)

	if _, err := store.Put(ctx, "u-1", pub, priv, "r0"); err != nil {
		t.Fatalf("put: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := store.CompareAndRotate(ctx, "u-1", fmt.Sprintf("r%d", i), fmt.Sprintf("r%d", i+1)); err != nil {
			t.Fatalf("rotate %d: %v", i, err)
		}
	}

	sess, err := store.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := []string{HashToken("r5"), HashToken("r4"), HashToken("r3")}
	if len(sess.Superseded) != len(want) {
		t.Fatalf("expected %d superseded, got %d", len(want), len(sess.Superseded))
	}
	for i := range want {
		if sess.Superseded[i] != want[i] {
			t.Fatalf("superseded[%d] out of order", i)
		}
	}

	ok, _ := store.WasSuperseded(ctx, "u-1", "r0")
	if ok {
		t.Fatal("expected oldest token to fall off the list")
	}
}

func TestPutReplacesLineage(t *testing.T) {
	store, _, _ := newKeyStoreTest(t, Config{})
	ctx := context.Background()
	pub, priv := testKeyPair(t)

	if _, err := store.Put(ctx, "u-1", pub, priv, "a0"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.CompareAndRotate(ctx, "u-1", "a0", "a1"); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	pub2, priv2 := testKeyPair(t)
	if _, err := store.Put(ctx, "u-1", pub2, priv2, "b0"); err != nil {
		t.Fatalf("second put: %v", err)
	}

	if err := store.CompareAndRotate(ctx, "u-1", "a1", "x"); !errors.Is(err, ErrRefreshMismatch) {
		t.Fatalf("old lineage token must not rotate, got %v", err)
	}
	for _, tok := range []string{"a0", "a1"} {
		ok, err := store.WasSuperseded(ctx, "u-1", tok)
		if err != nil {
			t.Fatalf("was superseded: %v", err)
		}
		if ok {
			t.Fatalf("%s should not be recorded after put", tok)
		}
	}

	got, err := store.PublicKey(ctx, "u-1")
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if !bytes.Equal(got, pub2) {
		t.Fatal("public key not replaced")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	store, _, rdb := newKeyStoreTest(t, Config{Prefix: "ks"})
	ctx := context.Background()
	pub, priv := testKeyPair(t)

	if _, err := store.Put(ctx, "u-1", pub, priv, "r0"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.CompareAndRotate(ctx, "u-1", "r0", "r1"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := store.Remove(ctx, "u-1"); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := store.Remove(ctx, "u-1"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if n := rdb.Exists(ctx, "ks:u-1", "ks:u-1:superseded").Val(); n != 0 {
		t.Fatalf("expected keys removed, %d remain", n)
	}
	if _, err := store.Get(ctx, "u-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestRecordTTLRenewedOnRotate(t *testing.T) {
	store, mr, _ := newKeyStoreTest(t, Config{Prefix: "ks", TTL: time.Hour})
	ctx := context.Background()
	pub, priv := testKeyPair(t)

	if _, err := store.Put(ctx, "u-1", pub, priv, "r0"); err != nil {
		t.Fatalf("put: %v", err)
	}
	mr.FastForward(50 * time.Minute)
	if err := store.CompareAndRotate(ctx, "u-1", "r0", "r1"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if ttl := mr.TTL("ks:u-1"); ttl != time.Hour {
		t.Fatalf("expected ttl renewed to 1h, got %v", ttl)
	}
	if ttl := mr.TTL("ks:u-1:superseded"); ttl != time.Hour {
		t.Fatalf("expected superseded ttl 1h, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, "u-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session to disappear, got %v", err)
	}
}

func TestCompareAndRotateSingleWinner(t *testing.T) {
	store, _, _ := newKeyStoreTest(t, Config{})
	ctx := context.Background()
	pub, priv := testKeyPair(t)

	if _, err := store.Put(ctx, "u-1", pub, priv, "r0"); err != nil {
		t.Fatalf("put: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- store.CompareAndRotate(ctx, "u-1", "r0", fmt.Sprintf("next-%d", i))
		}(i)
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrRefreshMismatch) {
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestStoreUnavailableWrapped(t *testing.T) {
	store, mr, _ := newKeyStoreTest(t, Config{})
	mr.Close()

	ctx := context.Background()
	if _, err := store.Get(ctx, "u-1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Get, got %v", err)
	}
	if err := store.CompareAndRotate(ctx, "u-1", "a", "b"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from rotate, got %v", err)
	}
	if err := store.Remove(ctx, "u-1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Remove, got %v", err)
	}
}

func TestSessionLogValueOmitsKeys(t *testing.T) {
	_, priv := testKeyPair(t)
	sess := &Session{UserID: "u-1", privateKey: priv}
	out := sess.LogValue().String()
	if bytes.Contains([]byte(out), priv) {
		t.Fatal("private key leaked into log value")
	}
}
