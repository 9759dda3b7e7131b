// Package identity groups the [shopauth.UserStore] implementations:
//
//   - memory: mutex-guarded maps for tests and local development.
//   - postgres: pgx connection pool with golang-migrate managed schema.
//   - bolt: single-file bbolt database with email and phone index buckets.
//
// Every implementation normalizes emails and phone numbers with
// [shopauth.NormalizeIdentifier] and enforces their uniqueness.
package identity
