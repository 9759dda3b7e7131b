// Package password hashes and verifies credentials with argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports hashes produced with weaker parameters than the
// current configuration.
//
// # Policy
//
// [Hasher.CheckPolicy] enforces the configured byte-length bounds. The default
// minimum only rejects empty passwords; deployments raise it through Config.
//
// # What this package must NOT do
//
//   - Store or retrieve credentials. Callers supply plaintext and receive hashes.
//   - Import any other shopauth package.
//   - Log plaintext passwords.
package password
