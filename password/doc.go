// Package password implements password hashing and verification.
//
// # Output formats
//
// [Bcrypt] produces standard $2a$/$2b$ strings. [Argon2] produces PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// [New] builds the engine's hasher from [Params]: it hashes with the
// configured algorithm and verifies either format by prefix, so a deployment
// can switch algorithms without invalidating stored hashes.
// NeedsRehash reports hashes that should be upgraded on the next successful
// login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length
// bounds) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other agriauth package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
