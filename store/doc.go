// Package store groups the [agriauth.AccountStore] implementations.
//
//   - store/memory keeps accounts in process, for tests and single-node demos.
//   - store/redisstore keeps accounts as JSON in Redis with an email index.
//   - store/postgres keeps accounts in PostgreSQL and also provides an
//     append-only audit sink.
//
// Every implementation expects normalized (trimmed, lower-case) emails,
// returns [agriauth.ErrAccountExists] on a duplicate email and
// [agriauth.ErrAccountNotFound] when a lookup misses.
package store
