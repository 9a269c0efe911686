// Package rate provides the fixed-window rate limiter used by the login,
// registration, and MFA verification gates.
//
// # Window semantics
//
// Fixed-window counters: the first hit on a key starts the window and sets its
// expiry; every later hit in the window only increments. Increment and expiry
// happen in one atomic step per key (a Lua script on Redis, a mutex in
// memory), so concurrent attempts never lose updates.
//
// Keys are laid out as <prefix>:<scope>:<identity>, for example arl:li:203.0.113.7.
package rate
