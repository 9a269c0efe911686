// Package jwt issues and verifies the bearer tokens handed out after a
// completed login. Tokens are stateless: there is no revocation list, and a
// token stays valid until its exp claim (plus the configured leeway).
package jwt
