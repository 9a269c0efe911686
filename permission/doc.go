// Package permission maps AgriVision roles to permission sets.
//
// [NewPolicy] gives each permission name a bit in a 64-bit [Set] and
// composes one Set per role. The top bit is root: a role holding it passes
// every check on a known permission. A Policy is immutable once built and
// safe for concurrent reads.
//
// The package does no I/O and must not import agriauth or jwt.
package permission
