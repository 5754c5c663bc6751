// Package identity owns user records and their refresh-token registry.
//
// The registry is a set of refresh-token hashes stored on the user row; the
// plain refresh token is never stored. All registry mutations are atomic at
// the store so concurrent requests for the same user cannot lose updates.
package identity
