// Package session issues and verifies the signed tokens of the auth subsystem.
//
// Two token families share one claim shape but use distinct HS256 secrets:
//   - Access tokens carry the identity id ("uid") and expire after a short TTL.
//     Verification is stateless: signature + expiry, no store lookup.
//   - Refresh tokens carry "uid" and a random "jti" but no expiry claim; their
//     validity is governed solely by presence in the identity's refresh-token
//     registry. Redemption and revocation live in the API/store layers.
package session
