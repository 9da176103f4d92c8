// Package identity authenticates wallet owners for the HTTP API.
//
// It provides:
//   - LoadOrCreateKey: loads or creates the RSA key that signs tokens
//   - ChallengeStore: issues one-time login challenges and verifies the
//     owner's Ethereum personal-sign signature over them
//   - TokenIssuer: issues and verifies RS256 JWT owner tokens
//   - RequireOwnerToken: Gin middleware enforcing Bearer owner tokens
package identity
