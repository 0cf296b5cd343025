// Package jwt signs short-lived access tokens that carry the principal id,
// email, roles, scope and session id, and verifies them without any store
// lookup. Keys are parsed once when the Manager is built.
package jwt
