// Package session persists refresh sessions for the portal.
//
// A session is created at login and identified by a random id; the client
// holds "<id>.<secret>" and the store keeps only SHA-256 of the secret.
// Sessions are revoked, never deleted: rotation revokes the presented record
// with reason "rotated" and links it to its successor, so a replayed secret
// can be traced to the live tip of its lineage.
//
// Two stores are provided: [RedisStore] (hashes plus a per-principal index,
// atomic rotation in Lua) and [MongoStore] (documents, rotation via a
// conditional update). Both satisfy the same method set.
//
// This package does not issue access tokens or evaluate permissions.
package session
