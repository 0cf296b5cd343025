// Package permission resolves what a principal may do.
//
// Capabilities are "resource:action" names registered in a [Registry] and
// packed into a fixed 256-bit [Set]. A [RoleTable] binds each portal role to
// a Set; both are usually compiled from a TOML [Policy]. An [Evaluator]
// applies deny, then role grants, then allowExtra.
//
// [Cache] keeps one resolved [Entry] per principal in Redis with a TTL longer
// than the access-token lifetime. A missing entry means "no session": the
// gate fails closed, and the client refreshes to rebuild it.
package permission
