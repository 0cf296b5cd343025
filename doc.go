// Package portalauth is the session and access-control engine of the
// institutional portal: password, one-time-code and federated login,
// rotating refresh sessions, and capability checks backed by a per-principal
// permission cache.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// portalauth is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy and value types ([Result], [Identity], [SessionInfo]).
// Storage lives in sub-packages: principal (document store), session (Redis
// or MongoDB), permission and otp (Redis). Rate limiting and audit dispatch
// live under internal/.
//
// # What this package must NOT do
//
//   - Fall back to "allowed" when the permission cache cannot be read.
//   - Read the principal store from the authorization gate.
//   - Return refresh secrets anywhere except a login or refresh [Result].
//   - Import any sub-package that re-imports portalauth.
//
// # Performance contract
//
// Authorize is the hot path: one signature check and one cache read. Login
// and Refresh touch the principal store once and Redis a few times.
package portalauth
