// Package internal contains helpers private to portalauth: random session
// ids, refresh secrets, numeric codes and the opaque client credential
// encoding.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - rate: Redis fixed-window counters for login and code-send throttling
//
// # What this package must NOT do
//
//   - Export types that appear in the public portalauth API.
//   - Log or persist raw refresh secrets.
package internal
