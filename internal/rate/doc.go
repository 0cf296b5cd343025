// Package rate provides the Redis-backed fixed-window counters that throttle
// failed logins and one-time-code sends.
//
// A window opens on the first hit: one Lua script does INCR and, when the
// count is 1, PEXPIRE. Key prefixes:
//   - "al:" failed logins per identifier
//   - "ali:" failed logins per client IP
//   - "acs:" code sends per identifier
//
// The package only counts. What a throttled request returns to the client
// is decided by the engine.
package rate
