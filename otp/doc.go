// Package otp issues and verifies short numeric one-time codes.
//
// Entries live in Redis as a hash under otp:{channel}:{identifier}:{purpose}
// holding the SHA-256 of the code, the attempt counter, the ceiling and the
// issue time. Expiry is the key TTL. Verification runs as a single Lua
// script, so concurrent guesses cannot exceed the ceiling.
package otp
