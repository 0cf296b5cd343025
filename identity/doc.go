// Package identity verifies assertions from an external identity provider
// (signed ID tokens) so the portal can log a principal in without a local
// password. Key discovery is left to the caller: keys are supplied by kid.
package identity
