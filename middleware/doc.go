// Package middleware adapts the portalauth authorization gate to net/http.
//
// # Guards
//
//   - [RequireCapability] is the Required gate: the request proceeds only
//     when the bearer token passes and the principal holds the capability.
//   - [Authenticated] is RequireCapability with no capability check.
//   - [IdentifyIfPresent] is the Soft gate: the identity is attached when
//     the bearer passes, and the request proceeds either way.
//
// Guards read the Authorization header, delegate the decision to an
// [Authorizer] (normally *portalauth.Engine) and attach the resulting
// identity with portalauth.WithIdentity. Rejections are written with
// [WriteError] as {"error": "<code>"}.
//
// This package never parses tokens or touches Redis itself.
package middleware
