// Package httpapi serves the portal's authentication endpoints over
// net/http on top of a portalauth Engine.
//
// Every successful login or refresh answers {accessToken, expiresAt} and
// sets the refresh credential as an HttpOnly, Secure, SameSite=Strict
// cookie scoped to the auth path. Failures answer {"error": "<code>"} with
// the codes returned by portalauth.ErrCode.
package httpapi
