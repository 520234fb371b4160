// Package auth issues and verifies the bearer tokens that guard the
// daemon's HTTP API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. Two roles exist:
// a viewer may read status, diagnostics and history; an operator may also
// issue lifecycle commands and change the configuration.
package auth
