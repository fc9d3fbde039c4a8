// Package jwt issues and verifies HS256 session tokens.
//
// Every token carries sub, type (access or refresh), iat, exp and a random
// jti. Verification is typed: a refresh token is rejected where an access
// token is expected and vice versa. The Manager keeps no server-side state;
// revocation, when required, is layered on top by the Engine using the jti.
package jwt
