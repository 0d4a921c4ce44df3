// Package credential issues and verifies the signed login credential a session
// presents when it starts.
//
// The credential is a JWT carrying the login user (usr), the database (db) and
// the superuser flag (su). Hosts use the su claim to answer privilege checks
// without a catalog round trip. HS256 and Ed25519 are supported; Ed25519 keys
// may be raw bytes or PEM.
package credential
