// Package auth validates operator tokens presented to the API.
//
// Custody Core does not issue tokens. Operators authenticate against the
// surrounding clinic application, which mints short-lived HS256 JWTs;
// this package checks the signature, expiry, issuer and required claims
// so handlers can trust the actor identity they record in the ledger.
package auth
