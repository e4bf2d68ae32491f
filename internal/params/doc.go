// Package params builds validated, canonical job requests for the remote
// cavity-detection service.
//
// Build is a pure transformation: detection parameters plus a molecular
// structure go in, a canonical JSON payload and its SHA-256 fingerprint come
// out. Identical inputs always produce byte-identical payloads, which the
// service relies on to derive deterministic job ids. All range and consistency
// checks happen here, before any network call.
package params
