// Package kvfinder speaks the KVFinder-web HTTP API.
//
// The client covers the four endpoints the service exposes: job creation,
// status retrieval, best-effort cancellation, and a liveness probe. Responses
// are classified into the shared sentinel taxonomy so callers can decide
// between retrying and giving up without inspecting status codes themselves.
package kvfinder
