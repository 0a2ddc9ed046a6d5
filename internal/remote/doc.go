// Package remote implements the per-protocol adapters that carry podcast
// artifacts to a destination, plus the registry that runs the shared test
// and deploy loops over them.
//
// Every adapter exposes the contentsync.Store primitives through a Session,
// so the content diff stays protocol agnostic. Connections are bounded by the
// configured connect and I/O timeouts and torn down when the caller's context
// ends.
package remote
