// Package plan defines the distributable execution plan: an ordered list of
// task specs, its canonical JSON encoding, and the SHA-256 digest
// computed over that encoding.
//
// The canonical encoding sorts object keys at every level and carries no
// incidental whitespace, so the digest is a pure function of plan content.
package plan
