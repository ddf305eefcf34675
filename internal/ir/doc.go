// Package ir provides the canonical serialization and hashing primitives
// that give alerts a stable identity.
//
// Fingerprints and evidence hashes must be byte-identical across process
// restarts, replays, and backtests. That rules out encoding/json on maps
// (randomized key order) and ad-hoc fmt.Sprintf formatting. MarshalCanonical
// implements RFC 8785 canonical JSON: keys sorted by UTF-16 code units,
// NFC-normalized strings, no HTML escaping, shortest-round-trip numbers.
package ir
