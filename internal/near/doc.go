// Package near provides the chain access layer used by the swap pipeline:
// a rate limited JSON-RPC client, ed25519 key handling, borsh transaction
// encoding, amount conversion helpers and YAML network definitions.
package near
