// Package destination models publish targets and their sealed connection
// settings.
//
// A Destination row stores the podcast it belongs to, its protocol mode,
// display fields and a vault-sealed blob holding the mode-specific Config.
// Configs form a tagged union: each mode has its own struct, validated with
// struct tags plus a few cross-field rules, and encoded as a JSON envelope
// before sealing. Manager is the only code path that seals or opens blobs,
// and it refuses to change a destination's mode after creation.
package destination
