// Package deploy orchestrates podcast deploys across destinations.
//
// A deploy resolves a destination's sealed config, regenerates the feed with
// the destination's public base URL, assembles the artifact set from the
// catalog and hands it to the protocol adapter. Every attempt is recorded in
// the run ledger, and one destination failing never stops the others.
// Deploys of the same podcast are serialized by an advisory file lock so two
// operators cannot interleave uploads.
package deploy
