// Package ledger is the append-only record of deploy runs.
//
// A run is inserted as running before any adapter I/O and moved exactly once
// to success or failed. Attempts that fail before an adapter is chosen, such
// as an unreadable sealed config, are inserted directly as failed. Runs left
// running by a crashed process are closed by ReconcileStale.
package ledger
