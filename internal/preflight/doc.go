// Package preflight provides readiness checks for the local state castdeploy
// depends on: its directories, the vault key and the ledger database.
//
// The CLI "castdeploy doctor" command runs RunAll and renders the results.
// Remote destinations are not contacted here; "destination test" covers them.
package preflight
