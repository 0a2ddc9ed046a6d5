// Package main hosts the castdeploy operator CLI.
//
// The Cobra command tree manages destinations and vault keys, triggers
// deploys for a single destination or a whole podcast, and inspects the run
// ledger. Configuration is resolved once per invocation; commands that touch
// the database open it through commandContext.withRuntime so every
// collaborator is wired the same way.
//
// Keep this package thin: behavior belongs in the internal packages, and
// commands only parse flags and render results.
package main
