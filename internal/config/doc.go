// Package config loads, normalizes, and validates castdeploy configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CASTDEPLOY_VAULT_KEY. The Config type centralizes every knob the CLI and the
// deploy engine need, so the database location, feed cache, catalog root,
// vault key material, and transfer timeouts are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
