// Package store opens the castdeploy SQLite database and applies its schema.
//
// Destinations and deploy runs share one database file. Open applies pragmas
// (WAL, foreign keys, busy timeout) and the embedded migrations in lexical
// order, recording each applied version in schema_migrations. The package
// also owns the timestamp and nullable-column encodings every repository uses
// so rows written by one package parse cleanly in another.
package store
