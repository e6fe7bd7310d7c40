// Package stores provides the installed-package ledger for sl-pkg.
// It is a SQLite database in WAL mode holding one row per installed
// package plus an append-only history of lifecycle operations. Every
// statement commits on its own; no transaction spans a batch.
package stores
