// Package db embeds the checkout service schema.
package db

import _ "embed"

// Schema creates the payment attempt log and the idempotency ledger. Every
// statement is idempotent so it can run on each start.
//
//go:embed migrations/001_schema.sql
var Schema string
