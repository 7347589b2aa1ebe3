// Package testutil provides shared test helpers: a temp-dir SQLite
// store with the full schema, canned configs, direct-insert fixtures
// for identities, polls, votes, and outbox entries, and small HTTP
// assertion helpers.
package testutil
