package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (creating if necessary) the local store at path with WAL
// journaling, a busy timeout so concurrent writers queue instead of
// erroring, and foreign keys enforced. The store file is restricted to
// owner read/write.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := "file:" + url.PathEscape(path) +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store ping failed: %w", err)
	}

	if err := os.Chmod(path, 0o600); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to restrict store permissions: %w", err)
	}

	return conn, nil
}

// CreateSchema creates all tables needed for the daemon.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const schema = `
-- Node identity (one row per node key; the key never changes)
CREATE TABLE IF NOT EXISTS identity (
    node_pubkey TEXT PRIMARY KEY,
    did TEXT NOT NULL,
    generation INTEGER NOT NULL DEFAULT 1,
    label TEXT NOT NULL DEFAULT '',
    tier TEXT NOT NULL DEFAULT 'basic' CHECK (tier IN ('basic', 'governance')),
    bond_sats INTEGER NOT NULL DEFAULT 0,
    bond_verified_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Identifier audit trail: superseded DIDs are kept, never deleted
CREATE TABLE IF NOT EXISTS did_history (
    did TEXT PRIMARY KEY,
    node_pubkey TEXT NOT NULL REFERENCES identity(node_pubkey),
    generation INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    superseded_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_did_history_node ON did_history(node_pubkey, generation);

-- Bindings are append-only; a newer binding of the same kind supersedes
-- older ones without overwriting them
CREATE TABLE IF NOT EXISTS binding (
    id TEXT PRIMARY KEY,
    did TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('nostr', 'cln')),
    subject TEXT NOT NULL,
    signature TEXT NOT NULL,
    signed_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_binding_did_kind ON binding(did, kind, created_at DESC);

-- Polls carry no status column: active vs closed is derived from deadline
CREATE TABLE IF NOT EXISTS poll (
    id TEXT PRIMARY KEY,
    poll_type TEXT NOT NULL,
    title TEXT NOT NULL,
    options_json TEXT NOT NULL,
    metadata_json TEXT NOT NULL DEFAULT '{}',
    created_by TEXT NOT NULL,
    deadline INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_poll_deadline ON poll(deadline);

-- One vote per (poll, node key); the constraint is the sybil anchor
CREATE TABLE IF NOT EXISTS vote (
    id TEXT PRIMARY KEY,
    poll_id TEXT NOT NULL REFERENCES poll(id) ON DELETE CASCADE,
    voter_pubkey TEXT NOT NULL,
    choice TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    signature TEXT NOT NULL,
    cast_at INTEGER NOT NULL,
    UNIQUE (poll_id, voter_pubkey)
);

CREATE INDEX IF NOT EXISTS idx_vote_voter ON vote(voter_pubkey, cast_at DESC);

-- Remote-sync work queue; delivered entries are deleted
CREATE TABLE IF NOT EXISTS outbox (
    id TEXT PRIMARY KEY,
    op_kind TEXT NOT NULL CHECK (op_kind IN ('identity-generate', 'poll-create', 'vote-sync')),
    payload TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    next_retry_at INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'abandoned')),
    last_error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(status, next_retry_at);
`
