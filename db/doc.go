/*
Package db handles opening the local SQLite store and creating its schema.

# Opening

Open configures the store for concurrent use: WAL journaling so readers
never block the single writer, a busy timeout so racing writers queue, and
owner-only file permissions. database/sql pools connections, which gives
each concurrent handler its own connection; no live transaction is ever
shared across callers.

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

# Tables

  - identity: the node's single identity row, keyed by its immutable pubkey
  - did_history: every identifier the node has ever held
  - binding: signed attestations linking the DID to external keys
  - poll: fleet decisions (status derived from deadline, never stored)
  - vote: one row per (poll, voter key), enforced by a UNIQUE constraint
  - outbox: pending remote-sync work

# Constraints

Correctness under concurrency relies on store-enforced constraints, not
application locks: two racing casts of the same vote resolve at the
UNIQUE(poll_id, voter_pubkey) index, with exactly one committing.
*/
package db
