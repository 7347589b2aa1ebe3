/*
Package main provides the entry point for the archon identity and
governance service.

Archon gives a Lightning node a stable, verifiable identity (a
content-addressed DID derived from the node pubkey), lets it bind
external keys to that identity, gates governance participation on a
verified on-chain bond, and runs the local side of hive polling:
creating polls, casting signed votes, and tallying results. Writes are
mirrored to an optional coordinator through a persistent outbox.

# Starting the Service

The service is configured through environment variables or CLI flags:

	ARCHON_NODE_RPC=/run/lightning/lightning-rpc go run main.go

Or with flags:

	go run main.go -p 8311 -db ~/.hive/archon.db -rpc /run/lightning/lightning-rpc

# Configuration

Optional settings:

  - ARCHON_PORT (-p): Server port (default: 8311)
  - ARCHON_DB_PATH (-db): SQLite database path (default: ~/.hive/archon.db)
  - ARCHON_NODE_RPC (-rpc): Lightning node JSON-RPC unix socket
  - ARCHON_COORDINATOR_URL (-coordinator): Coordinator base URL for sync
  - ARCHON_SYNC_ENABLED (-sync): Mirror writes to the coordinator
  - ARCHON_MIN_BOND_SATS (-min-bond): Bond threshold for governance tier
  - ARCHON_AUTH_TOKEN (-token): Bearer token sent on outbox deliveries

# Architecture

The service uses a handler-based architecture with dependency injection:

  - handlers: HTTP request handlers (identity, polls, outbox)
  - router: Route definitions using Go 1.22+ routing
  - middleware: Logging, JSON helpers
  - models: Domain and request/response types
  - identity: DID derivation, provisioning, key bindings
  - governance: Tier upgrades gated on bond verification
  - polls: Poll lifecycle, vote casting, tallies, pruning
  - outbox: Durable coordinator delivery with backoff and a breaker
  - signer: Message signing and verification
  - lightning: JSON-RPC client for the node (HSM signing, funds)
  - db: Schema creation
  - cliparse: Configuration parsing

See package documentation for each component.
*/
package main
