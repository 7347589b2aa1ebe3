/*
Package cliparse handles configuration parsing for the archon daemon.

Configuration is resolved from CLI flags first, then environment variables
(a .env file is loaded when present), then defaults:

  - -p / ARCHON_PORT: server port (default 8311)
  - -db / ARCHON_DB_PATH: local store path (default ~/.hive/archon.db)
  - -rpc / ARCHON_NODE_RPC: lightning node RPC socket path
  - -coordinator / ARCHON_COORDINATOR_URL: coordinator base URL
  - -sync / ARCHON_SYNC_ENABLED: enable coordinator sync (default off)
  - -min-bond / ARCHON_MIN_BOND_SATS: governance bond threshold (default 50000)
  - -token / ARCHON_AUTH_TOKEN: optional coordinator bearer token

The resulting Config is an immutable value passed into every component
constructor; nothing reads configuration ambiently after startup.
*/
package cliparse
