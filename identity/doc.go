/*
Package identity derives the node's decentralized identifier and manages
the attestations binding it to external keyspaces.

# Derivation

The identifier is content-addressed and self-certifying: a sha2-256
multihash of the node's compressed public key wrapped as a CIDv1 and
rendered in lower-case base32 multibase, prefixed did:cid:. No registry is
involved; any peer can recompute the DID from the public key and confirm
the correspondence.

# Reprovisioning

The node key is immutable. Reprovisioning derives a new identifier
generation; every prior identifier is marked superseded in did_history and
stays resolvable, giving an audit trail rather than a mutation.

# Bindings

Bind validates the external key against a closed per-kind table (nostr:
64-char hex; cln: 66-char compressed secp256k1 key), has the signing
oracle sign the canonical attestation payload, and appends the binding.
Bindings are never overwritten; the newest of a kind supersedes.
*/
package identity
