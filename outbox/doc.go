/*
Package outbox is the reliable delivery subsystem syncing local state to
an optional remote coordinator.

# Guarantees

Local state is always authoritative. Enqueue runs inside the same store
transaction as the mutation it mirrors, and when sync is disabled it is a
no-op. Delivery is strictly best-effort: a dead coordinator never blocks,
fails, or rolls back a local commit.

# Delivery

Drain walks pending entries oldest-eligible-first. Each entry is an
explicit retry state machine persisted in the store: failure increments
the attempt count and pushes next_retry_at out with exponential backoff
and jitter; after ten attempts the entry is parked as abandoned for
operator inspection (ReviveAbandoned resets it). Success deletes the
entry. Consecutive failures trip a circuit breaker that suspends the rest
of the drain until a cool-down passes.

# Egress Safety

The Client resolves the coordinator host before connecting and refuses
delivery if any resolved address is loopback, private, link-local, CGNAT,
multicast, or unspecified; the eventual dial is pinned to the vetted
address. DNS errors are treated as delivery failure, never bypassed. An
optional bearer token is attached to every call.
*/
package outbox
