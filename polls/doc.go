/*
Package polls owns the poll lifecycle and vote casting.

A poll is active until its deadline and closed after it; DeriveStatus
computes this from the clock on every read, so there is no stored status
to go stale.

Vote identity is pinned to the immutable node public key, not the DID:
reprovisioning an identifier can never earn a node a second vote on the
same poll. The one-vote-per-(poll, voter) rule is a UNIQUE constraint in
the store, so racing casts resolve there rather than in application code.

Choices are a zero-based option index or the literal spoil marker; a
tally always satisfies sum(per-option) + spoiled == total voters.

Prune removes closed polls oldest-first once the store exceeds its
ceilings (5,000 polls / 50,000 votes) and never touches active polls.
*/
package polls
