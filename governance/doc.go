/*
Package governance is the tier authority: it gates poll creation and
voting behind a verified proof-of-stake bond.

Upgrade queries the external channel-balance collaborator and fails
closed. The claimed bond is only a cross-check; the verified balance is
authoritative. A node that later drops below threshold keeps governance
tier until an explicit re-check demotes it, so normal channel-balance
fluctuation never flaps the tier.
*/
package governance
