package models

// Governance tier constants
const (
	TierBasic      = "basic"
	TierGovernance = "governance"
)

// Binding kind constants. Closed set: adding a kind requires a schema
// change and a validation-table entry in the identity package.
const (
	BindingNostr = "nostr"
	BindingCLN   = "cln"
)

// Poll type constants
const (
	PollTypeExpansion = "expansion"
	PollTypeBan       = "ban"
	PollTypeGeneric   = "generic"
)

// Derived poll status values. Status is never persisted; it is a pure
// function of deadline vs current time.
const (
	PollActive = "active"
	PollClosed = "closed"
)

// ChoiceSpoil is the distinguished ballot marker for a deliberately
// spoiled vote. Any other choice is a zero-based option index.
const ChoiceSpoil = "spoil"

// Outbox operation kinds
const (
	OpIdentityGenerate = "identity-generate"
	OpPollCreate       = "poll-create"
	OpVoteSync         = "vote-sync"
)

// Outbox entry statuses. Delivered entries are deleted, not flagged.
const (
	OutboxPending   = "pending"
	OutboxAbandoned = "abandoned"
)

// Stable error kinds returned in the RPC error envelope.
const (
	KindInvalidRequest         = "invalid_request"
	KindInvalidKeyFormat       = "invalid_key_format"
	KindUnknownBindingKind     = "unknown_binding_kind"
	KindInvalidExternalKey     = "invalid_external_key"
	KindSignerUnavailable      = "signer_unavailable"
	KindNotProvisioned         = "not_provisioned"
	KindInsufficientTier       = "insufficient_tier"
	KindBondVerificationFailed = "bond_verification_failed"
	KindInsufficientBond       = "insufficient_bond"
	KindInvalidOptionCount     = "invalid_option_count"
	KindInvalidDeadline        = "invalid_deadline"
	KindInvalidTitle           = "invalid_title"
	KindInvalidPollType        = "invalid_poll_type"
	KindMetadataTooLarge       = "metadata_too_large"
	KindPollNotFound           = "poll_not_found"
	KindPollClosed             = "poll_closed"
	KindInvalidChoice          = "invalid_choice"
	KindInvalidReason          = "invalid_reason"
	KindInvalidSignature       = "invalid_signature"
	KindDuplicateVote          = "duplicate_vote"
	KindCapacityReached        = "capacity_reached"
)

// Domain types

type Identity struct {
	NodePubkey     string `json:"node_pubkey"`
	DID            string `json:"did"`
	Generation     int64  `json:"generation"`
	Label          string `json:"label,omitempty"`
	Tier           string `json:"tier"`
	BondSats       int64  `json:"bond_sats"`
	BondVerifiedAt int64  `json:"bond_verified_at,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// DIDRecord is one row of the identifier audit trail. Every identifier
// the node has ever held stays resolvable here.
type DIDRecord struct {
	DID          string `json:"did"`
	NodePubkey   string `json:"node_pubkey"`
	Generation   int64  `json:"generation"`
	CreatedAt    int64  `json:"created_at"`
	SupersededAt int64  `json:"superseded_at,omitempty"`
}

type Binding struct {
	ID        string `json:"binding_id"`
	DID       string `json:"did"`
	Kind      string `json:"kind"`
	Subject   string `json:"subject"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signed_at"`
	CreatedAt int64  `json:"created_at"`
}

type Poll struct {
	ID        string   `json:"poll_id"`
	Type      string   `json:"poll_type"`
	Title     string   `json:"title"`
	Options   []string `json:"options"`
	Metadata  string   `json:"metadata,omitempty"`
	CreatedBy string   `json:"created_by"`
	Deadline  int64    `json:"deadline"`
	Status    string   `json:"status"` // derived, never stored
	CreatedAt int64    `json:"created_at"`
}

type Vote struct {
	ID          string `json:"vote_id"`
	PollID      string `json:"poll_id"`
	VoterPubkey string `json:"voter_pubkey"`
	Choice      string `json:"choice"`
	Reason      string `json:"reason,omitempty"`
	Signature   string `json:"signature"`
	CastAt      int64  `json:"cast_at"`
}

// VoteWithPoll joins a vote with the poll it was cast on, for my-votes.
type VoteWithPoll struct {
	Vote
	PollTitle  string `json:"poll_title"`
	PollType   string `json:"poll_type"`
	PollStatus string `json:"poll_status"`
	Deadline   int64  `json:"deadline"`
}

type Tally struct {
	PerOption   map[string]int `json:"per_option"`
	Spoiled     int            `json:"spoiled"`
	TotalVoters int            `json:"total_voters"`
}

type OutboxEntry struct {
	ID          string `json:"id"`
	OpKind      string `json:"op_kind"`
	Payload     string `json:"payload"`
	Attempts    int    `json:"attempts"`
	NextRetryAt int64  `json:"next_retry_at"`
	Status      string `json:"status"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

type TierResult struct {
	DID        string `json:"did"`
	Tier       string `json:"tier"`
	BondSats   int64  `json:"bond_sats"`
	VerifiedAt int64  `json:"verified_at"`
}

// Request types

type ProvisionRequest struct {
	Force bool   `json:"force"`
	Label string `json:"label"`
}

type BindRequest struct {
	Pubkey string `json:"pubkey"`
}

type UpgradeRequest struct {
	TargetTier string `json:"target_tier"`
	BondSats   int64  `json:"bond_sats"`
}

type SignRequest struct {
	Message string `json:"message"`
}

type CreatePollRequest struct {
	Type     string   `json:"poll_type"`
	Title    string   `json:"title"`
	Options  []string `json:"options"`
	Deadline int64    `json:"deadline"`
	Metadata string   `json:"metadata"`
}

type CastVoteRequest struct {
	Choice string `json:"choice"`
	Reason string `json:"reason"`
}

// Response types

type ProvisionResponse struct {
	Identity           Identity `json:"identity"`
	AlreadyProvisioned bool     `json:"already_provisioned,omitempty"`
}

type StatusResponse struct {
	Identity       *Identity      `json:"identity"`
	Bindings       map[string]int `json:"bindings"`
	History        []DIDRecord    `json:"did_history"`
	ActivePolls    int            `json:"active_polls"`
	ClosedPolls    int            `json:"closed_polls"`
	TotalVotes     int            `json:"total_votes"`
	SyncEnabled    bool           `json:"sync_enabled"`
	CoordinatorURL string         `json:"coordinator_url,omitempty"`
	MinBondSats    int64          `json:"min_bond_sats"`
}

type SignResponse struct {
	Signature string `json:"signature"`
	Pubkey    string `json:"pubkey"`
}

type PollStatusResponse struct {
	Poll   Poll     `json:"poll"`
	Tally  Tally    `json:"tally"`
	Voters []string `json:"voters"`
}

type MyVotesResponse struct {
	VoterPubkey string         `json:"voter_pubkey"`
	Count       int            `json:"count"`
	Votes       []VoteWithPoll `json:"votes"`
}

type PruneResponse struct {
	PollsRemoved int `json:"polls_removed"`
	VotesRemoved int `json:"votes_removed"`
}

type DrainSummary struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
	Skipped   int `json:"skipped"`
}

type RetryResponse struct {
	Revived int `json:"revived"`
}

// Error envelope

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
