package polls

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clhive/archon/cliparse"
	"github.com/clhive/archon/governance"
	"github.com/clhive/archon/models"
	"github.com/clhive/archon/outbox"
	"github.com/clhive/archon/signer"
)

// Validation bounds and store ceilings.
const (
	MinOptions     = 2
	MaxOptions     = 10
	MaxOptionLen   = 64
	MaxTitleLen    = 200
	MaxTypeLen     = 32
	MaxMetadataLen = 8_192
	MaxReasonLen   = 500
	MaxTotalPolls  = 5_000
	MaxTotalVotes  = 50_000
)

// Engine owns the poll lifecycle and vote casting.
type Engine struct {
	db     *sql.DB
	cfg    cliparse.Config
	signer signer.Signer
	queue  *outbox.Queue
}

func NewEngine(db *sql.DB, cfg cliparse.Config, s signer.Signer, q *outbox.Queue) *Engine {
	return &Engine{db: db, cfg: cfg, signer: s, queue: q}
}

// DeriveStatus is the poll state machine: active until the deadline, then
// closed. Nothing ever writes a status.
func DeriveStatus(deadline, now int64) string {
	if deadline > now {
		return models.PollActive
	}
	return models.PollClosed
}

// VotePayloadBytes is the canonical byte encoding signed for a ballot.
func VotePayloadBytes(pollID, voterPubkey, choice, reason string) []byte {
	return fmt.Appendf(nil, "hive-vote/v1\n%s\n%s\n%s\n%s", pollID, voterPubkey, choice, reason)
}

func (e *Engine) nodeKey(ctx context.Context) (string, error) {
	key, err := e.signer.NodeKey(ctx)
	if err != nil {
		return "", models.Failf(models.KindSignerUnavailable, "node key lookup failed: %v", err)
	}
	return key, nil
}

func (e *Engine) requireGovernance(ctx context.Context, nodeKey string) error {
	tier, err := governance.Tier(ctx, e.db, nodeKey)
	if err != nil {
		return err
	}
	if tier != models.TierGovernance {
		return models.Failf(models.KindInsufficientTier, "governance tier required (current: %s)", tier)
	}
	return nil
}

// Create validates and persists a new poll, enqueueing its sync entry in
// the same transaction.
func (e *Engine) Create(ctx context.Context, req models.CreatePollRequest) (*models.Poll, error) {
	nodeKey, err := e.nodeKey(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.requireGovernance(ctx, nodeKey); err != nil {
		return nil, err
	}

	pollType := strings.TrimSpace(req.Type)
	if !validPollType(pollType) {
		return nil, models.Failf(models.KindInvalidPollType,
			"invalid poll_type (1-%d chars, alphanumeric, hyphens, underscores)", MaxTypeLen)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > MaxTitleLen {
		return nil, models.Failf(models.KindInvalidTitle, "title must be 1-%d characters", MaxTitleLen)
	}

	options, err := normalizeOptions(req.Options)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	if req.Deadline <= now {
		return nil, models.Failf(models.KindInvalidDeadline, "deadline must be a future unix timestamp")
	}

	metadata := strings.TrimSpace(req.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	if len(metadata) > MaxMetadataLen {
		return nil, models.Failf(models.KindMetadataTooLarge, "metadata too large (max %d bytes)", MaxMetadataLen)
	}
	if !json.Valid([]byte(metadata)) {
		return nil, models.Failf(models.KindInvalidRequest, "metadata must be valid JSON")
	}

	if err := e.ensureCapacity(ctx, `SELECT COUNT(*) FROM poll`, MaxTotalPolls, "poll"); err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize options: %w", err)
	}

	poll := &models.Poll{
		ID:        uuid.NewString(),
		Type:      pollType,
		Title:     title,
		Options:   options,
		Metadata:  metadata,
		CreatedBy: nodeKey,
		Deadline:  req.Deadline,
		Status:    models.PollActive,
		CreatedAt: now,
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO poll (id, poll_type, title, options_json, metadata_json, created_by, deadline, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, poll.ID, poll.Type, poll.Title, string(optionsJSON), poll.Metadata, poll.CreatedBy, poll.Deadline, poll.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert poll: %w", err)
	}

	err = e.queue.Enqueue(tx, models.OpPollCreate, outbox.PollPayload{
		PollID:    poll.ID,
		Type:      poll.Type,
		Title:     poll.Title,
		Options:   poll.Options,
		Metadata:  poll.Metadata,
		CreatedBy: poll.CreatedBy,
		Deadline:  poll.Deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue poll sync: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit poll: %w", err)
	}

	slog.Info("poll created", "poll_id", poll.ID, "type", poll.Type, "deadline", poll.Deadline)

	return poll, nil
}

// CastVote verifies tier, poll state, choice, and ballot signature, then
// inserts the vote. Concurrent duplicate casts race at the store's UNIQUE
// constraint: exactly one commits, the rest surface DuplicateVote.
func (e *Engine) CastVote(ctx context.Context, pollID string, req models.CastVoteRequest) (*models.Vote, error) {
	voter, err := e.nodeKey(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.requireGovernance(ctx, voter); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(req.Reason)
	if len(reason) > MaxReasonLen {
		return nil, models.Failf(models.KindInvalidReason, "reason too long (max %d chars)", MaxReasonLen)
	}

	poll, err := e.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	if DeriveStatus(poll.Deadline, now) != models.PollActive {
		return nil, models.Failf(models.KindPollClosed, "poll closed at %d", poll.Deadline)
	}

	choice, err := normalizeChoice(req.Choice, len(poll.Options))
	if err != nil {
		return nil, err
	}

	if err := e.ensureCapacity(ctx, `SELECT COUNT(*) FROM vote`, MaxTotalVotes, "vote"); err != nil {
		return nil, err
	}

	payload := VotePayloadBytes(poll.ID, voter, choice, reason)
	sig, err := e.signer.Sign(ctx, payload)
	if err != nil {
		return nil, models.Failf(models.KindSignerUnavailable, "vote signing failed: %v", err)
	}
	if err := e.signer.Verify(ctx, payload, sig, voter); err != nil {
		return nil, models.Failf(models.KindInvalidSignature, "vote signature rejected: %v", err)
	}

	idSum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%s:%d", poll.ID, voter, choice, now))
	vote := &models.Vote{
		ID:          hex.EncodeToString(idSum[:])[:32],
		PollID:      poll.ID,
		VoterPubkey: voter,
		Choice:      choice,
		Reason:      reason,
		Signature:   sig,
		CastAt:      now,
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO vote (id, poll_id, voter_pubkey, choice, reason, signature, cast_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, vote.ID, vote.PollID, vote.VoterPubkey, vote.Choice, vote.Reason, vote.Signature, vote.CastAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.Failf(models.KindDuplicateVote, "a vote by this voter already exists for this poll")
		}
		return nil, fmt.Errorf("failed to insert vote: %w", err)
	}

	err = e.queue.Enqueue(tx, models.OpVoteSync, outbox.VotePayload{
		PollID:      vote.PollID,
		VoteID:      vote.ID,
		VoterPubkey: vote.VoterPubkey,
		Choice:      vote.Choice,
		Reason:      vote.Reason,
		Signature:   vote.Signature,
		CastAt:      vote.CastAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue vote sync: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, models.Failf(models.KindDuplicateVote, "a vote by this voter already exists for this poll")
		}
		return nil, fmt.Errorf("failed to commit vote: %w", err)
	}

	slog.Info("vote cast", "poll_id", vote.PollID, "vote_id", vote.ID, "choice", vote.Choice)

	return vote, nil
}

// Get loads a poll with its derived status.
func (e *Engine) Get(ctx context.Context, pollID string) (*models.Poll, error) {
	if pollID == "" {
		return nil, models.Failf(models.KindInvalidRequest, "poll_id is required")
	}

	var poll models.Poll
	var optionsJSON string
	err := e.db.QueryRowContext(ctx, `
		SELECT id, poll_type, title, options_json, metadata_json, created_by, deadline, created_at
		FROM poll WHERE id = ?
	`, pollID).Scan(
		&poll.ID, &poll.Type, &poll.Title, &optionsJSON,
		&poll.Metadata, &poll.CreatedBy, &poll.Deadline, &poll.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Failf(models.KindPollNotFound, "poll %q not found", pollID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query poll: %w", err)
	}

	if err := json.Unmarshal([]byte(optionsJSON), &poll.Options); err != nil {
		return nil, fmt.Errorf("corrupt options for poll %s: %w", pollID, err)
	}
	poll.Status = DeriveStatus(poll.Deadline, time.Now().Unix())
	return &poll, nil
}

// Status returns the poll, its tally, and the voter list.
func (e *Engine) Status(ctx context.Context, pollID string) (*models.PollStatusResponse, error) {
	poll, err := e.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}

	tally, voters, err := e.tallyAndVoters(ctx, poll)
	if err != nil {
		return nil, err
	}

	return &models.PollStatusResponse{Poll: *poll, Tally: *tally, Voters: voters}, nil
}

// Tally aggregates persisted votes. It works the same for active and
// closed polls, so in-progress tallies are visible.
func (e *Engine) Tally(ctx context.Context, pollID string) (*models.Tally, error) {
	poll, err := e.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	tally, _, err := e.tallyAndVoters(ctx, poll)
	return tally, err
}

func (e *Engine) tallyAndVoters(ctx context.Context, poll *models.Poll) (*models.Tally, []string, error) {
	tally := &models.Tally{PerOption: make(map[string]int, len(poll.Options))}
	for _, opt := range poll.Options {
		tally.PerOption[opt] = 0
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT voter_pubkey, choice FROM vote WHERE poll_id = ? ORDER BY cast_at ASC, voter_pubkey ASC
	`, poll.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()

	voters := []string{}
	for rows.Next() {
		var voter, choice string
		if err := rows.Scan(&voter, &choice); err != nil {
			return nil, nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		voters = append(voters, voter)
		tally.TotalVoters++
		if choice == models.ChoiceSpoil {
			tally.Spoiled++
			continue
		}
		idx, err := strconv.Atoi(choice)
		if err != nil || idx < 0 || idx >= len(poll.Options) {
			return nil, nil, fmt.Errorf("corrupt choice %q on poll %s", choice, poll.ID)
		}
		tally.PerOption[poll.Options[idx]]++
	}
	return tally, voters, rows.Err()
}

// MyVotes lists the caller node's recent votes, newest first.
func (e *Engine) MyVotes(ctx context.Context, limit int) (*models.MyVotesResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	voter, err := e.nodeKey(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT v.id, v.poll_id, v.voter_pubkey, v.choice, v.reason, v.signature, v.cast_at,
		       p.title, p.poll_type, p.deadline
		FROM vote v
		JOIN poll p ON p.id = v.poll_id
		WHERE v.voter_pubkey = ?
		ORDER BY v.cast_at DESC
		LIMIT ?
	`, voter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()

	now := time.Now().Unix()
	resp := &models.MyVotesResponse{VoterPubkey: voter, Votes: []models.VoteWithPoll{}}
	for rows.Next() {
		var v models.VoteWithPoll
		err := rows.Scan(
			&v.ID, &v.PollID, &v.VoterPubkey, &v.Choice, &v.Reason, &v.Signature, &v.CastAt,
			&v.PollTitle, &v.PollType, &v.Deadline,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		v.PollStatus = DeriveStatus(v.Deadline, now)
		resp.Votes = append(resp.Votes, v)
	}
	resp.Count = len(resp.Votes)
	return resp, rows.Err()
}

// Prune deletes closed polls (and their votes) oldest-first until the
// store is back under its ceilings. Active polls are never touched.
func (e *Engine) Prune(ctx context.Context) (*models.PruneResponse, error) {
	return e.pruneExcess(ctx, 0, 0)
}

// pruneExcess is Prune with headroom: a nonzero headroom targets that
// many rows below the ceiling, making room for an imminent insert.
func (e *Engine) pruneExcess(ctx context.Context, headroomPolls, headroomVotes int) (*models.PruneResponse, error) {
	var totalPolls, totalVotes int
	err := e.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM poll), (SELECT COUNT(*) FROM vote)`,
	).Scan(&totalPolls, &totalVotes)
	if err != nil {
		return nil, fmt.Errorf("failed to count store: %w", err)
	}

	excessPolls := totalPolls - MaxTotalPolls + headroomPolls
	excessVotes := totalVotes - MaxTotalVotes + headroomVotes
	resp := &models.PruneResponse{}
	if excessPolls <= 0 && excessVotes <= 0 {
		return resp, nil
	}

	now := time.Now().Unix()
	rows, err := e.db.QueryContext(ctx, `
		SELECT p.id, COUNT(v.id)
		FROM poll p
		LEFT JOIN vote v ON v.poll_id = p.id
		WHERE p.deadline <= ?
		GROUP BY p.id
		ORDER BY p.deadline ASC, p.created_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed polls: %w", err)
	}

	var victims []any
	for rows.Next() {
		if excessPolls <= 0 && excessVotes <= 0 {
			break
		}
		var id string
		var votes int
		if err := rows.Scan(&id, &votes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan closed poll: %w", err)
		}
		victims = append(victims, id)
		excessPolls--
		excessVotes -= votes
		resp.PollsRemoved++
		resp.VotesRemoved += votes
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate closed polls: %w", err)
	}
	if len(victims) == 0 {
		return &models.PruneResponse{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(victims)), ",")
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Votes first: foreign key cascade depends on pragma state
	if _, err := tx.Exec(`DELETE FROM vote WHERE poll_id IN (`+placeholders+`)`, victims...); err != nil {
		return nil, fmt.Errorf("failed to prune votes: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM poll WHERE id IN (`+placeholders+`)`, victims...); err != nil {
		return nil, fmt.Errorf("failed to prune polls: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit prune: %w", err)
	}

	slog.Info("store pruned", "polls_removed", resp.PollsRemoved, "votes_removed", resp.VotesRemoved)

	return resp, nil
}

// ensureCapacity prunes when a ceiling is hit and rejects only if pruning
// could not make room (everything still active).
func (e *Engine) ensureCapacity(ctx context.Context, countQuery string, ceiling int, what string) error {
	var count int
	if err := e.db.QueryRowContext(ctx, countQuery).Scan(&count); err != nil {
		return fmt.Errorf("failed to count %ss: %w", what, err)
	}
	if count < ceiling {
		return nil
	}
	headroomPolls, headroomVotes := 1, 0
	if what == "vote" {
		headroomPolls, headroomVotes = 0, 1
	}
	if _, err := e.pruneExcess(ctx, headroomPolls, headroomVotes); err != nil {
		return err
	}
	if err := e.db.QueryRowContext(ctx, countQuery).Scan(&count); err != nil {
		return fmt.Errorf("failed to count %ss: %w", what, err)
	}
	if count >= ceiling {
		return models.Failf(models.KindCapacityReached, "%s capacity reached (%d)", what, ceiling)
	}
	return nil
}

func normalizeOptions(raw []string) ([]string, error) {
	if len(raw) < MinOptions || len(raw) > MaxOptions {
		return nil, models.Failf(models.KindInvalidOptionCount,
			"expected %d-%d options, got %d", MinOptions, MaxOptions, len(raw))
	}
	seen := make(map[string]bool, len(raw))
	options := make([]string, 0, len(raw))
	for _, item := range raw {
		value := strings.TrimSpace(item)
		if value == "" || len(value) > MaxOptionLen {
			return nil, models.Failf(models.KindInvalidOptionCount,
				"options must be non-empty strings of at most %d chars", MaxOptionLen)
		}
		if seen[value] {
			return nil, models.Failf(models.KindInvalidOptionCount, "duplicate option %q", value)
		}
		seen[value] = true
		options = append(options, value)
	}
	return options, nil
}

func normalizeChoice(raw string, optionCount int) (string, error) {
	choice := strings.TrimSpace(raw)
	if choice == models.ChoiceSpoil {
		return choice, nil
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 0 || idx >= optionCount {
		return "", models.Failf(models.KindInvalidChoice,
			"choice must be an option index 0-%d or %q", optionCount-1, models.ChoiceSpoil)
	}
	return strconv.Itoa(idx), nil
}

func validPollType(s string) bool {
	if s == "" || len(s) > MaxTypeLen {
		return false
	}
	for _, ch := range s {
		alnum := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
		if !alnum && ch != '-' && ch != '_' {
			return false
		}
	}
	return true
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
