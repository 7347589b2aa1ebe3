package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/clhive/archon/cliparse"
	"github.com/clhive/archon/models"
)

const (
	maxAttempts      = 10
	baseBackoff      = 30 * time.Second
	maxBackoff       = time.Hour
	drainBatch       = 100
	deliveryTimeout  = 10 * time.Second
	breakerThreshold = 5
	breakerCooldown  = 60 * time.Second
)

// Sync payload shapes, mirroring the local entities. The coordinator
// de-duplicates by entity identifier, so redelivery is safe.

type IdentityPayload struct {
	DID        string `json:"did"`
	NodePubkey string `json:"node_pubkey"`
	Label      string `json:"label,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

type PollPayload struct {
	PollID    string   `json:"poll_id"`
	Type      string   `json:"poll_type"`
	Title     string   `json:"title"`
	Options   []string `json:"options"`
	Metadata  string   `json:"metadata,omitempty"`
	CreatedBy string   `json:"created_by"`
	Deadline  int64    `json:"deadline"`
}

type VotePayload struct {
	PollID      string `json:"poll_id"`
	VoteID      string `json:"vote_id"`
	VoterPubkey string `json:"voter_pubkey"`
	Choice      string `json:"choice"`
	Reason      string `json:"reason,omitempty"`
	Signature   string `json:"signature"`
	CastAt      int64  `json:"cast_at"`
}

// Queue is the delivery subsystem. Local mutations enqueue sync work in
// their own transaction; Drain later pushes it to the coordinator.
// Delivery never affects local correctness.
type Queue struct {
	db  *sql.DB
	cfg cliparse.Config

	// Poster performs the actual delivery; swappable in tests.
	Poster Poster

	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewQueue(db *sql.DB, cfg cliparse.Config) (*Queue, error) {
	q := &Queue{
		db:  db,
		cfg: cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "coordinator",
			MaxRequests: 1,
			Timeout:     breakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerThreshold
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}

	if cfg.SyncEnabled {
		client, err := NewClient(cfg.CoordinatorURL, cfg.AuthToken, deliveryTimeout)
		if err != nil {
			return nil, err
		}
		q.Poster = client
	}

	return q, nil
}

// Enqueue records one unit of sync work inside the caller's transaction.
// When sync is disabled this is a no-op; it must never fail the local
// mutation for sync-related reasons.
func (q *Queue) Enqueue(tx *sql.Tx, opKind string, payload any) error {
	if !q.cfg.SyncEnabled {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize outbox payload: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO outbox (id, op_kind, payload, attempts, next_retry_at, status, created_at)
		VALUES (?, ?, ?, 0, 0, ?, ?)
	`, uuid.NewString(), opKind, string(body), models.OutboxPending, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	return nil
}

// Drain attempts delivery for every pending entry whose retry time has
// passed, oldest first. Each entry is independent; partial drains are
// expected. A tripped breaker skips the remainder of the batch.
func (q *Queue) Drain(ctx context.Context) (models.DrainSummary, error) {
	var summary models.DrainSummary
	if !q.cfg.SyncEnabled || q.Poster == nil {
		return summary, nil
	}

	now := time.Now().Unix()
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, op_kind, payload, attempts
		FROM outbox
		WHERE status = ? AND next_retry_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`, models.OutboxPending, now, drainBatch)
	if err != nil {
		return summary, fmt.Errorf("failed to query outbox: %w", err)
	}

	type pending struct {
		id       string
		opKind   string
		payload  string
		attempts int
	}
	var batch []pending
	for rows.Next() {
		var e pending
		if err := rows.Scan(&e.id, &e.opKind, &e.payload, &e.attempts); err != nil {
			rows.Close()
			return summary, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		batch = append(batch, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("failed to iterate outbox: %w", err)
	}

	for i, e := range batch {
		if err := q.limiter.Wait(ctx); err != nil {
			summary.Skipped += len(batch) - i
			return summary, nil
		}

		summary.Attempted++
		_, err := q.breaker.Execute(func() (any, error) {
			return nil, q.deliver(ctx, e.opKind, []byte(e.payload))
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Coordinator is known-down; stop burning lookups on it
			summary.Attempted--
			summary.Skipped += len(batch) - i
			slog.Warn("outbox breaker open, suspending drain", "skipped", summary.Skipped)
			break
		}

		if err == nil {
			if _, derr := q.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, e.id); derr != nil {
				return summary, fmt.Errorf("failed to delete delivered entry: %w", derr)
			}
			summary.Delivered++
			continue
		}

		attempts := e.attempts + 1
		if attempts >= maxAttempts {
			// Kept for operator inspection, not silently discarded
			_, uerr := q.db.ExecContext(ctx, `
				UPDATE outbox SET attempts = ?, status = ?, last_error = ? WHERE id = ?
			`, attempts, models.OutboxAbandoned, err.Error(), e.id)
			if uerr != nil {
				return summary, fmt.Errorf("failed to abandon entry: %w", uerr)
			}
			summary.Abandoned++
			slog.Warn("outbox entry abandoned", "id", e.id, "op", e.opKind, "error", err)
			continue
		}

		next := time.Now().Add(backoffDelay(attempts)).Unix()
		_, uerr := q.db.ExecContext(ctx, `
			UPDATE outbox SET attempts = ?, next_retry_at = ?, last_error = ? WHERE id = ?
		`, attempts, next, err.Error(), e.id)
		if uerr != nil {
			return summary, fmt.Errorf("failed to reschedule entry: %w", uerr)
		}
		summary.Failed++
	}

	if summary.Attempted > 0 {
		slog.Info("outbox drained",
			"attempted", summary.Attempted,
			"delivered", summary.Delivered,
			"failed", summary.Failed,
			"abandoned", summary.Abandoned,
			"skipped", summary.Skipped,
		)
	}
	return summary, nil
}

// ReviveAbandoned resets abandoned entries to pending for a manual retry.
func (q *Queue) ReviveAbandoned(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, attempts = 0, next_retry_at = 0 WHERE status = ?
	`, models.OutboxPending, models.OutboxAbandoned)
	if err != nil {
		return 0, fmt.Errorf("failed to revive abandoned entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (q *Queue) deliver(ctx context.Context, opKind string, payload []byte) error {
	path, err := pathFor(opKind, payload)
	if err != nil {
		return err
	}
	return q.Poster.Post(ctx, path, payload)
}

func pathFor(opKind string, payload []byte) (string, error) {
	switch opKind {
	case models.OpIdentityGenerate:
		return "/api/v1/did/generate", nil
	case models.OpPollCreate:
		return "/api/v1/polls", nil
	case models.OpVoteSync:
		var vote VotePayload
		if err := json.Unmarshal(payload, &vote); err != nil {
			return "", fmt.Errorf("malformed vote payload: %w", err)
		}
		if vote.PollID == "" {
			return "", errors.New("vote payload missing poll id")
		}
		return "/api/v1/polls/" + url.PathEscape(vote.PollID) + "/votes", nil
	default:
		return "", fmt.Errorf("unknown outbox operation %q", opKind)
	}
}

// backoffDelay is exponential in the attempt count with a bounded maximum
// and +/-20% jitter.
func backoffDelay(attempts int) time.Duration {
	delay := baseBackoff
	for i := 1; i < attempts && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}
