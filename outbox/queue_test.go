package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/clhive/archon/models"
	"github.com/clhive/archon/testutil"
)

// recordingPoster captures deliveries and fails on demand.
type recordingPoster struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (p *recordingPoster) Post(ctx context.Context, path string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.paths = append(p.paths, path)
	return nil
}

func newSyncQueue(t *testing.T) (*Queue, *recordingPoster) {
	t.Helper()
	conn := testutil.SetupTestDB(t)
	q, err := NewQueue(conn, testutil.GetSyncConfig("https://hive.example.com"))
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	poster := &recordingPoster{}
	q.Poster = poster
	return q, poster
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return string(body)
}

func TestEnqueueDisabledIsNoop(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	q, err := NewQueue(conn, testutil.GetTestConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := q.Enqueue(tx, models.OpPollCreate, PollPayload{PollID: "p1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&count); err != nil {
		t.Fatalf("Failed to count outbox: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty outbox with sync disabled, got %d entries", count)
	}
}

func TestEnqueuePersistsEntry(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	q, err := NewQueue(conn, testutil.GetSyncConfig("https://hive.example.com"))
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := q.Enqueue(tx, models.OpVoteSync, VotePayload{PollID: "p1", VoteID: "v1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	var opKind, payload, status string
	var attempts int
	err = conn.QueryRow(`SELECT op_kind, payload, status, attempts FROM outbox`).
		Scan(&opKind, &payload, &status, &attempts)
	if err != nil {
		t.Fatalf("Failed to load outbox entry: %v", err)
	}
	if opKind != models.OpVoteSync {
		t.Errorf("Expected op %s, got %s", models.OpVoteSync, opKind)
	}
	if status != models.OutboxPending || attempts != 0 {
		t.Errorf("Expected fresh pending entry, got status=%s attempts=%d", status, attempts)
	}

	var decoded VotePayload
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("Payload does not decode: %v", err)
	}
	if decoded.PollID != "p1" || decoded.VoteID != "v1" {
		t.Errorf("Unexpected payload %+v", decoded)
	}
}

func TestEnqueueRollsBackWithTransaction(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	q, err := NewQueue(conn, testutil.GetSyncConfig("https://hive.example.com"))
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	tx, _ := conn.Begin()
	if err := q.Enqueue(tx, models.OpPollCreate, PollPayload{PollID: "p1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	tx.Rollback()

	var count int
	conn.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&count)
	if count != 0 {
		t.Errorf("Expected rollback to drop the entry, got %d", count)
	}
}

func TestDrainDeliversAndDeletes(t *testing.T) {
	q, poster := newSyncQueue(t)

	testutil.EnqueueTestEntry(t, q.db, models.OpIdentityGenerate,
		mustJSON(t, IdentityPayload{DID: "did:cid:btest", NodePubkey: "02ab"}))
	testutil.EnqueueTestEntry(t, q.db, models.OpPollCreate,
		mustJSON(t, PollPayload{PollID: "p1", Title: "T", Options: []string{"a", "b"}}))
	testutil.EnqueueTestEntry(t, q.db, models.OpVoteSync,
		mustJSON(t, VotePayload{PollID: "p1", VoteID: "v1"}))

	summary, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if summary.Attempted != 3 || summary.Delivered != 3 {
		t.Errorf("Expected 3 delivered, got %+v", summary)
	}

	var count int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&count); err != nil {
		t.Fatalf("Failed to count outbox: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected delivered entries deleted, got %d", count)
	}

	want := []string{"/api/v1/did/generate", "/api/v1/polls", "/api/v1/polls/p1/votes"}
	sort.Strings(poster.paths)
	if len(poster.paths) != len(want) {
		t.Fatalf("Expected %d deliveries, got %v", len(want), poster.paths)
	}
	for i, path := range want {
		if poster.paths[i] != path {
			t.Errorf("Delivery %d: expected %s, got %s", i, path, poster.paths[i])
		}
	}
}

func TestDrainDisabledIsNoop(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	q, err := NewQueue(conn, testutil.GetTestConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	testutil.EnqueueTestEntry(t, conn, models.OpPollCreate, mustJSON(t, PollPayload{PollID: "p1"}))

	summary, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if summary.Attempted != 0 {
		t.Errorf("Expected no attempts with sync disabled, got %+v", summary)
	}
}

func TestDrainFailureSchedulesRetry(t *testing.T) {
	q, poster := newSyncQueue(t)
	poster.err = errors.New("coordinator returned status 503")

	id := testutil.EnqueueTestEntry(t, q.db, models.OpPollCreate, mustJSON(t, PollPayload{PollID: "p1"}))

	before := time.Now().Unix()
	summary, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if summary.Failed != 1 || summary.Delivered != 0 {
		t.Errorf("Expected 1 failure, got %+v", summary)
	}

	var attempts int
	var nextRetry int64
	var status, lastError string
	err = q.db.QueryRow(`SELECT attempts, next_retry_at, status, last_error FROM outbox WHERE id = ?`, id).
		Scan(&attempts, &nextRetry, &status, &lastError)
	if err != nil {
		t.Fatalf("Failed to load entry: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if status != models.OutboxPending {
		t.Errorf("Expected entry still pending, got %s", status)
	}
	if lastError == "" {
		t.Error("Expected last_error recorded")
	}

	// First retry backs off roughly 30s, never immediately
	if nextRetry < before+20 {
		t.Errorf("Expected retry pushed into the future, got %d (now %d)", nextRetry, before)
	}

	// Not yet due, so a second drain skips it
	summary, err = q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if summary.Attempted != 0 {
		t.Errorf("Expected scheduled entry skipped, got %+v", summary)
	}
}

func TestDrainAbandonsAfterMaxAttempts(t *testing.T) {
	q, poster := newSyncQueue(t)
	poster.err = errors.New("coordinator unreachable")

	id := testutil.EnqueueTestEntry(t, q.db, models.OpPollCreate, mustJSON(t, PollPayload{PollID: "p1"}))
	if _, err := q.db.Exec(`UPDATE outbox SET attempts = ? WHERE id = ?`, maxAttempts-1, id); err != nil {
		t.Fatalf("Failed to age entry: %v", err)
	}

	summary, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if summary.Abandoned != 1 {
		t.Errorf("Expected 1 abandoned, got %+v", summary)
	}

	var status string
	var attempts int
	if err := q.db.QueryRow(`SELECT status, attempts FROM outbox WHERE id = ?`, id).Scan(&status, &attempts); err != nil {
		t.Fatalf("Failed to load entry: %v", err)
	}
	if status != models.OutboxAbandoned {
		t.Errorf("Expected abandoned status, got %s", status)
	}
	if attempts != maxAttempts {
		t.Errorf("Expected %d attempts, got %d", maxAttempts, attempts)
	}
}

func TestDrainBreakerSuspendsBatch(t *testing.T) {
	q, poster := newSyncQueue(t)
	poster.err = errors.New("connection refused")

	for i := 0; i < breakerThreshold+3; i++ {
		testutil.EnqueueTestEntry(t, q.db, models.OpPollCreate, mustJSON(t, PollPayload{PollID: "p"}))
	}

	summary, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if summary.Failed != breakerThreshold {
		t.Errorf("Expected %d failures before the breaker trips, got %+v", breakerThreshold, summary)
	}
	if summary.Skipped != 3 {
		t.Errorf("Expected 3 skipped after trip, got %+v", summary)
	}
	if summary.Delivered != 0 {
		t.Errorf("Expected no deliveries, got %+v", summary)
	}
}

func TestReviveAbandoned(t *testing.T) {
	q, _ := newSyncQueue(t)

	id := testutil.EnqueueTestEntry(t, q.db, models.OpPollCreate, mustJSON(t, PollPayload{PollID: "p1"}))
	_, err := q.db.Exec(`UPDATE outbox SET status = ?, attempts = ? WHERE id = ?`,
		models.OutboxAbandoned, maxAttempts, id)
	if err != nil {
		t.Fatalf("Failed to abandon entry: %v", err)
	}

	revived, err := q.ReviveAbandoned(context.Background())
	if err != nil {
		t.Fatalf("ReviveAbandoned failed: %v", err)
	}
	if revived != 1 {
		t.Errorf("Expected 1 revived, got %d", revived)
	}

	var status string
	var attempts int
	var nextRetry int64
	err = q.db.QueryRow(`SELECT status, attempts, next_retry_at FROM outbox WHERE id = ?`, id).
		Scan(&status, &attempts, &nextRetry)
	if err != nil {
		t.Fatalf("Failed to load entry: %v", err)
	}
	if status != models.OutboxPending || attempts != 0 || nextRetry != 0 {
		t.Errorf("Expected reset entry, got status=%s attempts=%d next=%d", status, attempts, nextRetry)
	}
}

func TestPathFor(t *testing.T) {
	tests := []struct {
		name     string
		opKind   string
		payload  string
		wantPath string
		wantErr  bool
	}{
		{"identity", models.OpIdentityGenerate, `{}`, "/api/v1/did/generate", false},
		{"poll", models.OpPollCreate, `{}`, "/api/v1/polls", false},
		{"vote", models.OpVoteSync, `{"poll_id":"abc"}`, "/api/v1/polls/abc/votes", false},
		{"vote with reserved chars", models.OpVoteSync, `{"poll_id":"a/b"}`, "/api/v1/polls/a%2Fb/votes", false},
		{"vote missing poll", models.OpVoteSync, `{}`, "", true},
		{"vote malformed payload", models.OpVoteSync, `{not json`, "", true},
		{"unknown op", "snapshot", `{}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := pathFor(tt.opKind, []byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Error("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("pathFor failed: %v", err)
			}
			if path != tt.wantPath {
				t.Errorf("Expected path %s, got %s", tt.wantPath, path)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		expected := baseBackoff
		for i := 1; i < attempts && expected < maxBackoff; i++ {
			expected *= 2
		}
		if expected > maxBackoff {
			expected = maxBackoff
		}

		for trial := 0; trial < 20; trial++ {
			delay := backoffDelay(attempts)
			low := time.Duration(float64(expected) * 0.8)
			high := time.Duration(float64(expected) * 1.2)
			if delay < low || delay > high {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempts, delay, low, high)
			}
		}
	}
}
