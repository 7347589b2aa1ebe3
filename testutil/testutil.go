package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clhive/archon/cliparse"
	"github.com/clhive/archon/db"
	"github.com/clhive/archon/models"
)

// SetupTestDB creates a fresh SQLite store with the full schema in a
// per-test temp directory
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "archon-test.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// GetTestConfig returns a config with sync disabled
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:        8311,
		MinBondSats: cliparse.DefaultMinBondSats,
	}
}

// GetSyncConfig returns a config with coordinator sync enabled
func GetSyncConfig(coordinatorURL string) cliparse.Config {
	cfg := GetTestConfig()
	cfg.SyncEnabled = true
	cfg.CoordinatorURL = coordinatorURL
	return cfg
}

// ProvisionTestIdentity inserts an identity row (plus its audit-trail
// record) directly, bypassing the provisioning flow
func ProvisionTestIdentity(t *testing.T, conn *sql.DB, nodePubkey, did, tier string) {
	t.Helper()

	now := time.Now().Unix()
	_, err := conn.Exec(`
		INSERT INTO identity (node_pubkey, did, generation, label, tier, created_at, updated_at)
		VALUES (?, ?, 1, 'test-node', ?, ?, ?)
	`, nodePubkey, did, tier, now, now)
	if err != nil {
		t.Fatalf("Failed to insert test identity: %v", err)
	}

	_, err = conn.Exec(`
		INSERT INTO did_history (did, node_pubkey, generation, created_at)
		VALUES (?, ?, 1, ?)
	`, did, nodePubkey, now)
	if err != nil {
		t.Fatalf("Failed to insert test identifier history: %v", err)
	}
}

// CreateTestPoll inserts a two-option poll and returns its ID.
// deadline decides whether the poll reads as active or closed
func CreateTestPoll(t *testing.T, conn *sql.DB, createdBy string, deadline int64) string {
	t.Helper()

	pollID := uuid.NewString()
	_, err := conn.Exec(`
		INSERT INTO poll (id, poll_type, title, options_json, metadata_json, created_by, deadline, created_at)
		VALUES (?, 'generic', 'Test Poll', '["yes","no"]', '{}', ?, ?, ?)
	`, pollID, createdBy, deadline, time.Now().Unix())
	if err != nil {
		t.Fatalf("Failed to create test poll: %v", err)
	}

	return pollID
}

// CastTestVote inserts a vote row directly and returns its ID
func CastTestVote(t *testing.T, conn *sql.DB, pollID, voter, choice string, castAt int64) string {
	t.Helper()

	voteID := uuid.NewString()
	_, err := conn.Exec(`
		INSERT INTO vote (id, poll_id, voter_pubkey, choice, reason, signature, cast_at)
		VALUES (?, ?, ?, ?, '', 'test-signature', ?)
	`, voteID, pollID, voter, choice, castAt)
	if err != nil {
		t.Fatalf("Failed to create test vote: %v", err)
	}

	return voteID
}

// EnqueueTestEntry inserts a pending outbox entry due immediately
func EnqueueTestEntry(t *testing.T, conn *sql.DB, opKind, payload string) string {
	t.Helper()

	id := uuid.NewString()
	_, err := conn.Exec(`
		INSERT INTO outbox (id, op_kind, payload, attempts, next_retry_at, status, created_at)
		VALUES (?, ?, ?, 0, 0, ?, ?)
	`, id, opKind, payload, models.OutboxPending, time.Now().Unix())
	if err != nil {
		t.Fatalf("Failed to enqueue test entry: %v", err)
	}

	return id
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
