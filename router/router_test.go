package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clhive/archon/governance"
	"github.com/clhive/archon/identity"
	"github.com/clhive/archon/outbox"
	"github.com/clhive/archon/polls"
	"github.com/clhive/archon/signer"
	"github.com/clhive/archon/testutil"
)

type zeroLedger struct{}

func (zeroLedger) AggregateBalanceSats(ctx context.Context, nodePubkey string) (int64, error) {
	return 0, nil
}

func newTestRouter(t *testing.T) *http.ServeMux {
	t.Helper()

	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	s, err := signer.NewLocalSigner()
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	q, err := outbox.NewQueue(conn, cfg)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	manager := identity.NewManager(conn, cfg, s, q)
	authority := governance.NewAuthority(conn, cfg, zeroLedger{})
	engine := polls.NewEngine(conn, cfg, s, q)

	return NewRouter(manager, authority, engine, q, s)
}

func TestHealthEndpoint(t *testing.T) {
	mux := newTestRouter(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", w.Body.String())
	}
}

func TestRootEndpoint(t *testing.T) {
	mux := newTestRouter(t)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "archon API v1" {
		t.Errorf("Expected body 'archon API v1', got '%s'", w.Body.String())
	}
}

func TestRouteExistence(t *testing.T) {
	mux := newTestRouter(t)

	// Routes must dispatch to a handler; handler-level rejections
	// (validation, tier gates, missing rows) are fine, 405s are not
	testCases := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/"},
		{"POST", "/v1/identity/provision"},
		{"GET", "/v1/identity/status"},
		{"POST", "/v1/identity/bind-nostr"},
		{"POST", "/v1/identity/bind-cln"},
		{"POST", "/v1/identity/upgrade"},
		{"POST", "/v1/sign"},
		{"POST", "/v1/polls"},
		{"GET", "/v1/polls/test-id"},
		{"POST", "/v1/polls/test-id/votes"},
		{"GET", "/v1/votes/mine"},
		{"POST", "/v1/maintenance/prune"},
		{"POST", "/v1/outbox/process"},
		{"POST", "/v1/outbox/retry"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code == http.StatusMethodNotAllowed {
				t.Errorf("Route %s %s not registered for method", tc.method, tc.path)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newTestRouter(t)

	req := httptest.NewRequest("DELETE", "/v1/polls", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for unregistered method, got %d", w.Code)
	}
}
