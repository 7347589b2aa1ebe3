package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clhive/archon/models"
	"github.com/clhive/archon/testutil"
)

func TestProvisionHandler(t *testing.T) {
	st := newTestStack(t)

	// No body: provision with defaults
	w := httptest.NewRecorder()
	st.identity.Provision(w, testutil.MakeRequest("POST", "/v1/identity/provision", nil, nil))
	testutil.AssertStatus(t, w, http.StatusCreated)

	var first models.ProvisionResponse
	testutil.AssertJSON(t, w, &first)
	if first.Identity.DID == "" {
		t.Fatal("Expected an identifier")
	}
	if first.AlreadyProvisioned {
		t.Error("First provision must not report already provisioned")
	}

	// Repeat: idempotent, reported with 200
	w = httptest.NewRecorder()
	st.identity.Provision(w, testutil.MakeRequest("POST", "/v1/identity/provision", nil, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	var second models.ProvisionResponse
	testutil.AssertJSON(t, w, &second)
	if !second.AlreadyProvisioned {
		t.Error("Expected already provisioned on repeat")
	}
	if second.Identity.DID != first.Identity.DID {
		t.Error("Identifier changed on idempotent provision")
	}

	// Force: new generation, 201 again
	w = httptest.NewRecorder()
	st.identity.Provision(w, testutil.MakeRequest("POST", "/v1/identity/provision",
		models.ProvisionRequest{Force: true}, nil))
	testutil.AssertStatus(t, w, http.StatusCreated)

	var rotated models.ProvisionResponse
	testutil.AssertJSON(t, w, &rotated)
	if rotated.Identity.DID == first.Identity.DID {
		t.Error("Expected a new identifier on forced provision")
	}
	if rotated.Identity.Generation != 2 {
		t.Errorf("Expected generation 2, got %d", rotated.Identity.Generation)
	}
}

func TestProvisionHandlerBadJSON(t *testing.T) {
	st := newTestStack(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/identity/provision", strings.NewReader("{broken"))
	st.identity.Provision(w, req)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestStatusHandler(t *testing.T) {
	st := newTestStack(t)
	st.provisionGovernance(t)

	w := httptest.NewRecorder()
	st.identity.Status(w, testutil.MakeRequest("GET", "/v1/identity/status", nil, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.StatusResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Identity == nil {
		t.Fatal("Expected identity in status")
	}
	if resp.Identity.Tier != models.TierGovernance {
		t.Errorf("Expected governance tier, got %s", resp.Identity.Tier)
	}
	if len(resp.History) != 1 {
		t.Errorf("Expected 1 history record, got %d", len(resp.History))
	}
}

func TestBindHandlers(t *testing.T) {
	st := newTestStack(t)
	st.provisionGovernance(t)

	// Valid nostr binding
	w := httptest.NewRecorder()
	st.identity.BindNostr(w, testutil.MakeRequest("POST", "/v1/identity/bind-nostr",
		models.BindRequest{Pubkey: strings.Repeat("ab", 32)}, nil))
	testutil.AssertStatus(t, w, http.StatusCreated)

	var binding models.Binding
	testutil.AssertJSON(t, w, &binding)
	if binding.Kind != models.BindingNostr {
		t.Errorf("Expected nostr binding, got %s", binding.Kind)
	}

	// Invalid nostr key
	w = httptest.NewRecorder()
	st.identity.BindNostr(w, testutil.MakeRequest("POST", "/v1/identity/bind-nostr",
		models.BindRequest{Pubkey: "short"}, nil))
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	// CLN binding with no body defaults to the node's own key
	w = httptest.NewRecorder()
	st.identity.BindCLN(w, testutil.MakeRequest("POST", "/v1/identity/bind-cln", nil, nil))
	testutil.AssertStatus(t, w, http.StatusCreated)

	testutil.AssertJSON(t, w, &binding)
	if binding.Subject != st.nodeKey {
		t.Errorf("Expected self binding, got %s", binding.Subject)
	}
}

func TestBindBeforeProvisioning(t *testing.T) {
	st := newTestStack(t)

	w := httptest.NewRecorder()
	st.identity.BindNostr(w, testutil.MakeRequest("POST", "/v1/identity/bind-nostr",
		models.BindRequest{Pubkey: strings.Repeat("ab", 32)}, nil))
	testutil.AssertStatus(t, w, http.StatusConflict)

	var resp models.ErrorResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Error != models.KindNotProvisioned {
		t.Errorf("Expected not_provisioned, got %s", resp.Error)
	}
}

func TestUpgradeHandler(t *testing.T) {
	st := newTestStack(t)
	if _, err := st.manager.Provision(context.Background(), false, ""); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	w := httptest.NewRecorder()
	st.identity.Upgrade(w, testutil.MakeRequest("POST", "/v1/identity/upgrade",
		models.UpgradeRequest{TargetTier: models.TierGovernance}, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	var result models.TierResult
	testutil.AssertJSON(t, w, &result)
	if result.Tier != models.TierGovernance {
		t.Errorf("Expected governance tier, got %s", result.Tier)
	}
	if result.BondSats != st.ledger.balance {
		t.Errorf("Expected verified bond %d, got %d", st.ledger.balance, result.BondSats)
	}
}

func TestUpgradeHandlerFailures(t *testing.T) {
	st := newTestStack(t)
	if _, err := st.manager.Provision(context.Background(), false, ""); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	// Ledger unreachable: fail closed with 502
	st.ledger.err = errors.New("rpc connection refused")
	w := httptest.NewRecorder()
	st.identity.Upgrade(w, testutil.MakeRequest("POST", "/v1/identity/upgrade",
		models.UpgradeRequest{TargetTier: models.TierGovernance}, nil))
	testutil.AssertStatus(t, w, http.StatusBadGateway)

	// Balance below threshold: 403
	st.ledger.err = nil
	st.ledger.balance = st.cfg.MinBondSats - 1
	w = httptest.NewRecorder()
	st.identity.Upgrade(w, testutil.MakeRequest("POST", "/v1/identity/upgrade",
		models.UpgradeRequest{TargetTier: models.TierGovernance}, nil))
	testutil.AssertStatus(t, w, http.StatusForbidden)

	// Malformed body: 400
	w = httptest.NewRecorder()
	st.identity.Upgrade(w, httptest.NewRequest("POST", "/v1/identity/upgrade", strings.NewReader("{")))
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestUpgradeHandlerNotProvisioned(t *testing.T) {
	st := newTestStack(t)

	w := httptest.NewRecorder()
	st.identity.Upgrade(w, testutil.MakeRequest("POST", "/v1/identity/upgrade",
		models.UpgradeRequest{TargetTier: models.TierGovernance}, nil))
	testutil.AssertStatus(t, w, http.StatusConflict)
}

func TestSignHandler(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	w := httptest.NewRecorder()
	st.identity.Sign(w, testutil.MakeRequest("POST", "/v1/sign",
		models.SignRequest{Message: "checkpoint-7"}, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.SignResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Pubkey != st.nodeKey {
		t.Errorf("Expected pubkey %s, got %s", st.nodeKey, resp.Pubkey)
	}
	if err := st.signer.Verify(ctx, []byte("checkpoint-7"), resp.Signature, resp.Pubkey); err != nil {
		t.Errorf("Returned signature does not verify: %v", err)
	}

	// Empty message rejected
	w = httptest.NewRecorder()
	st.identity.Sign(w, testutil.MakeRequest("POST", "/v1/sign", models.SignRequest{}, nil))
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}
