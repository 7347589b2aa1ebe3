package handlers

import (
	"net/http"

	"github.com/clhive/archon/governance"
	"github.com/clhive/archon/identity"
	"github.com/clhive/archon/middleware"
	"github.com/clhive/archon/models"
	"github.com/clhive/archon/signer"
)

type IdentityHandler struct {
	manager   *identity.Manager
	authority *governance.Authority
	signer    signer.Signer
}

func NewIdentityHandler(m *identity.Manager, a *governance.Authority, s signer.Signer) *IdentityHandler {
	return &IdentityHandler{manager: m, authority: a, signer: s}
}

// Provision handles POST /v1/identity/provision
func (h *IdentityHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req models.ProvisionRequest
	if r.ContentLength > 0 {
		if err := middleware.ParseJSONBody(r, &req); err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, models.KindInvalidRequest, "Invalid JSON")
			return
		}
	}

	resp, err := h.manager.Provision(r.Context(), req.Force, req.Label)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if resp.AlreadyProvisioned {
		status = http.StatusOK
	}
	middleware.JSONResponse(w, status, resp)
}

// Status handles GET /v1/identity/status
func (h *IdentityHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.manager.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// BindNostr handles POST /v1/identity/bind-nostr
func (h *IdentityHandler) BindNostr(w http.ResponseWriter, r *http.Request) {
	h.bind(w, r, models.BindingNostr)
}

// BindCLN handles POST /v1/identity/bind-cln
func (h *IdentityHandler) BindCLN(w http.ResponseWriter, r *http.Request) {
	h.bind(w, r, models.BindingCLN)
}

func (h *IdentityHandler) bind(w http.ResponseWriter, r *http.Request, kind string) {
	var req models.BindRequest
	if r.ContentLength > 0 {
		if err := middleware.ParseJSONBody(r, &req); err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, models.KindInvalidRequest, "Invalid JSON")
			return
		}
	}

	binding, err := h.manager.Bind(r.Context(), kind, req.Pubkey)
	if err != nil {
		writeError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, binding)
}

// Upgrade handles POST /v1/identity/upgrade
func (h *IdentityHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	var req models.UpgradeRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, models.KindInvalidRequest, "Invalid JSON")
		return
	}

	nodeKey, err := h.signer.NodeKey(r.Context())
	if err != nil {
		writeError(w, models.Failf(models.KindSignerUnavailable, "node key lookup failed: %v", err))
		return
	}

	result, err := h.authority.Upgrade(r.Context(), nodeKey, req.TargetTier, req.BondSats)
	if err != nil {
		writeError(w, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, result)
}

// Sign handles POST /v1/sign
func (h *IdentityHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var req models.SignRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, models.KindInvalidRequest, "Invalid JSON")
		return
	}
	if req.Message == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, models.KindInvalidRequest, "message is required")
		return
	}

	pubkey, err := h.signer.NodeKey(r.Context())
	if err != nil {
		writeError(w, models.Failf(models.KindSignerUnavailable, "node key lookup failed: %v", err))
		return
	}
	sig, err := h.signer.Sign(r.Context(), []byte(req.Message))
	if err != nil {
		writeError(w, models.Failf(models.KindSignerUnavailable, "signing failed: %v", err))
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.SignResponse{Signature: sig, Pubkey: pubkey})
}
