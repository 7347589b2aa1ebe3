package identity

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clhive/archon/cliparse"
	"github.com/clhive/archon/models"
	"github.com/clhive/archon/outbox"
	"github.com/clhive/archon/signer"
)

// MaxLabelLen bounds the optional provisioning label.
const MaxLabelLen = 120

// kindSpec is the per-kind validation table for external keys. Adding a
// binding kind means adding a row here and to the store CHECK constraint.
type kindSpec struct {
	hexLen      int
	nodeKey     bool // must be a well-formed compressed secp256k1 key
	defaultSelf bool // empty subject defaults to the node's own key
}

var bindingKinds = map[string]kindSpec{
	models.BindingNostr: {hexLen: 64},
	models.BindingCLN:   {hexLen: 66, nodeKey: true, defaultSelf: true},
}

// Manager owns identity provisioning, bindings, and the status view.
type Manager struct {
	db     *sql.DB
	cfg    cliparse.Config
	signer signer.Signer
	queue  *outbox.Queue
}

func NewManager(db *sql.DB, cfg cliparse.Config, s signer.Signer, q *outbox.Queue) *Manager {
	return &Manager{db: db, cfg: cfg, signer: s, queue: q}
}

// nodeKey resolves and validates the node's own pubkey via the signer.
func (m *Manager) nodeKey(ctx context.Context) (string, error) {
	key, err := m.signer.NodeKey(ctx)
	if err != nil {
		return "", models.Failf(models.KindSignerUnavailable, "node key lookup failed: %v", err)
	}
	if !signer.ValidNodeKey(key) {
		return "", models.Failf(models.KindInvalidKeyFormat, "node key is not a well-formed compressed public key")
	}
	return key, nil
}

// Provision derives (or returns) the node's identity. Without force it is
// idempotent for a stable node key; with force a new identifier generation
// is derived and the prior one is kept in the audit trail.
func (m *Manager) Provision(ctx context.Context, force bool, label string) (*models.ProvisionResponse, error) {
	label = strings.TrimSpace(label)
	if len(label) > MaxLabelLen {
		return nil, models.Failf(models.KindInvalidRequest, "label too long (max %d chars)", MaxLabelLen)
	}

	nodeKey, err := m.nodeKey(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanIdentityTx(tx, nodeKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query identity: %w", err)
	}

	if existing != nil && !force {
		return &models.ProvisionResponse{Identity: *existing, AlreadyProvisioned: true}, nil
	}

	now := time.Now().Unix()
	generation := int64(1)
	if existing != nil {
		generation = existing.Generation + 1
	}

	did, err := DeriveDID(nodeKey, generation)
	if err != nil {
		return nil, models.Failf(models.KindInvalidKeyFormat, "identifier derivation failed: %v", err)
	}

	if existing != nil {
		if label == "" {
			label = existing.Label
		}
		_, err = tx.Exec(`
			UPDATE identity
			SET did = ?, generation = ?, label = ?, updated_at = ?
			WHERE node_pubkey = ?
		`, did, generation, label, now, nodeKey)
		if err != nil {
			return nil, fmt.Errorf("failed to update identity: %w", err)
		}
		// Supersede, never delete: the old identifier stays resolvable
		_, err = tx.Exec(`
			UPDATE did_history SET superseded_at = ?
			WHERE node_pubkey = ? AND superseded_at IS NULL
		`, now, nodeKey)
		if err != nil {
			return nil, fmt.Errorf("failed to supersede identifier history: %w", err)
		}
	} else {
		_, err = tx.Exec(`
			INSERT INTO identity (node_pubkey, did, generation, label, tier, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, nodeKey, did, generation, label, models.TierBasic, now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert identity: %w", err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO did_history (did, node_pubkey, generation, created_at)
		VALUES (?, ?, ?, ?)
	`, did, nodeKey, generation, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record identifier history: %w", err)
	}

	err = m.queue.Enqueue(tx, models.OpIdentityGenerate, outbox.IdentityPayload{
		DID:        did,
		NodePubkey: nodeKey,
		Label:      label,
		Timestamp:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue identity sync: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit identity: %w", err)
	}

	slog.Info("identity provisioned", "did", did, "generation", generation, "force", force)

	ident, err := m.Get(ctx, nodeKey)
	if err != nil {
		return nil, err
	}
	return &models.ProvisionResponse{Identity: *ident}, nil
}

// AttestationPayload is the canonical byte encoding signed for a binding.
func AttestationPayload(did, kind, subject string, ts int64) []byte {
	return fmt.Appendf(nil, "hive-attest/v1\n%s\n%s\n%s\n%d", did, kind, subject, ts)
}

// Bind attests that the node's DID controls an external-namespace key.
// Signer failures are propagated to the caller, not retried.
func (m *Manager) Bind(ctx context.Context, kind, externalKey string) (*models.Binding, error) {
	spec, ok := bindingKinds[kind]
	if !ok {
		return nil, models.Failf(models.KindUnknownBindingKind, "unknown binding kind %q", kind)
	}

	subject := strings.ToLower(strings.TrimSpace(externalKey))

	nodeKey, err := m.nodeKey(ctx)
	if err != nil {
		return nil, err
	}
	if subject == "" && spec.defaultSelf {
		subject = nodeKey
	}
	if !validHex(subject, spec.hexLen) {
		return nil, models.Failf(models.KindInvalidExternalKey, "invalid %s key (expected %d hex chars)", kind, spec.hexLen)
	}
	if spec.nodeKey && !signer.ValidNodeKey(subject) {
		return nil, models.Failf(models.KindInvalidExternalKey, "invalid %s key (expected compressed secp256k1 pubkey)", kind)
	}

	ident, err := m.Get(ctx, nodeKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	payload := AttestationPayload(ident.DID, kind, subject, now)
	sig, err := m.signer.Sign(ctx, payload)
	if err != nil {
		return nil, models.Failf(models.KindSignerUnavailable, "attestation signing failed: %v", err)
	}

	idSum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%s:%d", ident.DID, kind, subject, now))
	binding := &models.Binding{
		ID:        hex.EncodeToString(idSum[:])[:32],
		DID:       ident.DID,
		Kind:      kind,
		Subject:   subject,
		Signature: sig,
		SignedAt:  now,
		CreatedAt: now,
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO binding (id, did, kind, subject, signature, signed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, binding.ID, binding.DID, binding.Kind, binding.Subject, binding.Signature, binding.SignedAt, binding.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert binding: %w", err)
	}

	slog.Info("binding created", "binding_id", binding.ID, "kind", kind)

	return binding, nil
}

// Get loads the identity for a node key, or a not_provisioned failure.
func (m *Manager) Get(ctx context.Context, nodeKey string) (*models.Identity, error) {
	row := m.db.QueryRowContext(ctx, identitySelect+" WHERE node_pubkey = ?", nodeKey)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Failf(models.KindNotProvisioned, "identity not provisioned; call provision first")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	return ident, nil
}

// Resolve looks an identifier up in the audit trail; superseded
// identifiers remain resolvable forever.
func (m *Manager) Resolve(ctx context.Context, did string) (*models.DIDRecord, error) {
	var rec models.DIDRecord
	var superseded sql.NullInt64
	err := m.db.QueryRowContext(ctx, `
		SELECT did, node_pubkey, generation, created_at, superseded_at
		FROM did_history WHERE did = ?
	`, did).Scan(&rec.DID, &rec.NodePubkey, &rec.Generation, &rec.CreatedAt, &superseded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Failf(models.KindInvalidRequest, "unknown identifier %q", did)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identifier: %w", err)
	}
	rec.SupersededAt = superseded.Int64
	return &rec, nil
}

// Status returns the read-only aggregate view: identity, binding counts,
// identifier history, and poll/vote counters.
func (m *Manager) Status(ctx context.Context) (*models.StatusResponse, error) {
	resp := &models.StatusResponse{
		Bindings:       map[string]int{models.BindingNostr: 0, models.BindingCLN: 0},
		SyncEnabled:    m.cfg.SyncEnabled,
		CoordinatorURL: m.cfg.CoordinatorURL,
		MinBondSats:    m.cfg.MinBondSats,
	}

	nodeKey, err := m.nodeKey(ctx)
	if err != nil {
		return nil, err
	}

	ident, err := m.Get(ctx, nodeKey)
	if err != nil {
		var f *models.Failure
		if errors.As(err, &f) && f.Kind == models.KindNotProvisioned {
			return resp, nil
		}
		return nil, err
	}
	resp.Identity = ident

	rows, err := m.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM binding WHERE did = ? GROUP BY kind`, ident.DID)
	if err != nil {
		return nil, fmt.Errorf("failed to count bindings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan binding count: %w", err)
		}
		resp.Bindings[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate binding counts: %w", err)
	}

	now := time.Now().Unix()
	err = m.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN deadline > ? THEN 1 END),
			COUNT(CASE WHEN deadline <= ? THEN 1 END)
		FROM poll
	`, now, now).Scan(&resp.ActivePolls, &resp.ClosedPolls)
	if err != nil {
		return nil, fmt.Errorf("failed to count polls: %w", err)
	}

	err = m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vote`).Scan(&resp.TotalVotes)
	if err != nil {
		return nil, fmt.Errorf("failed to count votes: %w", err)
	}

	resp.History, err = m.history(ctx, nodeKey)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (m *Manager) history(ctx context.Context, nodeKey string) ([]models.DIDRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT did, node_pubkey, generation, created_at, superseded_at
		FROM did_history WHERE node_pubkey = ? ORDER BY generation DESC
	`, nodeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query identifier history: %w", err)
	}
	defer rows.Close()

	history := []models.DIDRecord{}
	for rows.Next() {
		var rec models.DIDRecord
		var superseded sql.NullInt64
		if err := rows.Scan(&rec.DID, &rec.NodePubkey, &rec.Generation, &rec.CreatedAt, &superseded); err != nil {
			return nil, fmt.Errorf("failed to scan identifier history: %w", err)
		}
		rec.SupersededAt = superseded.Int64
		history = append(history, rec)
	}
	return history, rows.Err()
}

const identitySelect = `
	SELECT node_pubkey, did, generation, label, tier, bond_sats, bond_verified_at, created_at, updated_at
	FROM identity`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var ident models.Identity
	var verifiedAt sql.NullInt64
	err := row.Scan(
		&ident.NodePubkey, &ident.DID, &ident.Generation, &ident.Label,
		&ident.Tier, &ident.BondSats, &verifiedAt, &ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ident.BondVerifiedAt = verifiedAt.Int64
	return &ident, nil
}

func scanIdentityTx(tx *sql.Tx, nodeKey string) (*models.Identity, error) {
	return scanIdentity(tx.QueryRow(identitySelect+" WHERE node_pubkey = ?", nodeKey))
}

func validHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
