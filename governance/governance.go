package governance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clhive/archon/cliparse"
	"github.com/clhive/archon/models"
)

// bondQueryTimeout bounds the external balance lookup; a timeout is a
// verification failure, never a pass.
const bondQueryTimeout = 10 * time.Second

// claimSlack is how far a claimed bond may exceed the verified balance
// before the disagreement is treated as material.
const claimSlack = 1.05

// BondLedger is the external collaborator reporting a node's aggregate
// channel balance.
type BondLedger interface {
	AggregateBalanceSats(ctx context.Context, nodePubkey string) (int64, error)
}

// Authority validates proof-of-stake and persists tier changes.
type Authority struct {
	db     *sql.DB
	cfg    cliparse.Config
	ledger BondLedger
}

func NewAuthority(db *sql.DB, cfg cliparse.Config, ledger BondLedger) *Authority {
	return &Authority{db: db, cfg: cfg, ledger: ledger}
}

// Tier returns the current governance tier for a node key. An
// unprovisioned node is basic tier.
func Tier(ctx context.Context, db *sql.DB, nodePubkey string) (string, error) {
	var tier string
	err := db.QueryRowContext(ctx, `SELECT tier FROM identity WHERE node_pubkey = ?`, nodePubkey).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TierBasic, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query tier: %w", err)
	}
	return tier, nil
}

// Upgrade verifies the node's bonded balance against the external ledger
// and, if it clears the configured threshold, sets governance tier. The
// verification fails closed: ledger errors, timeouts, and material
// disagreement with the claim all leave the tier untouched. Downgrade is
// never automatic; the basic target is an explicit demotion.
func (a *Authority) Upgrade(ctx context.Context, nodePubkey, targetTier string, claimedBondSats int64) (*models.TierResult, error) {
	if targetTier != models.TierBasic && targetTier != models.TierGovernance {
		return nil, models.Failf(models.KindInvalidRequest, "invalid target_tier %q (valid: basic, governance)", targetTier)
	}
	if claimedBondSats < 0 {
		return nil, models.Failf(models.KindInvalidRequest, "bond_sats must be non-negative")
	}

	var did string
	err := a.db.QueryRowContext(ctx, `SELECT did FROM identity WHERE node_pubkey = ?`, nodePubkey).Scan(&did)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Failf(models.KindNotProvisioned, "identity not provisioned; call provision first")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	now := time.Now().Unix()

	if targetTier == models.TierBasic {
		if err := a.setTier(ctx, nodePubkey, models.TierBasic, 0, now); err != nil {
			return nil, err
		}
		slog.Info("tier demoted", "node", nodePubkey)
		return &models.TierResult{DID: did, Tier: models.TierBasic, VerifiedAt: now}, nil
	}

	// The external query runs before, and outside of, any store
	// transaction; no lock is held while waiting on the ledger.
	queryCtx, cancel := context.WithTimeout(ctx, bondQueryTimeout)
	defer cancel()
	actual, err := a.ledger.AggregateBalanceSats(queryCtx, nodePubkey)
	if err != nil {
		slog.Warn("bond verification failed", "node", nodePubkey, "error", err)
		return nil, models.Failf(models.KindBondVerificationFailed, "bond verification failed: %v", err)
	}

	if claimedBondSats > 0 && float64(claimedBondSats) > float64(actual)*claimSlack {
		return nil, models.Failf(models.KindBondVerificationFailed,
			"claimed bond %d materially exceeds verified balance %d", claimedBondSats, actual)
	}

	if actual < a.cfg.MinBondSats {
		return nil, models.Failf(models.KindInsufficientBond,
			"verified balance %d below required bond %d", actual, a.cfg.MinBondSats)
	}

	if err := a.setTier(ctx, nodePubkey, models.TierGovernance, actual, now); err != nil {
		return nil, err
	}

	slog.Info("tier upgraded", "node", nodePubkey, "bond_sats", actual)

	return &models.TierResult{
		DID:        did,
		Tier:       models.TierGovernance,
		BondSats:   actual,
		VerifiedAt: now,
	}, nil
}

func (a *Authority) setTier(ctx context.Context, nodePubkey, tier string, bondSats, now int64) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE identity
		SET tier = ?, bond_sats = ?, bond_verified_at = ?, updated_at = ?
		WHERE node_pubkey = ?
	`, tier, bondSats, now, now, nodePubkey)
	if err != nil {
		return fmt.Errorf("failed to persist tier: %w", err)
	}
	return nil
}
