package handlers

import (
	"context"
	"database/sql"
	"testing"

	"github.com/clhive/archon/cliparse"
	"github.com/clhive/archon/governance"
	"github.com/clhive/archon/identity"
	"github.com/clhive/archon/outbox"
	"github.com/clhive/archon/polls"
	"github.com/clhive/archon/signer"
	"github.com/clhive/archon/testutil"
)

// staticLedger reports a fixed balance or a fixed error.
type staticLedger struct {
	balance int64
	err     error
}

func (l staticLedger) AggregateBalanceSats(ctx context.Context, nodePubkey string) (int64, error) {
	return l.balance, l.err
}

// stack wires the full handler dependency graph over one test store.
type stack struct {
	conn      *sql.DB
	cfg       cliparse.Config
	signer    *signer.LocalSigner
	nodeKey   string
	ledger    *staticLedger
	manager   *identity.Manager
	authority *governance.Authority
	engine    *polls.Engine
	queue     *outbox.Queue
	identity  *IdentityHandler
	polls     *PollHandler
	outbox    *OutboxHandler
}

func newTestStack(t *testing.T) *stack {
	t.Helper()

	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()

	s, err := signer.NewLocalSigner()
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	nodeKey, err := s.NodeKey(context.Background())
	if err != nil {
		t.Fatalf("Failed to resolve node key: %v", err)
	}

	q, err := outbox.NewQueue(conn, cfg)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	ledger := &staticLedger{balance: cfg.MinBondSats * 2}
	manager := identity.NewManager(conn, cfg, s, q)
	authority := governance.NewAuthority(conn, cfg, ledger)
	engine := polls.NewEngine(conn, cfg, s, q)

	return &stack{
		conn:      conn,
		cfg:       cfg,
		signer:    s,
		nodeKey:   nodeKey,
		ledger:    ledger,
		manager:   manager,
		authority: authority,
		engine:    engine,
		queue:     q,
		identity:  NewIdentityHandler(manager, authority, s),
		polls:     NewPollHandler(engine),
		outbox:    NewOutboxHandler(q),
	}
}

// provisionGovernance provisions the stack's node and upgrades it so
// poll and vote handlers pass the tier gate.
func (st *stack) provisionGovernance(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.manager.Provision(ctx, false, "test-node"); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if _, err := st.authority.Upgrade(ctx, st.nodeKey, "governance", 0); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
}
