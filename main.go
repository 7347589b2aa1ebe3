package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/clhive/archon/cliparse"
	"github.com/clhive/archon/db"
	"github.com/clhive/archon/governance"
	"github.com/clhive/archon/identity"
	"github.com/clhive/archon/lightning"
	"github.com/clhive/archon/outbox"
	"github.com/clhive/archon/polls"
	"github.com/clhive/archon/router"
	"github.com/clhive/archon/signer"
)

// unavailableLedger is wired when no node RPC socket is configured; tier
// upgrades then fail closed instead of trusting claims.
type unavailableLedger struct{}

func (unavailableLedger) AggregateBalanceSats(ctx context.Context, nodePubkey string) (int64, error) {
	return 0, errors.New("node rpc not configured; cannot verify bond")
}

func main() {
	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	// Open the local store
	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	// Create schema (tables)
	if err := db.CreateSchema(conn); err != nil {
		slog.Error("schema creation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store schema ready", "path", cfg.DBPath)

	// Wire the external collaborators
	var sgn signer.Signer
	var ledger governance.BondLedger
	if cfg.NodeRPCPath != "" {
		client := lightning.NewClient(cfg.NodeRPCPath)
		sgn = client
		ledger = client
	} else {
		slog.Warn("no node rpc socket configured; using local signer, bond verification disabled")
		local, err := signer.NewLocalSigner()
		if err != nil {
			slog.Error("local signer init failed", "error", err)
			os.Exit(1)
		}
		sgn = local
		ledger = unavailableLedger{}
	}

	// Construct components
	queue, err := outbox.NewQueue(conn, cfg)
	if err != nil {
		slog.Error("outbox init failed", "error", err)
		os.Exit(1)
	}
	manager := identity.NewManager(conn, cfg, sgn, queue)
	authority := governance.NewAuthority(conn, cfg, ledger)
	engine := polls.NewEngine(conn, cfg, sgn, queue)

	// Create router
	mux := router.NewRouter(manager, authority, engine, queue, sgn)

	// Create server
	server := http.Server{
		Handler: mux,
		Addr:    "127.0.0.1:" + strconv.Itoa(cfg.Port),
	}

	// signal.Notify requires the channel to be buffered
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)
	go func() {
		// Wait for Ctrl-C signal
		<-ctrlc
		server.Close()
	}()

	// Start server
	slog.Info("Listening", "port", cfg.Port, "sync_enabled", cfg.SyncEnabled)
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		slog.Error("Server closed", "error", err)
	} else {
		slog.Info("Server closed", "error", err)
	}
}
