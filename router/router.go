package router

import (
	"net/http"

	"github.com/clhive/archon/governance"
	"github.com/clhive/archon/handlers"
	"github.com/clhive/archon/identity"
	"github.com/clhive/archon/middleware"
	"github.com/clhive/archon/outbox"
	"github.com/clhive/archon/polls"
	"github.com/clhive/archon/signer"
)

func NewRouter(
	manager *identity.Manager,
	authority *governance.Authority,
	engine *polls.Engine,
	queue *outbox.Queue,
	s signer.Signer,
) *http.ServeMux {
	mux := http.NewServeMux()

	identityHandler := handlers.NewIdentityHandler(manager, authority, s)
	pollHandler := handlers.NewPollHandler(engine)
	outboxHandler := handlers.NewOutboxHandler(queue)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Identity and governance
	mux.HandleFunc("POST /v1/identity/provision", middleware.WithLogging(identityHandler.Provision))
	mux.HandleFunc("GET /v1/identity/status", middleware.WithLogging(identityHandler.Status))
	mux.HandleFunc("POST /v1/identity/bind-nostr", middleware.WithLogging(identityHandler.BindNostr))
	mux.HandleFunc("POST /v1/identity/bind-cln", middleware.WithLogging(identityHandler.BindCLN))
	mux.HandleFunc("POST /v1/identity/upgrade", middleware.WithLogging(identityHandler.Upgrade))
	mux.HandleFunc("POST /v1/sign", middleware.WithLogging(identityHandler.Sign))

	// Polls and voting
	mux.HandleFunc("POST /v1/polls", middleware.WithLogging(pollHandler.CreatePoll))
	mux.HandleFunc("GET /v1/polls/{id}", middleware.WithLogging(pollHandler.PollStatus))
	mux.HandleFunc("POST /v1/polls/{id}/votes", middleware.WithLogging(pollHandler.CastVote))
	mux.HandleFunc("GET /v1/votes/mine", middleware.WithLogging(pollHandler.MyVotes))

	// Maintenance and delivery
	mux.HandleFunc("POST /v1/maintenance/prune", middleware.WithLogging(pollHandler.Prune))
	mux.HandleFunc("POST /v1/outbox/process", middleware.WithLogging(outboxHandler.Process))
	mux.HandleFunc("POST /v1/outbox/retry", middleware.WithLogging(outboxHandler.Retry))

	// Root endpoint
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("archon API v1"))
	})

	return mux
}
