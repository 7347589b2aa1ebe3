/*
Package middleware provides HTTP plumbing shared by all handlers.

# Logging

WithLogging wraps a handler with structured request/completion logging:

	mux.HandleFunc("POST /v1/polls", middleware.WithLogging(h.CreatePoll))

# JSON Helpers

JSONResponse and ErrorResponse write the success and error envelopes.
Every error carries a stable kind from the models package plus a
human-readable message; there is no silent partial success.
*/
package middleware
