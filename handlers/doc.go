/*
Package handlers contains the HTTP adapters for the RPC surface.

Handlers stay thin: parse the request, call the owning engine, map the
result. Classified failures become structured errors with stable kinds;
everything else is an internal fault. No handler touches the store
directly.
*/
package handlers
