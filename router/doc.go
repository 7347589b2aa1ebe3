/*
Package router defines the route table for the archon RPC surface using
Go 1.22+ method-and-pattern routing.

The write paths (poll creation, voting) are tier-gated inside the
engines, not here: the router only maps URLs to handlers and wraps them
with request logging.
*/
package router
