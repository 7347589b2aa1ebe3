/*
Package models defines the domain, request, and response types shared by
every component, plus the stable error-kind vocabulary of the RPC surface.

# Error Kinds

Every RPC either returns a success payload or an ErrorResponse whose Error
field is one of the Kind* constants. Handlers build these from *Failure
values returned by the engine packages; anything that is not a Failure is
treated as an internal fault.

# Derived Status

Poll.Status is computed from the deadline at read time and never persisted,
so a poll can never carry a stale lifecycle flag.
*/
package models
