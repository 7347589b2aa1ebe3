package models

import "fmt"

// Failure is a classified, user-visible request failure. Engines return
// *Failure for anything that should surface as a structured RPC error;
// every other error is an internal fault and maps to a 500.
type Failure struct {
	Kind    string
	Message string
}

func (f *Failure) Error() string { return f.Message }

// Failf builds a Failure with a formatted message.
func Failf(kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
