// Package ferrors defines the error kinds from spec §7 as concrete,
// wrappable types so dispatch code can branch with errors.As instead of
// string matching.
package ferrors

import "fmt"

// TransportError wraps a bus connectivity failure. Callers retry with
// backoff and reconnect indefinitely.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage failure. Writes go to a bounded retry
// queue; in-memory state stays authoritative for live decisions.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// RemoteRPCError wraps a PMS RPC failure, subject to bounded exponential
// backoff and circuit breaking.
type RemoteRPCError struct {
	Op  string
	Err error
}

func (e *RemoteRPCError) Error() string { return fmt.Sprintf("pms rpc: %s: %v", e.Op, e.Err) }
func (e *RemoteRPCError) Unwrap() error { return e.Err }

// CircuitOpen is returned when the PMS circuit breaker is open and a call
// fails fast without attempting the RPC.
type CircuitOpen struct {
	Breaker string
}

func (e *CircuitOpen) Error() string { return fmt.Sprintf("circuit breaker open: %s", e.Breaker) }

// DecodeError wraps a malformed inbound payload. It is logged and the
// message is dropped; it never crashes the ingestion loop.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.Topic, e.Err) }
func (e *DecodeError) Unwrap() error  { return e.Err }

// InvariantViolation is fatal: the process terminates rather than
// continue with state it cannot trust.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation [%s]: %s", e.Invariant, e.Detail)
}
