// Package haloerr defines the HALO error taxonomy. Errors are plain wrapped
// errors (compatible with errors.Is/errors.As via %w), not a custom code
// enum, following the teacher's fmt.Errorf("...: %w", err) convention
// throughout.
package haloerr

import "errors"

// Sentinel kinds. Components wrap these with context via fmt.Errorf so
// callers can still test the kind with errors.Is while getting a readable
// message.
var (
	// ErrTransport signals an RPC send/receive failure. Treated as a
	// host-liveness signal by the Host State Tracker.
	ErrTransport = errors.New("transport error")

	// ErrTimeout signals a subprocess or RPC exceeded its budget.
	ErrTimeout = errors.New("timeout")

	// ErrOcf signals a non-zero OCF return code from an actionable
	// operation (start/stop). Monitor's "not running" (7) is not itself
	// an error; it is a status.
	ErrOcf = errors.New("ocf error")

	// ErrFence signals a fence-agent subprocess failure. Retried per the
	// fencing backoff policy, then fatal for that host.
	ErrFence = errors.New("fence error")

	// ErrConfig signals malformed or inconsistent configuration at
	// startup. Aborts before the main loop runs.
	ErrConfig = errors.New("config error")

	// ErrInvariant signals a detected cluster-state inconsistency (e.g.
	// two hosts both running a resource). Never silently repaired.
	ErrInvariant = errors.New("invariant violation")
)

// IsLiveness reports whether err should count toward a host's
// consecutive-failure escalation threshold rather than being surfaced as a
// resource-level fault.
func IsLiveness(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout)
}
