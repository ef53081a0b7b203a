package session

import (
	"github.com/example/recon-engine/internal/recon"
)

// Operations checked against the session status.
const (
	OpRunPass          = "run_pass"
	OpStopPass         = "stop_pass"
	OpCancel           = "cancel"
	OpResolveMatch     = "resolve_match"
	OpImportStatements = "import_statements"
)

// AllowedTransitions returns the session state machine.
func AllowedTransitions() map[recon.SessionStatus][]recon.SessionStatus {
	return map[recon.SessionStatus][]recon.SessionStatus{
		// A pass that exhausts retries before it can start fails the session.
		recon.StatusPending:    {recon.StatusInProgress, recon.StatusFailed, recon.StatusCancelled},
		recon.StatusInProgress: {recon.StatusInProgress, recon.StatusCompleted, recon.StatusFailed, recon.StatusCancelled},
		recon.StatusFailed:     {recon.StatusInProgress, recon.StatusCancelled},
		recon.StatusCompleted:  {}, // Terminal state
		recon.StatusCancelled:  {}, // Terminal state
	}
}

// IsValidTransition checks if a status transition is allowed
func IsValidTransition(from, to recon.SessionStatus) bool {
	for _, s := range AllowedTransitions()[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesOf lists the statuses from which to is reachable, in a stable order.
func SourcesOf(to recon.SessionStatus) []recon.SessionStatus {
	var out []recon.SessionStatus
	for _, from := range []recon.SessionStatus{
		recon.StatusPending,
		recon.StatusInProgress,
		recon.StatusFailed,
		recon.StatusCompleted,
		recon.StatusCancelled,
	} {
		if IsValidTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// ValidateOperation checks if an operation is allowed for the given status
func ValidateOperation(sess *recon.Session, operation string) error {
	ok := true
	switch operation {
	case OpRunPass:
		ok = IsValidTransition(sess.Status, recon.StatusInProgress)
	case OpStopPass:
		ok = sess.Status == recon.StatusInProgress
	case OpCancel:
		ok = IsValidTransition(sess.Status, recon.StatusCancelled)
	case OpResolveMatch, OpImportStatements:
		ok = !sess.Status.Terminal()
	default:
		return recon.NewValidationError("operation", "unknown operation "+operation)
	}
	if !ok {
		return recon.NewConflictError("session", sess.ID, operation+" not allowed in status "+string(sess.Status))
	}
	return nil
}
