package call

import "errors"

// Sentinel errors for the call core, extending the teacher's
// errors.New + %w wrapping style (pkg/orchestrator/errors.go) with the
// error kinds enumerated in spec.md §7.
var (
	ErrCallNotFound        = errors.New("call not found")
	ErrTransferNotEligible = errors.New("transfer requires all five qualification fields to be true")
	ErrSTTUnavailable      = errors.New("speech-to-text session unavailable after reconnect")
	ErrProviderRejected    = errors.New("telephony provider rejected the control-plane request")
	ErrUnauthorized        = errors.New("telephony or provider credentials rejected")
	ErrQuotaExceeded       = errors.New("provider quota exceeded")
	ErrInvariantViolation  = errors.New("call invariant violated")
	ErrAlreadyTerminal     = errors.New("call already in terminal state")
)
