package services

import "github.com/pkg/errors"

// Error kinds of the palette engine. Handlers branch on these with errors.Is
// to pick the HTTP status and error code; everything else is an internal
// failure.
var (
	// ErrValidation marks a client-fixable request problem. Nothing has
	// been mutated when it is returned.
	ErrValidation = errors.New("validation failed")

	// ErrChequeNotFound is returned for an unknown cheque ID.
	ErrChequeNotFound = errors.New("cheque not found")

	// ErrSiteNotFound is returned for an unknown site ID.
	ErrSiteNotFound = errors.New("site not found")

	// ErrDisputeNotFound is returned for an unknown dispute ID.
	ErrDisputeNotFound = errors.New("dispute not found")

	// ErrInvalidStateTransition is returned when the requested transition
	// is not in the cheque's transition table for its current status.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrStatusConflict is returned when a compare-and-swap lost against a
	// concurrent transition. Retryable: the caller should re-fetch and
	// re-evaluate.
	ErrStatusConflict = errors.New("concurrent status change")

	// ErrDuplicateOpenDispute is returned when the cheque already has an
	// unresolved dispute.
	ErrDuplicateOpenDispute = errors.New("cheque already has an open dispute")

	// ErrSignatureMismatch is returned when a scanned cheque fails
	// crypto-signature verification. Fatal: flagged for manual review,
	// never auto-corrected.
	ErrSignatureMismatch = errors.New("cheque signature verification failed")
)

// validationError wraps ErrValidation with a caller-facing detail.
func validationError(detail string) error {
	return errors.Wrap(ErrValidation, detail)
}
