/**
 * @description
 * Sentinel errors for the custody engine.
 * Retry logic discriminates on these programmatically: validation errors are
 * returned to the caller and never retried, execution errors are recorded on
 * the row and retried by the cron until the cap.
 */

package services

import "errors"

// Validation errors: rejected at the door, not retried.
var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrAccountNotManaged      = errors.New("account is not managed custody")
	ErrExportBlocked          = errors.New("export blocked by pending operations")
	ErrExportNotConfirmable   = errors.New("export is not in a confirmable state")
	ErrExportNotCancellable   = errors.New("export is not in a cancellable state")
	ErrExportNotRetryable     = errors.New("export is not in a retryable state")
	ErrTransferNotCancellable = errors.New("transfer is not in a cancellable state")
	ErrPaymentDisputed        = errors.New("payment is disputed and can never settle")
	ErrPaymentNotSettleable   = errors.New("payment is not in a settleable state")
)

// Configuration errors: fatal, surfaced immediately.
var (
	ErrNoSigningKey = errors.New("no signing key available")
)

// Concurrency errors: a duplicate-key race resolved to a row that belongs to
// someone else. This must never be silently returned as the caller's account.
var (
	ErrOwnershipMismatch = errors.New("account ownership integrity violation")
)

// IsValidation reports whether err is a business-validation failure (as
// opposed to a transient execution failure worth retrying).
func IsValidation(err error) bool {
	for _, sentinel := range []error{
		ErrInsufficientBalance,
		ErrAccountNotManaged,
		ErrExportBlocked,
		ErrExportNotConfirmable,
		ErrExportNotCancellable,
		ErrExportNotRetryable,
		ErrTransferNotCancellable,
		ErrPaymentDisputed,
		ErrPaymentNotSettleable,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
