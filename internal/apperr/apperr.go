// Package apperr defines the error kinds surfaced by the settlement core.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrForbidden         = errors.New("forbidden")
	ErrAlreadyTerminal   = errors.New("order already terminal")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPriceOutOfRange   = errors.New("price out of range")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrNotFound          = errors.New("not found")

	// ErrOrderExpired: past the payment deadline but not yet swept.
	ErrOrderExpired = errors.New("order expired")
	// ErrConflict: a compare-and-swap write lost to a concurrent writer.
	ErrConflict = errors.New("concurrent update")
)

// Kind returns a stable machine-readable name for err.
// ErrPaymentFailed is checked first so composite payment errors keep their outer kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"

	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"

	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"

	case errors.Is(err, ErrForbidden):
		return "forbidden"

	case errors.Is(err, ErrAlreadyTerminal):
		return "already_terminal"

	case errors.Is(err, ErrOrderExpired):
		return "order_expired"

	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"

	case errors.Is(err, ErrPriceOutOfRange):
		return "price_out_of_range"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrConflict):
		return "conflict"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

// NoLongerAvailable reports whether err means the order can no longer be paid:
// it was cancelled (possibly by the sweeper) or its deadline passed.
func NoLongerAvailable(err error) bool {
	return errors.Is(err, ErrAlreadyTerminal) || errors.Is(err, ErrOrderExpired)
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrPaymentFailed):
		return http.StatusPaymentRequired

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrPriceOutOfRange):
		return http.StatusBadRequest

	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrAlreadyTerminal),
		errors.Is(err, ErrOrderExpired):
		return http.StatusGone

	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConflict):
		return http.StatusConflict

	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
