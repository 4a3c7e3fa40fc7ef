package broker

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rxtech-lab/argo-live/pkg/errors"
)

// RetryAfterError carries the broker's rate-limit reset hint.
type RetryAfterError struct {
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.Delay)
}

// NewRateLimited returns a rate-limit error carrying delay.
func NewRateLimited(message string, delay time.Duration) error {
	return errors.Wrap(errors.ErrCodeBrokerRateLimited, message, &RetryAfterError{Delay: delay})
}

// RetryAfter returns the reset hint of a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if stderrors.As(err, &ra) {
		return ra.Delay, true
	}

	return 0, false
}

// FromStatus maps an HTTP status and response message to a broker error class.
func FromStatus(status int, message string) error {
	lower := strings.ToLower(message)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Newf(errors.ErrCodeBrokerUnauthorized, "unauthorized: %s", message)
	case status == http.StatusNotFound && strings.Contains(lower, "position"):
		return errors.Newf(errors.ErrCodeBrokerPositionNotFound, "position not found: %s", message)
	case status == http.StatusNotFound && strings.Contains(lower, "asset"):
		return errors.Newf(errors.ErrCodeBrokerAssetNotFound, "asset not found: %s", message)
	case status == http.StatusNotFound:
		return errors.Newf(errors.ErrCodeBrokerNotFound, "not found: %s", message)
	case status == http.StatusUnprocessableEntity && strings.Contains(lower, "asset"):
		return errors.Newf(errors.ErrCodeBrokerAssetNotFound, "asset not found: %s", message)
	case status == http.StatusTooManyRequests:
		return NewRateLimited(message, 0)
	case status >= http.StatusInternalServerError:
		return errors.Newf(errors.ErrCodeBrokerServerError, "server error %d: %s", status, message)
	case status >= http.StatusBadRequest:
		return errors.Newf(errors.ErrCodeBrokerBadRequest, "bad request %d: %s", status, message)
	default:
		return nil
	}
}

// IsTransient reports whether a retry may succeed.
func IsTransient(err error) bool {
	return errors.HasCodeInChain(err, errors.ErrCodeBrokerRateLimited) ||
		errors.HasCodeInChain(err, errors.ErrCodeBrokerServerError) ||
		errors.HasCodeInChain(err, errors.ErrCodeBrokerTimeout) ||
		errors.HasCodeInChain(err, errors.ErrCodeBrokerStreamFailed)
}

// IsFatal reports whether the credentials were refused.
func IsFatal(err error) bool {
	return errors.HasCodeInChain(err, errors.ErrCodeBrokerUnauthorized)
}

// IsTimeout reports whether the call timed out with an unknown outcome.
func IsTimeout(err error) bool {
	return errors.HasCodeInChain(err, errors.ErrCodeBrokerTimeout)
}
