package resilience

import (
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Class says whether a failed call is worth repeating.
type Class int

const (
	// ClassNone is the class of a nil error.
	ClassNone Class = iota
	// ClassTransient failures may succeed on a later attempt.
	ClassTransient
	// ClassPermanent failures return the same answer every time.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return ""
	}
}

// TransientError marks a failure that may clear up: a timeout, a throttled
// request, a 5xx answer or an unreadable body. StatusCode is 0 when no HTTP
// response was received.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError marks err as transient, keeping the HTTP status if any.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError marks a failure that asking again cannot fix, such as a
// lookup that cleanly returned no match.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError marks err as permanent.
func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}

// Classify reports the class of err. Errors with no explicit mark count as
// transient: a service failure of unknown shape is worth another attempt.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case IsPermanent(err):
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return err != nil && errors.As(err, &pe)
}

// IsTransient reports whether err carries a TransientError or is a network
// failure that usually clears up: timeouts, resets, refused connections,
// DNS errors and truncated responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	for _, target := range []error{
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		syscall.ECONNABORTED,
		syscall.EPIPE,
		io.ErrUnexpectedEOF,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether a geocoding service answering with
// code is likely to answer differently later.
func IsTransientHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
