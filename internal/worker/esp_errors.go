package worker

import (
	"errors"
	"fmt"
)

// PermanentSendError marks a transport failure that retrying cannot fix:
// invalid address, rejected content, unverified sender. The dispatcher
// routes these straight to failed without consuming a retry slot.
type PermanentSendError struct {
	Code string
	Err  error
}

func (e *PermanentSendError) Error() string {
	return fmt.Sprintf("permanent send error (%s): %v", e.Code, e.Err)
}

func (e *PermanentSendError) Unwrap() error { return e.Err }

// Permanent wraps err as a permanent send error with the given code.
func Permanent(code string, err error) error {
	return &PermanentSendError{Code: code, Err: err}
}

// IsPermanent reports whether err (anywhere in its chain) is a permanent
// send error. Anything else (network failures, timeouts, provider 5xx,
// throttling) is treated as transient and retried.
func IsPermanent(err error) bool {
	var p *PermanentSendError
	return errors.As(err, &p)
}

// retryableStatus reports whether an HTTP status from an ESP API should be
// retried. 429 and 5xx are provider-side or throttling conditions; anything
// in the 4xx range besides 429 means the request itself is bad.
func retryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
