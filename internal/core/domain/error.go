package domain

import (
	"errors"
	"fmt"
)

// Well-known error codes set by data-access operations.
const (
	CodeNetworkError = "NETWORK_ERROR"
	CodeConnRefused  = "ECONNREFUSED"
	CodeTimedOut     = "ETIMEDOUT"
)

// Error is the failure object returned by a data-access operation.
// All fields are optional; Err keeps the underlying cause when there is one.
type Error struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("%s (code=%s, status=%d)", e.msg(), e.Code, e.Status)
	case e.Status != 0:
		return fmt.Sprintf("%s (status=%d)", e.msg(), e.Status)
	case e.Code != "":
		return fmt.Sprintf("%s (code=%s)", e.msg(), e.Code)
	default:
		return e.msg()
	}
}

func (e *Error) msg() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "data source error"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
