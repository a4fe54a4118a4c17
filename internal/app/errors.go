package app

import (
	"errors"
	"fmt"
)

// DomainError is a failure the HTTP layer reports as-is: Status becomes the
// response code, Code and Message the JSON body.
type DomainError struct {
	Status  int
	Code    string
	Message string
	// Details is echoed under "details", usually the ids involved.
	Details any
	// Err is the underlying failure. It is logged, never sent to clients.
	Err error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func (e *DomainError) withCause(err error) *DomainError {
	e.Err = err
	return e
}

// ErrorCode returns the code of the DomainError in err's chain, or "".
func ErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
