package sessionstore

import (
	"errors"
	"strings"
)

// Common errors for session store operations.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidSID       = errors.New("session id is required")
	ErrProvisioning     = errors.New("schema provisioning failed")
	ErrUnimplemented    = errors.New("operation not implemented")
	ErrNotFound         = errors.New("instance not found")
	ErrAlreadyExists    = errors.New("instance already exists")
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrClosed           = errors.New("store closed")
)

// Error codes carried by QueryError entries.
const (
	CodeNotFound          = "instance not found"
	CodeAlreadyExists     = "instance already exists"
	CodeInvalidRef        = "invalid ref"
	CodeInvalidExpression = "invalid expression"
	CodeUnavailable       = "unavailable"
)

// ErrorEntry is one error reported by an executor.
type ErrorEntry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// QueryError is a rejected query. It keeps every entry the executor
// reported; Error joins their descriptions with a comma.
type QueryError struct {
	Errors []ErrorEntry
}

// NewQueryError returns a QueryError with a single entry.
func NewQueryError(code, description string) *QueryError {
	return &QueryError{Errors: []ErrorEntry{{Code: code, Description: description}}}
}

func (e *QueryError) Error() string {
	descriptions := make([]string, 0, len(e.Errors))
	for _, entry := range e.Errors {
		descriptions = append(descriptions, entry.Description)
	}
	return strings.Join(descriptions, ",")
}

// HasCode reports whether any entry carries code.
func (e *QueryError) HasCode(code string) bool {
	for _, entry := range e.Errors {
		if entry.Code == code {
			return true
		}
	}
	return false
}

// Is matches ErrNotFound and ErrAlreadyExists when every entry carries the
// corresponding code. A mixed rejection matches neither.
func (e *QueryError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.onlyCode(CodeNotFound)
	case ErrAlreadyExists:
		return e.onlyCode(CodeAlreadyExists)
	}
	return false
}

func (e *QueryError) onlyCode(code string) bool {
	if len(e.Errors) == 0 {
		return false
	}
	for _, entry := range e.Errors {
		if entry.Code != code {
			return false
		}
	}
	return true
}

// AsQueryError returns err as a *QueryError. Errors that are not already
// query errors become a single entry with CodeUnavailable.
func AsQueryError(err error) *QueryError {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	code := CodeUnavailable
	switch {
	case errors.Is(err, ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, ErrAlreadyExists):
		code = CodeAlreadyExists
	}
	return NewQueryError(code, err.Error())
}
