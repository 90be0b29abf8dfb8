package cql

import (
	"errors"
	"fmt"
)

// SyntaxError reports a malformed condition clause or literal
type SyntaxError struct {
	Msg string
}

func (e *SyntaxError) Error() string {
	return e.Msg
}

// InvalidRequestError reports a well-formed statement that is illegal for the
// table it targets. Messages are part of the client contract.
type InvalidRequestError struct {
	Msg string
}

func (e *InvalidRequestError) Error() string {
	return e.Msg
}

// Syntaxf builds a SyntaxError
func Syntaxf(format string, args ...interface{}) error {
	return &SyntaxError{Msg: fmt.Sprintf(format, args...)}
}

// Invalidf builds an InvalidRequestError
func Invalidf(format string, args ...interface{}) error {
	return &InvalidRequestError{Msg: fmt.Sprintf(format, args...)}
}

// IsSyntaxError reports whether err wraps a SyntaxError
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}

// IsInvalidRequest reports whether err wraps an InvalidRequestError
func IsInvalidRequest(err error) bool {
	var ie *InvalidRequestError
	return errors.As(err, &ie)
}
