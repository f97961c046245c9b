package wsevent

import "github.com/castlab/studio/internal/errors"

const (
	ErrCodeParseError errors.Code = "parse error"
	ErrClosed         errors.Code = "closed"
)

// Error is a handler failure whose message is safe to send to the peer.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return "wsevent error: " + e.Message
}

func ErrInvalidData(message string) *Error {
	return &Error{Message: message}
}

func ErrPublic(message string) *Error {
	return &Error{Message: message}
}
