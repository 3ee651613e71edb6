package game

import (
	"errors"
	"fmt"
)

// Code classifies an engine failure. Codes are part of the wire contract.
type Code string

const (
	CodeInvalidPhase           Code = "INVALID_PHASE"
	CodeInsufficientBudget     Code = "INSUFFICIENT_BUDGET"
	CodeInvalidTarget          Code = "INVALID_TARGET"
	CodeCardRequirementsNotMet Code = "CARD_REQUIREMENTS_NOT_MET"
	CodeGameNotRunning         Code = "GAME_NOT_RUNNING"
	CodeNotAuthorized          Code = "NOT_AUTHORIZED"
)

// Error is a rejected engine operation. The input state is left untouched.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidPhase           = &Error{Code: CodeInvalidPhase, Message: "invalid phase"}
	ErrInsufficientBudget     = &Error{Code: CodeInsufficientBudget, Message: "insufficient budget"}
	ErrInvalidTarget          = &Error{Code: CodeInvalidTarget, Message: "invalid target"}
	ErrCardRequirementsNotMet = &Error{Code: CodeCardRequirementsNotMet, Message: "card requirements not met"}
	ErrGameNotRunning         = &Error{Code: CodeGameNotRunning, Message: "game not running"}
	ErrNotAuthorized          = &Error{Code: CodeNotAuthorized, Message: "not authorized"}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the engine code from err, if any.
func CodeOf(err error) (Code, bool) {
	var gameErr *Error
	if errors.As(err, &gameErr) {
		return gameErr.Code, true
	}
	return "", false
}
