package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnInFlight    = errors.New("a response is still being generated")
	ErrSuperseded      = errors.New("turn superseded")
	ErrNotOnboarded    = errors.New("profile required")
	ErrUnknownModel    = errors.New("unknown model")
	ErrInvalidProfile  = errors.New("invalid profile")
	ErrMessageNotFound = errors.New("message not found")
)
