package core

import "errors"

var (
	ErrAlreadyPresenting      = errors.New("another user is currently acting as presenter")
	ErrNoPresenter            = errors.New("no presenter available")
	ErrMediaEngineUnavailable = errors.New("media engine unavailable")
	ErrNegotiationFailed      = errors.New("sdp negotiation failed")
	ErrNotFound               = errors.New("session not found")
)
