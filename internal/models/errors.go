package models

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidState      = errors.New("invalid state for action")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrBusClosed         = errors.New("event bus closed")
	ErrAlreadyStarted    = errors.New("agent already started")
	ErrRunNotFound       = errors.New("run not found")
	ErrNoPendingQuestion = errors.New("no pending question")
	ErrResponseParsing   = errors.New("response parsing failed")
)
