package domain

import "errors"

var (
	ErrTurnInProgress       = errors.New("turn already in progress")
	ErrEmptyMessage         = errors.New("empty message text")
	ErrConversationNotFound = errors.New("conversation not found")
)
