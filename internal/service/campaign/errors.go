package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadySending    = errors.New("campaign is already sending or finished")
	ErrNoRecipients      = errors.New("campaign has no sendable recipients")
)
