package errs

import "errors"

var (
	// ErrNotImplemented indicates that the functionality is pending implementation.
	ErrNotImplemented = errors.New("not implemented")
	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrChannelDisabled indicates that no sender is configured for a channel.
	ErrChannelDisabled = errors.New("channel disabled")
	// ErrUnknownChannel indicates a channel name outside email, sms, system and push.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrNoRecipient indicates a delivery attempt without a destination.
	ErrNoRecipient = errors.New("recipient not specified")
)
