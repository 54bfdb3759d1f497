// Package channel defines domain-specific errors
package channel

import "errors"

// Domain errors - DRY principle: defined once, used everywhere
var (
	// Event errors
	ErrInvalidEventID   = errors.New("invalid event ID")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrInvalidSource    = errors.New("invalid event source")

	// Channel errors
	ErrChannelClosed = errors.New("channel is closed")
	ErrChannelEmpty  = errors.New("channel is empty")
	ErrTimeout       = errors.New("operation timed out")
)
