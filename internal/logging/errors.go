// Package logging defines domain-specific errors
package logging

import "errors"

// Domain errors - DRY principle: defined once, used everywhere
var (
	ErrNoOutput          = errors.New("logfile output disabled but output mode is logfile only")
	ErrUnknownOutputMode = errors.New("unknown output mode")
	ErrUnknownLevel      = errors.New("unknown log level")
	ErrUnknownAction     = errors.New("unknown warning action")
	ErrInvalidOverride   = errors.New("invalid logging override file")
)
