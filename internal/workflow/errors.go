package workflow

import "errors"

var (
	ErrInvalidSpec      = errors.New("invalid workflow")
	ErrUnknownWorkflow  = errors.New("unknown workflow")
	ErrUnknownType      = errors.New("unknown applet type")
	ErrDuplicateType    = errors.New("applet type already registered")
	ErrUnknownApplet    = errors.New("unknown applet")
	ErrSetting          = errors.New("invalid applet setting")
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotReady         = errors.New("slot not ready")
)
