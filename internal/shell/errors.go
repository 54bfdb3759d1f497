package shell

import "errors"

var (
	ErrClosed           = errors.New("shell is closed")
	ErrDrawerIndex      = errors.New("applet drawer index out of range")
	ErrDuplicateApplet  = errors.New("applet name already used")
	ErrWorkflowMismatch = errors.New("project belongs to another workflow")
)
