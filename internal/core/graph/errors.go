// Package graph defines domain-specific errors
package graph

import "errors"

// Domain errors - DRY principle: defined once, used everywhere
var (
	// Graph errors
	ErrGraphClosed      = errors.New("graph is closed")
	ErrOperatorNotFound = errors.New("operator not found")
	ErrNilOperator      = errors.New("operator cannot be nil")

	// Slot errors
	ErrNilSlot          = errors.New("slot cannot be nil")
	ErrSelfConnection   = errors.New("slot cannot be connected to itself")
	ErrCyclicConnection = errors.New("connection would create a cycle")
	ErrNotAnInput       = errors.New("slot is not an input")
	ErrNotAnOutput      = errors.New("slot is not an output")
	ErrSlotConnected    = errors.New("slot is connected to an upstream slot")
	ErrSlotNotReady     = errors.New("slot is not ready")
	ErrNotArray         = errors.New("slot does not carry array data")
	ErrNoValue          = errors.New("slot has no value")
	ErrSlotNotFound     = errors.New("slot not found")

	// Region errors
	ErrInvalidRoi  = errors.New("invalid region of interest")
	ErrRoiMismatch = errors.New("result shape does not match requested region")

	// Execution errors
	ErrNotImplemented = errors.New("operator does not implement this output")
)
