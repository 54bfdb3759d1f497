// Package project defines domain-specific errors
package project

import "errors"

// Domain errors - DRY principle: defined once, used everywhere
var (
	// Project validation errors
	ErrInvalidProjectID = errors.New("invalid project ID")
	ErrInvalidWorkflow  = errors.New("invalid workflow name")
	ErrNilApplets       = errors.New("project applet data cannot be nil")
	ErrProjectNotFound  = errors.New("project not found")

	// Filter validation errors
	ErrInvalidLimit     = errors.New("limit cannot be negative")
	ErrInvalidOffset    = errors.New("offset cannot be negative")
	ErrInvalidTimeRange = errors.New("invalid time range: since is after before")

	// Persistence errors
	ErrSaveFailed   = errors.New("failed to save project")
	ErrLoadFailed   = errors.New("failed to load project")
	ErrDeleteFailed = errors.New("failed to delete project")
)
