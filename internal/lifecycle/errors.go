package lifecycle

import "errors"

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrParentNotFound     = errors.New("parent run not found")
	ErrParentNotCompleted = errors.New("parent run is not completed")
	ErrMissingEditInput   = errors.New("revision requires an edited proposal or notes")
	ErrIncompleteRun      = errors.New("run is missing required artifacts")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrRunNotRunning      = errors.New("run is not running")
	ErrConcurrentUpdate   = errors.New("run was modified concurrently")
	ErrEmptyIdea          = errors.New("idea must not be empty")
)
