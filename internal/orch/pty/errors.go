package pty

import "errors"

var (
	// errNotWaiting is returned by ProcessApproval when no command is
	// currently awaiting a decision.
	errNotWaiting = errors.New("pty: instance is not waiting on an approval decision")

	// ErrBinaryNotFound is returned by Spawn when no assistant binary
	// can be located via override, candidate paths, or PATH.
	ErrBinaryNotFound = errors.New("pty: assistant binary not found")
)
