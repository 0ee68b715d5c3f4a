package fediboterrors

import "errors"

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrNotPending is returned when accepting or rejecting a follow
	// request that already left the pending state.
	ErrNotPending = errors.New("the follow request is not pending")
)
