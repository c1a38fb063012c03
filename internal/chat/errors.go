package chat

import "errors"

var (
	// ErrUsernameTaken is returned by Registry.Join when another live
	// session already holds the requested username (case-sensitive).
	ErrUsernameTaken = errors.New("username already taken")

	// ErrMessageNotFound is returned by Store mutations that reference
	// a message id that was never appended.
	ErrMessageNotFound = errors.New("message not found")
)
