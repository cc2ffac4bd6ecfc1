package api

import "errors"

var (
	// ErrNotFound indicates a referenced conversation or participant does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the actor is not a participant or is blocked by the reply rule.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidArgument indicates malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUploadFailed indicates the attachment store rejected the upload. No message was written.
	ErrUploadFailed = errors.New("upload failed")
)
