package models

import "errors"

// Error classes surfaced by the task core. Wrap them with fmt.Errorf and
// test with errors.Is.
var (
	ErrValidation  = errors.New("invalid input")
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrPersistence = errors.New("store unavailable")
)
