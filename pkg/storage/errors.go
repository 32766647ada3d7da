package storage

import "errors"

var (
	// ErrNotFound is returned when a delivery does not exist or belongs to
	// another tenant.
	ErrNotFound = errors.New("delivery not found")

	// ErrConflict is returned when a delivery with the same id exists.
	ErrConflict = errors.New("delivery already exists")
)
