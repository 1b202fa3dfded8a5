package drivers

import (
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when no object exists under a key.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidKey is returned for keys that could escape the storage root.
	ErrInvalidKey = errors.New("invalid storage key")
)

const defaultContentType = "application/octet-stream"

// Object is an opened document. Size is -1 when the backend does not report it.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}
