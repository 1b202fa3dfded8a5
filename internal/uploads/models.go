package uploads

import (
	"github.com/google/uuid"

	"github.com/OpenPathLab/lims/internal/uploads/drivers"
)

// Driver errors, re-exported so callers need not import the drivers package.
var (
	ErrFileNotFound = drivers.ErrNotFound
	ErrInvalidKey   = drivers.ErrInvalidKey
)

// Document is an opened stored file. The caller closes Body.
type Document = drivers.Object

// FileMetadata describes a stored document (attachment or generated report).
type FileMetadata struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Key      string    `json:"key"`
	URL      string    `json:"url"`
	Size     int64     `json:"size"`
	MimeType string    `json:"mimeType"`
}
