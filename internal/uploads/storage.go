package uploads

import (
	"context"
	"io"
	"time"

	"github.com/OpenPathLab/lims/internal/uploads/drivers"
)

// StorageDriver is the document archive behind attachments and signed-out
// report PDFs. Keys are single path elements chosen by UploadService.
type StorageDriver interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	// Open streams a stored document. The caller closes Object.Body.
	Open(ctx context.Context, key string) (*drivers.Object, error)
	// Remove deletes a document; a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Link returns a URL clients can fetch the document from. ttl only
	// applies to drivers that sign their links.
	Link(ctx context.Context, key string, ttl time.Duration) (string, error)
}
