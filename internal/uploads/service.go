package uploads

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
)

const pdfMimeType = "application/pdf"

// UploadService coordinates stored documents: user attachments and generated reports.
type UploadService struct {
	Driver StorageDriver
}

func NewUploadService(driver StorageDriver) *UploadService {
	return &UploadService{Driver: driver}
}

// store saves reader under a fresh key with the extension of filename and returns its metadata.
func (s *UploadService) store(ctx context.Context, filename string, reader io.Reader, size int64, mime string) (*FileMetadata, error) {
	if mime == "" {
		mime = "application/octet-stream"
	}
	id := uuid.New()
	key := fmt.Sprintf("%s%s", id.String(), filepath.Ext(filename))

	if err := s.Driver.Put(ctx, key, reader, mime); err != nil {
		return nil, fmt.Errorf("storage driver failed: %w", err)
	}

	url, err := s.Driver.Link(ctx, key, 0)
	if err != nil {
		if delErr := s.Driver.Remove(ctx, key); delErr != nil {
			slog.WarnContext(ctx, "failed to cleanup orphaned file", "key", key, "error", delErr)
		}
		return nil, fmt.Errorf("failed to link %s: %w", key, err)
	}

	return &FileMetadata{
		ID:       id,
		Name:     filename,
		Key:      key,
		URL:      url,
		Size:     size,
		MimeType: mime,
	}, nil
}

// Upload stores a user-supplied attachment.
func (s *UploadService) Upload(ctx context.Context, filename string, reader io.Reader, size int64, mime string) (*FileMetadata, error) {
	metadata, err := s.store(ctx, filename, reader, size, mime)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "attachment uploaded", "id", metadata.ID, "key", metadata.Key)
	return metadata, nil
}

// StoreReport stores a generated report document as a PDF.
func (s *UploadService) StoreReport(ctx context.Context, name string, body []byte) (*FileMetadata, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("report document is empty")
	}
	if filepath.Ext(name) == "" {
		name += ".pdf"
	}
	metadata, err := s.store(ctx, name, bytes.NewReader(body), int64(len(body)), pdfMimeType)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "report stored", "name", name, "key", metadata.Key)
	return metadata, nil
}

// Open streams the document stored under key.
func (s *UploadService) Open(ctx context.Context, key string) (*Document, error) {
	return s.Driver.Open(ctx, key)
}
