package uploads

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"
)

// MockDriver records what the service hands to the archive.
type MockDriver struct {
	SavedKey         string
	SavedBody        []byte
	SavedContentType string
	LinkErr          error
	OpenErr          error
	RemoveCalled     bool
	RemovedKey       string
}

func (m *MockDriver) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	m.SavedKey = key
	m.SavedContentType = contentType
	content, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.SavedBody = content
	return nil
}

func (m *MockDriver) Open(ctx context.Context, key string) (*Document, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return &Document{
		Body:        io.NopCloser(bytes.NewReader(m.SavedBody)),
		ContentType: "application/test",
		Size:        int64(len(m.SavedBody)),
	}, nil
}

func (m *MockDriver) Remove(ctx context.Context, key string) error {
	m.RemoveCalled = true
	m.RemovedKey = key
	return nil
}

func (m *MockDriver) Link(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.LinkErr != nil {
		return "", m.LinkErr
	}
	return "/test/" + key, nil
}

func TestUploadService(t *testing.T) {
	mock := &MockDriver{}
	service := NewUploadService(mock)

	ctx := context.Background()
	filename := "requisition.jpg"
	content := []byte("image data")

	metadata, err := service.Upload(ctx, filename, bytes.NewReader(content), int64(len(content)), "image/jpeg")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if metadata.Name != filename {
		t.Errorf("expected name %s, got %s", filename, metadata.Name)
	}
	if filepath.Ext(metadata.Key) != ".jpg" {
		t.Errorf("expected key to keep the .jpg extension, got %s", metadata.Key)
	}
	if !bytes.Equal(mock.SavedBody, content) {
		t.Error("saved body does not match input")
	}
	if metadata.URL != "/test/"+mock.SavedKey {
		t.Errorf("unexpected URL: %s", metadata.URL)
	}
}

func TestUploadService_DefaultsMimeType(t *testing.T) {
	mock := &MockDriver{}
	service := NewUploadService(mock)

	metadata, err := service.Upload(context.Background(), "blob", bytes.NewReader([]byte("x")), 1, "")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if metadata.MimeType != "application/octet-stream" || mock.SavedContentType != "application/octet-stream" {
		t.Errorf("expected octet-stream default, got %s", metadata.MimeType)
	}
}

func TestUploadService_LinkFailureRemovesOrphan(t *testing.T) {
	mock := &MockDriver{
		LinkErr: io.ErrUnexpectedEOF,
	}
	service := NewUploadService(mock)

	ctx := context.Background()
	content := []byte("image data")

	_, err := service.Upload(ctx, "test_fail.jpg", bytes.NewReader(content), int64(len(content)), "image/jpeg")
	if err == nil {
		t.Fatal("expected Upload to fail when Link fails")
	}

	if !mock.RemoveCalled {
		t.Error("expected the orphaned file to be removed")
	}

	if mock.RemovedKey != mock.SavedKey {
		t.Errorf("expected Remove to be called with key %s, got %s", mock.SavedKey, mock.RemovedKey)
	}
}

func TestUploadService_StoreReport(t *testing.T) {
	mock := &MockDriver{}
	service := NewUploadService(mock)

	pdf := []byte("%PDF-1.7 report")
	metadata, err := service.StoreReport(context.Background(), "SP2026-000001", pdf)
	if err != nil {
		t.Fatalf("StoreReport failed: %v", err)
	}

	if metadata.Name != "SP2026-000001.pdf" {
		t.Errorf("expected .pdf name, got %s", metadata.Name)
	}
	if filepath.Ext(mock.SavedKey) != ".pdf" {
		t.Errorf("expected .pdf key, got %s", mock.SavedKey)
	}
	if mock.SavedContentType != "application/pdf" {
		t.Errorf("expected application/pdf, got %s", mock.SavedContentType)
	}
	if metadata.Size != int64(len(pdf)) {
		t.Errorf("expected size %d, got %d", len(pdf), metadata.Size)
	}
}

func TestUploadService_StoreReportRejectsEmptyDocument(t *testing.T) {
	mock := &MockDriver{}
	service := NewUploadService(mock)

	if _, err := service.StoreReport(context.Background(), "empty.pdf", nil); err == nil {
		t.Fatal("expected StoreReport to reject an empty document")
	}
	if mock.SavedKey != "" {
		t.Error("nothing should be written for an empty document")
	}
}

func TestUploadService_Open(t *testing.T) {
	mock := &MockDriver{
		SavedBody: []byte("test content"),
	}
	service := NewUploadService(mock)

	doc, err := service.Open(context.Background(), "test-key")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer doc.Body.Close()

	if doc.ContentType != "application/test" {
		t.Errorf("expected content type application/test, got %s", doc.ContentType)
	}
	if doc.Size != int64(len(mock.SavedBody)) {
		t.Errorf("expected size %d, got %d", len(mock.SavedBody), doc.Size)
	}

	content, _ := io.ReadAll(doc.Body)
	if !bytes.Equal(content, mock.SavedBody) {
		t.Error("opened content does not match saved body")
	}
}
