package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/OpenPathLab/lims/internal/uploads"
)

// ReportStore persists a generated report document.
type ReportStore interface {
	StoreReport(ctx context.Context, name string, body []byte) (*uploads.FileMetadata, error)
}

// HTTPReportGenerator asks the reporting engine for a PDF and stores it.
type HTTPReportGenerator struct {
	engineURL  string
	httpClient *http.Client
	store      ReportStore
}

// NewHTTPReportGenerator creates a new HTTPReportGenerator.
func NewHTTPReportGenerator(engineURL string, timeout time.Duration, store ReportStore) *HTTPReportGenerator {
	return &HTTPReportGenerator{
		engineURL:  engineURL,
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
	}
}

func (g *HTTPReportGenerator) Generate(ctx context.Context, req ReportRequest) (*GeneratedReport, error) {
	if g.engineURL == "" {
		return nil, fmt.Errorf("report engine: %w", ErrNotConfigured)
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.engineURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/pdf")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("report engine returned status code %d", resp.StatusCode)
	}

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read report body: %w", err)
	}
	if body.Len() == 0 {
		return nil, fmt.Errorf("report engine returned an empty document")
	}

	name := fmt.Sprintf("%s.pdf", req.AccessionNo)
	metadata, err := g.store.StoreReport(ctx, name, body.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	slog.InfoContext(ctx, "report generated", "reportOptionID", req.ReportOptionID, "key", metadata.Key)
	return &GeneratedReport{Key: metadata.Key, URL: metadata.URL}, nil
}
