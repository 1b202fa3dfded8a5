package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrNotConfigured is returned when a collaborator has no endpoint.
var ErrNotConfigured = errors.New("collaborator endpoint not configured")

type printRequest struct {
	Labels []Label `json:"labels"`
}

// HTTPLabelPrinter sends label batches to the print service as JSON.
type HTTPLabelPrinter struct {
	serviceURL string
	httpClient *http.Client
}

// NewHTTPLabelPrinter creates a new HTTPLabelPrinter. An empty serviceURL yields a
// printer that reports ErrNotConfigured.
func NewHTTPLabelPrinter(serviceURL string, timeout time.Duration) *HTTPLabelPrinter {
	return &HTTPLabelPrinter{
		serviceURL: serviceURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPLabelPrinter) PrintLabels(ctx context.Context, labels []Label) error {
	if len(labels) == 0 {
		return nil
	}
	if p.serviceURL == "" {
		return fmt.Errorf("label printer: %w", ErrNotConfigured)
	}

	jsonData, err := json.Marshal(printRequest{Labels: labels})
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serviceURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("label service returned status code %d", resp.StatusCode)
	}

	slog.InfoContext(ctx, "labels sent to printer", "count", len(labels))
	return nil
}
