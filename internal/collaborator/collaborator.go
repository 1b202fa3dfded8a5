// Package collaborator holds the narrow clients the routing engine uses to reach
// label printers, mail and the reporting engine. Failures here are reported to
// callers as messages and never undo committed routing state.
package collaborator

import (
	"context"

	"github.com/google/uuid"
)

// Status is the outcome class of a collaborator call as surfaced to API clients.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Result is one user-visible message produced by a collaborator call.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

func Success(message string) Result {
	return Result{Status: StatusSuccess, Message: message}
}

func Warning(message string) Result {
	return Result{Status: StatusWarning, Message: message}
}

func Failure(message string) Result {
	return Result{Status: StatusError, Message: message}
}

// Label is a single sample label to print.
type Label struct {
	SampleID    uuid.UUID `json:"sampleId"`
	Code        string    `json:"code"`
	AccessionNo string    `json:"accessionNo,omitempty"`
}

// MailData is an outbound email handed to the mail transport.
type MailData struct {
	To      []string       `json:"to"`
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// ReportRequest asks the reporting engine for the PDF of a signed-out report option.
type ReportRequest struct {
	ReportOptionID uuid.UUID `json:"reportOptionId"`
	AccessionID    uuid.UUID `json:"accessionId"`
	AccessionNo    string    `json:"accessionNo"`
	TestID         uuid.UUID `json:"testId"`
	Methodology    string    `json:"methodology"`
	SignedOutBy    string    `json:"signedOutBy,omitempty"`
}

// GeneratedReport locates a stored report document.
type GeneratedReport struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type LabelPrinter interface {
	PrintLabels(ctx context.Context, labels []Label) error
}

type Mailer interface {
	Send(ctx context.Context, mail MailData) error
}

type ReportGenerator interface {
	Generate(ctx context.Context, req ReportRequest) (*GeneratedReport, error)
}

// Runner runs side effects without blocking the caller.
type Runner interface {
	Go(task string, fn func(ctx context.Context) error)
}
