package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/OpenPathLab/lims/internal/config"
	"github.com/OpenPathLab/lims/internal/uploads"
)

func TestHTTPLabelPrinter_PrintLabels(t *testing.T) {
	var received printRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	printer := NewHTTPLabelPrinter(srv.URL, time.Second)
	labels := []Label{
		{SampleID: uuid.New(), Code: "SP2026-000001-1", AccessionNo: "SP2026-000001"},
		{SampleID: uuid.New(), Code: "SP2026-000001-2", AccessionNo: "SP2026-000001"},
	}

	require.NoError(t, printer.PrintLabels(context.Background(), labels))
	assert.Equal(t, labels, received.Labels)
}

func TestHTTPLabelPrinter_Failures(t *testing.T) {
	labels := []Label{{SampleID: uuid.New(), Code: "SP2026-000002"}}

	t.Run("not configured", func(t *testing.T) {
		err := NewHTTPLabelPrinter("", time.Second).PrintLabels(context.Background(), labels)
		assert.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("empty batch skips the call", func(t *testing.T) {
		assert.NoError(t, NewHTTPLabelPrinter("", time.Second).PrintLabels(context.Background(), nil))
	})

	t.Run("service error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		err := NewHTTPLabelPrinter(srv.URL, time.Second).PrintLabels(context.Background(), labels)
		assert.EqualError(t, err, "label service returned status code 503")
	})
}

func TestBusMailer_Send(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 10}, watermill.NewSlogLogger(slog.Default()))
	defer pubSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	messages, err := pubSub.Subscribe(ctx, "lims.mail")
	require.NoError(t, err)

	mailer := NewBusMailer(pubSub, "lims.mail")
	mail := MailData{
		To:      []string{"sponsor@example.com"},
		Subject: "Accession SP2026-000003 received",
		Body:    "2 samples accessioned",
	}
	require.NoError(t, mailer.Send(ctx, mail))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, MessageTypeMail, msg.Metadata.Get(MetadataMessageType))
		var got MailData
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, mail, got)
	case <-ctx.Done():
		t.Fatal("mail was not published")
	}

	assert.EqualError(t, mailer.Send(ctx, MailData{Subject: "no one"}), "mail has no recipients")
}

func TestNewPublisher_UnsupportedDriver(t *testing.T) {
	_, err := NewPublisher(config.MessagingConfig{Driver: "carrier-pigeon"}, watermill.NopLogger{})
	assert.EqualError(t, err, "unsupported messaging driver: carrier-pigeon")
}

func TestDispatcher(t *testing.T) {
	d := NewDispatcher(time.Second)
	var ran atomic.Int32

	d.Go("ok", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	d.Go("fails", func(ctx context.Context) error {
		ran.Add(1)
		return errors.New("printer offline")
	})
	d.Go("panics", func(ctx context.Context) error {
		ran.Add(1)
		panic("ribbon jammed")
	})

	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, int32(3), ran.Load())
}

func TestDispatcher_WaitHonoursContext(t *testing.T) {
	d := NewDispatcher(time.Minute)
	release := make(chan struct{})
	d.Go("slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, d.Wait(context.Background()))
}

type mockReportStore struct {
	mock.Mock
}

func (m *mockReportStore) StoreReport(ctx context.Context, name string, body []byte) (*uploads.FileMetadata, error) {
	args := m.Called(ctx, name, body)
	if md, ok := args.Get(0).(*uploads.FileMetadata); ok {
		return md, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestHTTPReportGenerator_Generate(t *testing.T) {
	pdf := []byte("%PDF-1.4 report")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/pdf", r.Header.Get("Accept"))
		var req ReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SP2026-000004", req.AccessionNo)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdf)
	}))
	defer srv.Close()

	store := new(mockReportStore)
	store.On("StoreReport", mock.Anything, "SP2026-000004.pdf", pdf).
		Return(&uploads.FileMetadata{Key: "reports/SP2026-000004.pdf", URL: "/api/uploads/reports/SP2026-000004.pdf"}, nil)

	gen := NewHTTPReportGenerator(srv.URL, time.Second, store)
	report, err := gen.Generate(context.Background(), ReportRequest{
		ReportOptionID: uuid.New(),
		AccessionNo:    "SP2026-000004",
		Methodology:    "Histopathology",
	})
	require.NoError(t, err)
	assert.Equal(t, "reports/SP2026-000004.pdf", report.Key)
	store.AssertExpectations(t)
}

func TestHTTPReportGenerator_Failures(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		_, err := NewHTTPReportGenerator("", time.Second, new(mockReportStore)).Generate(context.Background(), ReportRequest{})
		assert.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("empty document", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		store := new(mockReportStore)
		_, err := NewHTTPReportGenerator(srv.URL, time.Second, store).Generate(context.Background(), ReportRequest{AccessionNo: "SP2026-000005"})
		assert.EqualError(t, err, "report engine returned an empty document")
		store.AssertNotCalled(t, "StoreReport", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("store failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("%PDF"))
		}))
		defer srv.Close()

		store := new(mockReportStore)
		store.On("StoreReport", mock.Anything, "SP2026-000006.pdf", []byte("%PDF")).Return(nil, errors.New("bucket unavailable"))
		_, err := NewHTTPReportGenerator(srv.URL, time.Second, store).Generate(context.Background(), ReportRequest{AccessionNo: "SP2026-000006"})
		assert.EqualError(t, err, "failed to store report: bucket unavailable")
	})
}
