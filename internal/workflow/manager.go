package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"gorm.io/gorm"

	"github.com/OpenPathLab/lims/internal/auth"
	"github.com/OpenPathLab/lims/internal/collaborator"
	"github.com/OpenPathLab/lims/internal/config"
	"github.com/OpenPathLab/lims/internal/uploads"
	"github.com/OpenPathLab/lims/internal/workflow/router"
	"github.com/OpenPathLab/lims/internal/workflow/service"
)

// Manager wires the routing services, their collaborators and the HTTP routers.
type Manager struct {
	dispatcher  *collaborator.Dispatcher
	publisher   message.Publisher
	requireAuth func(http.Handler) http.Handler

	accessionService *service.AccessionService
	stepResolver     *service.StepResolver
	routingService   *service.RoutingService

	accessionRouter *router.AccessionRouter
	entityRouter    *router.EntityRouter
	uploadHandler   *uploads.HTTPHandler
}

// NewManager builds every service on top of db. Storage and messaging are
// selected by cfg; collaborators without an endpoint report as not configured.
func NewManager(ctx context.Context, cfg *config.Config, db *gorm.DB) (*Manager, error) {
	storage, err := uploads.NewStorageDriver(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	uploadService := uploads.NewUploadService(storage)

	publisher, err := collaborator.NewPublisher(cfg.Messaging, watermill.NewSlogLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize publisher: %w", err)
	}

	dispatcher := collaborator.NewDispatcher(cfg.Dispatch.TaskTimeout)
	collab := service.Collaborators{
		Labels:  collaborator.NewHTTPLabelPrinter(cfg.Labels.ServiceURL, cfg.Labels.Timeout),
		Mail:    collaborator.NewBusMailer(publisher, cfg.Messaging.MailTopic),
		Reports: collaborator.NewHTTPReportGenerator(cfg.Reports.EngineURL, cfg.Reports.Timeout, uploadService),
		Async:   dispatcher,
	}
	settings := service.SettingsFromConfig(cfg.Routing)

	refs := service.NewReferenceService(db)
	entities := service.NewEntityService(db)
	audit := service.NewRoutingAudit(db, entities)
	sequences := service.NewSequenceGenerator()

	m := &Manager{
		dispatcher:       dispatcher,
		publisher:        publisher,
		requireAuth:      auth.RequireAuth(auth.NewAuthService(db), auth.NewTokenExtractor()),
		accessionService: service.NewAccessionService(db, refs, entities, audit, sequences, collab, settings),
		stepResolver:     service.NewStepResolver(db, refs, entities, audit, sequences, collab, settings),
		routingService:   service.NewRoutingService(db, refs, entities, audit),
		uploadHandler:    uploads.NewHTTPHandler(uploadService),
	}
	m.accessionRouter = router.NewAccessionRouter(m.accessionService)
	m.entityRouter = router.NewEntityRouter(m.stepResolver, entities, audit, m.routingService, m.uploadHandler)

	slog.Info("workflow manager initialized",
		"storage", cfg.Storage.Type,
		"messaging", cfg.Messaging.Driver,
		"strictResolution", settings.StrictResolution)
	return m, nil
}

// RegisterRoutes mounts the API on mux. Every write requires an authenticated user.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	write := func(h http.HandlerFunc) http.Handler {
		return m.requireAuth(h)
	}

	mux.Handle("POST /api/accessions", write(m.accessionRouter.HandleCreateAccession))
	mux.HandleFunc("GET /api/accessions/{accessionID}", m.accessionRouter.HandleGetAccession)
	mux.Handle("POST /api/accessions/{accessionID}/cancel", write(m.accessionRouter.HandleCancelAccession))

	mux.HandleFunc("GET /api/samples", m.entityRouter.HandleGetSamples)
	mux.HandleFunc("GET /api/samples/{sampleID}", m.entityRouter.HandleGetSample)
	mux.HandleFunc("GET /api/samples/{sampleID}/routing", m.entityRouter.HandleGetSampleRouting)
	mux.Handle("POST /api/actions/samples/{action}", write(m.entityRouter.HandleSampleAction))
	mux.Handle("POST /api/samples/{sampleID}/route", write(m.entityRouter.HandleRouteSample))
	mux.Handle("POST /api/samples/{sampleID}/cancel", write(m.accessionRouter.HandleCancelSample))

	mux.HandleFunc("GET /api/report-options", m.entityRouter.HandleGetReportOptions)
	mux.HandleFunc("GET /api/report-options/{reportOptionID}", m.entityRouter.HandleGetReportOption)
	mux.HandleFunc("GET /api/report-options/{reportOptionID}/routing", m.entityRouter.HandleGetReportOptionRouting)
	mux.HandleFunc("GET /api/report-options/{reportOptionID}/report", m.entityRouter.HandleGetReportFile)
	mux.Handle("POST /api/actions/report-options/{action}", write(m.entityRouter.HandleReportOptionAction))
	mux.Handle("POST /api/report-options/{reportOptionID}/route", write(m.entityRouter.HandleRouteReportOption))

	mux.Handle("POST /api/uploads", write(m.uploadHandler.Upload))
	mux.HandleFunc("GET /api/uploads/{key}", m.uploadHandler.Download)
}

// Close waits for queued side effects (labels, mail) and closes the publisher.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	if err := m.dispatcher.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close publisher: %w", err))
	}
	return errors.Join(errs...)
}
