package router

import (
	"net/http"

	"github.com/OpenPathLab/lims/internal/uploads"
	"github.com/OpenPathLab/lims/internal/workflow/model"
	"github.com/OpenPathLab/lims/internal/workflow/service"
)

// EntityRouter exposes action execution, manual routing and read access for
// samples and report options.
type EntityRouter struct {
	resolver *service.StepResolver
	entities *service.EntityService
	audit    *service.RoutingAudit
	routing  *service.RoutingService
	files    *uploads.HTTPHandler
}

func NewEntityRouter(
	resolver *service.StepResolver,
	entities *service.EntityService,
	audit *service.RoutingAudit,
	routing *service.RoutingService,
	files *uploads.HTTPHandler,
) *EntityRouter {
	return &EntityRouter{
		resolver: resolver,
		entities: entities,
		audit:    audit,
		routing:  routing,
		files:    files,
	}
}

// HandleSampleAction handles POST /api/actions/samples/{action}
// Request body: ExecuteActionDTO
// Response: ActionResult
func (e *EntityRouter) HandleSampleAction(w http.ResponseWriter, r *http.Request) {
	e.executeAction(w, r, model.EntityKindSample)
}

// HandleReportOptionAction handles POST /api/actions/report-options/{action}
func (e *EntityRouter) HandleReportOptionAction(w http.ResponseWriter, r *http.Request) {
	e.executeAction(w, r, model.EntityKindReportOption)
}

func (e *EntityRouter) executeAction(w http.ResponseWriter, r *http.Request, kind model.EntityKind) {
	action := r.PathValue("action")
	if action == "" {
		writeProblem(w, r, http.StatusBadRequest, problemValidation, "missing action in path")
		return
	}

	var req model.ExecuteActionDTO
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := e.resolver.Execute(r.Context(), service.ActionRequest{
		Kind:          kind,
		IDs:           req.IDs,
		DesiredAction: action,
		Actor:         actor(r),
		Params:        req.Params,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// HandleGetSamples handles GET /api/samples?pendingAction={action}&offset={offset}&limit={limit}
func (e *EntityRouter) HandleGetSamples(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := pagination(w, r)
	if !ok {
		return
	}
	pending := r.URL.Query().Get("pendingAction")

	samples, err := e.entities.ListSamples(r.Context(), &pending, offset, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, samples)
}

// HandleGetSample handles GET /api/samples/{sampleID}
func (e *EntityRouter) HandleGetSample(w http.ResponseWriter, r *http.Request) {
	sampleID, ok := pathUUID(w, r, "sampleID")
	if !ok {
		return
	}

	sample, err := e.entities.GetSampleByID(r.Context(), sampleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, sample)
}

// HandleGetReportOptions handles GET /api/report-options?pendingAction={action}&offset={offset}&limit={limit}
func (e *EntityRouter) HandleGetReportOptions(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := pagination(w, r)
	if !ok {
		return
	}
	pending := r.URL.Query().Get("pendingAction")

	options, err := e.entities.ListReportOptions(r.Context(), &pending, offset, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, options)
}

// HandleGetReportOption handles GET /api/report-options/{reportOptionID}
func (e *EntityRouter) HandleGetReportOption(w http.ResponseWriter, r *http.Request) {
	reportOptionID, ok := pathUUID(w, r, "reportOptionID")
	if !ok {
		return
	}

	option, err := e.entities.GetReportOptionByID(r.Context(), reportOptionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, option)
}

// HandleGetSampleRouting handles GET /api/samples/{sampleID}/routing
func (e *EntityRouter) HandleGetSampleRouting(w http.ResponseWriter, r *http.Request) {
	e.history(w, r, model.EntityKindSample, "sampleID")
}

// HandleGetReportOptionRouting handles GET /api/report-options/{reportOptionID}/routing
func (e *EntityRouter) HandleGetReportOptionRouting(w http.ResponseWriter, r *http.Request) {
	e.history(w, r, model.EntityKindReportOption, "reportOptionID")
}

func (e *EntityRouter) history(w http.ResponseWriter, r *http.Request, kind model.EntityKind, param string) {
	id, ok := pathUUID(w, r, param)
	if !ok {
		return
	}
	offset, limit, ok := pagination(w, r)
	if !ok {
		return
	}

	rows, err := e.audit.History(r.Context(), kind, id, offset, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, rows)
}

// HandleRouteSample handles POST /api/samples/{sampleID}/route
// Request body: RouteEntityDTO
func (e *EntityRouter) HandleRouteSample(w http.ResponseWriter, r *http.Request) {
	e.route(w, r, model.EntityKindSample, "sampleID")
}

// HandleRouteReportOption handles POST /api/report-options/{reportOptionID}/route
func (e *EntityRouter) HandleRouteReportOption(w http.ResponseWriter, r *http.Request) {
	e.route(w, r, model.EntityKindReportOption, "reportOptionID")
}

func (e *EntityRouter) route(w http.ResponseWriter, r *http.Request, kind model.EntityKind, param string) {
	id, ok := pathUUID(w, r, param)
	if !ok {
		return
	}

	var req model.RouteEntityDTO
	if !decodeBody(w, r, &req) {
		return
	}

	entity, err := e.routing.Route(r.Context(), kind, id, &req, actor(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, entity)
}

// HandleGetReportFile handles GET /api/report-options/{reportOptionID}/report
// Streams the document stored when the report was signed out.
func (e *EntityRouter) HandleGetReportFile(w http.ResponseWriter, r *http.Request) {
	reportOptionID, ok := pathUUID(w, r, "reportOptionID")
	if !ok {
		return
	}

	option, err := e.entities.GetReportOptionByID(r.Context(), reportOptionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if option.ReportKey == nil || *option.ReportKey == "" {
		writeProblem(w, r, http.StatusNotFound, problemNotFound, "report has not been generated")
		return
	}

	e.files.ServeFile(w, r, *option.ReportKey)
}
