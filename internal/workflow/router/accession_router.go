package router

import (
	"net/http"

	"github.com/OpenPathLab/lims/internal/workflow/model"
	"github.com/OpenPathLab/lims/internal/workflow/service"
)

type AccessionRouter struct {
	as *service.AccessionService
}

func NewAccessionRouter(as *service.AccessionService) *AccessionRouter {
	return &AccessionRouter{
		as: as,
	}
}

// HandleCreateAccession handles POST /api/accessions
// Request body: CreateAccessionDTO
// Response: Accession with its samples placed at their first wet-lab step
func (a *AccessionRouter) HandleCreateAccession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAccessionDTO
	if !decodeBody(w, r, &req) {
		return
	}

	accession, err := a.as.CreateAccession(r.Context(), &req, actor(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, accession)
}

// HandleGetAccession handles GET /api/accessions/{accessionID}
func (a *AccessionRouter) HandleGetAccession(w http.ResponseWriter, r *http.Request) {
	accessionID, ok := pathUUID(w, r, "accessionID")
	if !ok {
		return
	}

	accession, err := a.as.GetAccession(r.Context(), accessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, accession)
}

// HandleCancelAccession handles POST /api/accessions/{accessionID}/cancel
func (a *AccessionRouter) HandleCancelAccession(w http.ResponseWriter, r *http.Request) {
	accessionID, ok := pathUUID(w, r, "accessionID")
	if !ok {
		return
	}

	accession, err := a.as.CancelAccession(r.Context(), accessionID, actor(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, accession)
}

// HandleCancelSample handles POST /api/samples/{sampleID}/cancel
// Cancelling a root sample also cancels everything derived from it.
func (a *AccessionRouter) HandleCancelSample(w http.ResponseWriter, r *http.Request) {
	sampleID, ok := pathUUID(w, r, "sampleID")
	if !ok {
		return
	}

	sample, err := a.as.CancelSample(r.Context(), sampleID, actor(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, sample)
}
