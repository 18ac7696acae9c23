package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/sukl/internal/core"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

// SubmitRequest is the body of POST /api/datasets.
type SubmitRequest struct {
	DatasetType string `json:"datasetType"`
	Period      string `json:"period"` // YYYY-MM or YYYY
	Location    string `json:"location"`
}

// descriptor validates the request and converts it.
func (req SubmitRequest) descriptor() (core.Descriptor, error) {
	t, err := core.ParseDatasetType(req.DatasetType)
	if err != nil {
		return core.Descriptor{}, badRequest("%v", err)
	}
	p, err := core.ParsePeriod(req.Period)
	if err != nil {
		return core.Descriptor{}, badRequest("%v", err)
	}
	if strings.TrimSpace(req.Location) == "" {
		return core.Descriptor{}, badRequest("location is required")
	}
	return core.Descriptor{Type: t, Period: p, Location: strings.TrimSpace(req.Location)}, nil
}

// handleHealth reports liveness and import capacity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"imports": s.service.LimiterStatus(),
	})
}

// handleListDatasets returns the registered datasets.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Datasets())
}

// handleSubmit starts a background import for one published file.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req SubmitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, r, badRequest("invalid request body: %v", err))
		return
	}

	d, err := req.descriptor()
	if err != nil {
		respondError(w, r, err)
		return
	}

	job, err := s.service.Submit(d)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/jobs/"+job.ID.String())
	writeJSON(w, http.StatusAccepted, job.Status())
}

// handleJobStatus returns the current state of a submitted job.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "jobID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	job, err := s.service.Job(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job.Status())
}

// handleCancelJob cancels a running job. Nothing it wrote is committed.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "jobID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.service.CancelJob(id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// LedgerResponse is the body of GET /api/ledger.
type LedgerResponse struct {
	Count   int                    `json:"count"`
	Entries []core.ProcessedPeriod `json:"entries"`
}

// handleLedger lists processed periods, optionally for one dataset type.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	var filter core.DatasetType
	if raw := r.URL.Query().Get("type"); raw != "" {
		t, err := core.ParseDatasetType(raw)
		if err != nil {
			respondError(w, r, badRequest("%v", err))
			return
		}
		filter = t
	}

	ledger, err := s.service.Ledger(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	entries := make([]core.ProcessedPeriod, 0, ledger.Len())
	for _, e := range ledger.Entries() {
		if filter == "" || e.Type == filter {
			entries = append(entries, e)
		}
	}
	writeJSON(w, http.StatusOK, LedgerResponse{Count: len(entries), Entries: entries})
}

// EligibilityResponse is the body of GET /api/eligibility.
type EligibilityResponse struct {
	DatasetType core.DatasetType `json:"datasetType"`
	Period      core.Period      `json:"period"`
	core.Decision
}

// handleEligibility evaluates ?type=&period= against the current ledger.
func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t, err := core.ParseDatasetType(q.Get("type"))
	if err != nil {
		respondError(w, r, badRequest("%v", err))
		return
	}
	p, err := core.ParsePeriod(q.Get("period"))
	if err != nil {
		respondError(w, r, badRequest("%v", err))
		return
	}

	decision, err := s.service.Evaluate(r.Context(), t, p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EligibilityResponse{DatasetType: t, Period: p, Decision: decision})
}

// handleListImports returns import history filtered by type, status and year.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.RunFilter{
		Year:  parseIntParam(r, "year", 0),
		Limit: parseIntParam(r, "limit", 50),
	}
	if raw := q.Get("type"); raw != "" {
		t, err := core.ParseDatasetType(raw)
		if err != nil {
			respondError(w, r, badRequest("%v", err))
			return
		}
		filter.Type = t
	}
	if raw := q.Get("status"); raw != "" {
		status := core.RunStatus(strings.ToLower(raw))
		switch status {
		case core.RunCompleted, core.RunFailed:
		default:
			respondError(w, r, badRequest("status must be completed or failed"))
			return
		}
		filter.Status = status
	}

	runs, err := s.service.Runs(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleImportFailures returns the rejected rows stored for one run.
func (s *Server) handleImportFailures(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "runID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	failures, err := s.service.RunFailures(r.Context(), id, parseIntParam(r, "limit", 1000))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, failures)
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, badRequest("invalid %s", name)
	}
	return id, nil
}
