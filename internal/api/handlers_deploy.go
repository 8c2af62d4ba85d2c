package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/org/certrenew/internal/history"
	"github.com/org/certrenew/internal/remote"
	"github.com/org/certrenew/pkg/models"
)

// DeployStartHandler handles POST /v1/deploy/batch. The submit returns as
// soon as the run is accepted; a background goroutine follows the run to
// its terminal state and records it in history.
func (s *Server) DeployStartHandler(w http.ResponseWriter, r *http.Request) {
	var req remote.DeploymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PfxFilename == "" || len(req.DeviceIDs) == 0 {
		writeError(w, http.StatusBadRequest, "pfx_filename and device_ids are required")
		return
	}

	run, err := s.fleet.StartBatchDeploy(r.Context(), req)
	if err != nil {
		writeTypedError(w, err)
		return
	}

	s.recorder.Record(r.Context(), &models.RenewalEvent{
		Kind:    models.EventDeploySubmit,
		BatchID: run.BatchID,
		Status:  string(run.Status),
	})

	if run.Status.Terminal() {
		s.recorder.RecordRun(r.Context(), run)
	} else {
		// Detached from the request context: the poll must outlive the
		// HTTP request that started it.
		go func(batchID string) {
			final, err := s.poller.Watch(s.detachedCtx(), batchID, nil)
			if err != nil {
				s.log.Warn().Err(err).Str("batch_id", batchID).Msg("deploy watch failed")
				return
			}
			s.recorder.RecordRun(s.detachedCtx(), final)
		}(run.BatchID)
	}

	writeJSON(w, http.StatusAccepted, run)
}

// DeployStatusHandler handles GET /v1/deploy/batch/{id}. The server is the
// sole source of truth; the fresh poll replaces anything recorded locally.
func (s *Server) DeployStatusHandler(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")

	run, err := s.fleet.BatchDeployStatus(r.Context(), batchID)
	if err != nil {
		// Fall back to the recorded run for batches the manager has
		// already expired.
		if recorded, herr := s.store.GetDeployRun(r.Context(), batchID); herr == nil {
			writeJSON(w, http.StatusOK, recorded)
			return
		}
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HistoryEventsHandler handles GET /v1/history/events
func (s *Server) HistoryEventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := history.EventFilter{
		Kind:  models.EventKind(q.Get("kind")),
		Limit: 100,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("request_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			filter.RequestID = &id
		}
	}

	events, err := s.store.QueryEvents(r.Context(), filter)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// HistoryRunsHandler handles GET /v1/history/runs
func (s *Server) HistoryRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.ListDeployRuns(r.Context(), limit, 0)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	if n, err := s.store.CountDeployRuns(r.Context()); err == nil {
		deployRunsTotal.Set(float64(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// HistoryRunHandler handles GET /v1/history/runs/{id}
func (s *Server) HistoryRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetDeployRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
