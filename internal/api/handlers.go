package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/pipeline"
	"github.com/sells-group/leadflow/internal/store"
)

const defaultListLimit = 100

type draftRequest struct {
	Text string `json:"text"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.pipeline.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{Limit: defaultListLimit}
	if v := q.Get("stage"); v != "" {
		stage := model.Stage(v)
		if !stage.Valid() {
			writeJSON(w, http.StatusBadRequest, errorBody("unknown stage "+strconv.Quote(v)))
			return
		}
		filter.Stage = stage
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), defaultListLimit); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), 0); !ok {
		return
	}

	recs, err := s.store.ListAll(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) nextFollowup(w http.ResponseWriter, r *http.Request) {
	rec, err := s.pipeline.NextNeedingDraft(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) saveDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := s.pipeline.SaveDraft(r.Context(), chi.URLParam(r, "id"), req.Text)
	respond(w, rec, err)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	rec, err := s.pipeline.Approve(r.Context(), chi.URLParam(r, "id"))
	respond(w, rec, err)
}

func (s *Server) revise(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := s.pipeline.Revise(r.Context(), chi.URLParam(r, "id"), req.Text)
	respond(w, rec, err)
}

func (s *Server) markSent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.pipeline.MarkSent(r.Context(), chi.URLParam(r, "id"))
	respond(w, rec, err)
}

func (s *Server) failedSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r.URL.Query().Get("limit"), 0)
	if !ok {
		return
	}
	recs, err := s.pipeline.ListFailedSubmissions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.Reconcile(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func respond(w http.ResponseWriter, rec *model.Record, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid integer "+strconv.Quote(raw)))
		return 0, false
	}
	return n, true
}

// statusFor maps pipeline and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrRecordBusy),
		errors.Is(err, store.ErrClaimLost),
		errors.Is(err, pipeline.ErrWrongStage),
		errors.Is(err, pipeline.ErrNoFollowup),
		errors.Is(err, pipeline.ErrNotApproved):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrEmptyDraft), errors.Is(err, pipeline.ErrDraftTooLong):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
