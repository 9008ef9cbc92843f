package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/slok/stepper/internal/app/run"
	"github.com/slok/stepper/internal/app/submit"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/planner"
	storageio "github.com/slok/stepper/internal/storage/io"
)

const inlinePlanName = "inline"

type createJobRequest struct {
	Request   string            `json:"request"`
	Template  string            `json:"template"`
	Plan      json.RawMessage   `json:"plan"`
	Strategy  string            `json:"strategy"`
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id"`
	Priority  string            `json:"priority"`
	Metadata  map[string]string `json:"metadata"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	priority, err := model.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	runReq := run.Request{
		Request:  strings.TrimSpace(req.Request),
		Template: strings.TrimSpace(req.Template),
		Strategy: model.StrategyKind(req.Strategy),
		UserID:   req.UserID,
	}

	if len(req.Plan) > 0 && string(req.Plan) != "null" {
		tpl, err := storageio.DecodePlanTemplate(req.Plan, inlinePlanName)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_plan", err.Error())
			return
		}
		runReq.Plan = planner.Instantiate(*tpl, runReq.Request, s.now())
	}

	id, err := s.submitter.Run(r.Context(), submit.Request{
		Run:       runReq,
		Priority:  priority,
		SessionID: req.SessionID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJob(w, http.StatusAccepted, id)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	jobs := s.jobs.List(r.URL.Query().Get("user_id"), limit)
	resp := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, toJobResponse(j))
	}

	writeJSON(w, http.StatusOK, map[string]any{"jobs": resp})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	s.writeJob(w, http.StatusOK, chi.URLParam(r, "jobID"))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := s.jobs.Cancel(id); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJob(w, http.StatusOK, id)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cpStats, err := s.checkpoints.Statistics(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Queue:       toQueueStatsResponse(s.jobs.Stats()),
		Checkpoints: toCheckpointStatsResponse(*cpStats),
	})
}

func (s *Server) writeJob(w http.ResponseWriter, status int, id string) {
	job, err := s.jobs.Get(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, status, toJobResponse(*job))
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, model.ErrNotValid):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, model.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, model.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, model.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "queue_full", err.Error())
	default:
		s.logger.Errorf("API request failed: %s", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(v)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a positive number")
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
