package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/slok/stepper/internal/app/submit"
	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/model"
)

type resumeCheckpointRequest struct {
	Priority  string            `json:"priority"`
	SessionID string            `json:"session_id"`
	Metadata  map[string]string `json:"metadata"`
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	q := r.URL.Query()
	userID := q.Get("user_id")

	resumable := false
	if v := q.Get("resumable"); v != "" {
		resumable, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "resumable must be a boolean")
			return
		}
	}

	var cps []model.Checkpoint
	if resumable {
		cps, err = s.checkpoints.Resumable(r.Context(), userID)
		if limit > 0 && len(cps) > limit {
			cps = cps[:limit]
		}
	} else {
		cps, err = s.checkpoints.List(r.Context(), checkpoint.ListRequest{
			UserID: userID,
			Status: model.CheckpointStatus(q.Get("status")),
			Limit:  limit,
		})
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	now := s.now()
	resp := make([]checkpointResponse, 0, len(cps))
	for _, c := range cps {
		resp = append(resp, toCheckpointResponse(c, now))
	}

	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": resp})
}

func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	c, err := s.checkpoints.Load(r.Context(), chi.URLParam(r, "checkpointID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCheckpointResponse(*c, s.now()))
}

func (s *Server) handlePauseCheckpoint(w http.ResponseWriter, r *http.Request) {
	c, err := s.checkpoints.Pause(r.Context(), chi.URLParam(r, "checkpointID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCheckpointResponse(*c, s.now()))
}

func (s *Server) handleResumeCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req resumeCheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	priority, err := model.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	id := chi.URLParam(r, "checkpointID")
	c, err := s.checkpoints.Load(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !c.IsResumable(s.now()) {
		s.writeDomainError(w, fmt.Errorf("checkpoint %q is %s: %w", id, c.Status, model.ErrIllegalTransition))
		return
	}

	jobID, err := s.submitter.Run(r.Context(), submit.Request{
		ResumeCheckpointID: id,
		Priority:           priority,
		SessionID:          req.SessionID,
		Metadata:           req.Metadata,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJob(w, http.StatusAccepted, jobID)
}
