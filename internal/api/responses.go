package api

import (
	"time"

	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
	"github.com/slok/stepper/internal/workqueue"
)

type jobResponse struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Status          string            `json:"status"`
	Priority        string            `json:"priority"`
	Progress        int               `json:"progress"`
	ProgressMessage string            `json:"progress_message,omitempty"`
	UserID          string            `json:"user_id,omitempty"`
	SessionID       string            `json:"session_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Report          *reportResponse   `json:"report,omitempty"`
	Error           string            `json:"error,omitempty"`
	CreatedAt       string            `json:"created_at"`
	StartedAt       *string           `json:"started_at,omitempty"`
	CompletedAt     *string           `json:"completed_at,omitempty"`
}

type reportResponse struct {
	PlanID       string               `json:"plan_id"`
	PlanName     string               `json:"plan_name,omitempty"`
	Request      string               `json:"request,omitempty"`
	Strategy     string               `json:"strategy"`
	CheckpointID string               `json:"checkpoint_id,omitempty"`
	Status       string               `json:"status"`
	Success      bool                 `json:"success"`
	Interrupted  bool                 `json:"interrupted,omitempty"`
	Message      string               `json:"message"`
	Progress     float64              `json:"progress"`
	Tasks        []taskReportResponse `json:"tasks"`
	DurationMS   int64                `json:"duration_ms"`
}

type taskReportResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Operation  string `json:"operation"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	Retries    int    `json:"retries"`
	DurationMS int64  `json:"duration_ms"`
}

type checkpointResponse struct {
	TaskID         string               `json:"task_id"`
	UserID         string               `json:"user_id"`
	Description    string               `json:"description,omitempty"`
	Type           string               `json:"type,omitempty"`
	Status         string               `json:"status"`
	Resumable      bool                 `json:"resumable"`
	CurrentStep    int                  `json:"current_step"`
	TotalSteps     int                  `json:"total_steps"`
	Progress       float64              `json:"progress"`
	CompletedSteps []stepResultResponse `json:"completed_steps"`
	PendingSteps   []stepConfigResponse `json:"pending_steps"`
	Variables      map[string]any       `json:"variables,omitempty"`
	TotalTokens    int                  `json:"total_tokens"`
	RetryCount     int                  `json:"retry_count"`
	LastError      string               `json:"last_error,omitempty"`
	CreatedAt      string               `json:"created_at"`
	UpdatedAt      string               `json:"updated_at"`
	PausedAt       *string              `json:"paused_at,omitempty"`
	ExpiresAt      *string              `json:"expires_at,omitempty"`
}

type stepResultResponse struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Capability string `json:"capability"`
	Status     string `json:"status"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Tokens     int    `json:"tokens,omitempty"`
}

type stepConfigResponse struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Capability string `json:"capability"`
	Action     string `json:"action"`
	DependsOn  []int  `json:"depends_on,omitempty"`
}

type statsResponse struct {
	Queue       queueStatsResponse      `json:"queue"`
	Checkpoints checkpointStatsResponse `json:"checkpoints"`
}

type queueStatsResponse struct {
	QueueSize  int            `json:"queue_size"`
	Running    int            `json:"running"`
	Total      int            `json:"total"`
	MaxWorkers int            `json:"max_workers"`
	ByStatus   map[string]int `json:"by_status"`
}

type checkpointStatsResponse struct {
	Total       int            `json:"total"`
	Resumable   int            `json:"resumable"`
	TotalTokens int            `json:"total_tokens"`
	ByStatus    map[string]int `json:"by_status"`
}

func toJobResponse(j workqueue.Job) jobResponse {
	resp := jobResponse{
		ID:              j.ID,
		Name:            j.Name,
		Status:          string(j.Status),
		Priority:        j.Priority.String(),
		Progress:        j.Progress,
		ProgressMessage: j.ProgressMessage,
		UserID:          j.UserID,
		SessionID:       j.SessionID,
		Metadata:        j.Metadata,
		Error:           j.Error,
		CreatedAt:       formatTime(j.CreatedAt),
		StartedAt:       formatTimePtr(j.StartedAt),
		CompletedAt:     formatTimePtr(j.CompletedAt),
	}

	if report, ok := j.Result.(*orchestrator.Report); ok && report != nil {
		r := toReportResponse(*report)
		resp.Report = &r
	}

	return resp
}

func toReportResponse(r orchestrator.Report) reportResponse {
	resp := reportResponse{
		PlanID:       r.PlanID,
		PlanName:     r.PlanName,
		Request:      r.Request,
		Strategy:     string(r.Strategy),
		CheckpointID: r.CheckpointID,
		Status:       string(r.Status),
		Success:      r.Success,
		Interrupted:  r.Interrupted,
		Message:      r.Message,
		Progress:     r.Progress.Percent,
		Tasks:        make([]taskReportResponse, 0, len(r.Tasks)),
		DurationMS:   r.Duration.Milliseconds(),
	}

	for _, t := range r.Tasks {
		resp.Tasks = append(resp.Tasks, taskReportResponse{
			ID:         t.ID,
			Name:       t.Name,
			Operation:  t.Operation,
			Status:     string(t.Status),
			Message:    t.Message,
			Output:     t.Output,
			Error:      t.Error,
			Retries:    t.Retries,
			DurationMS: t.Duration.Milliseconds(),
		})
	}

	return resp
}

func toCheckpointResponse(c model.Checkpoint, now time.Time) checkpointResponse {
	resp := checkpointResponse{
		TaskID:         c.TaskID,
		UserID:         c.UserID,
		Description:    c.Description,
		Type:           c.Type,
		Status:         string(c.Status),
		Resumable:      c.IsResumable(now),
		CurrentStep:    c.CurrentStep,
		TotalSteps:     c.TotalSteps,
		Progress:       c.Progress(),
		CompletedSteps: make([]stepResultResponse, 0, len(c.CompletedSteps)),
		PendingSteps:   make([]stepConfigResponse, 0, len(c.PendingSteps)),
		Variables:      c.Variables,
		TotalTokens:    c.TotalTokens,
		RetryCount:     c.RetryCount,
		LastError:      c.LastError,
		CreatedAt:      formatTime(c.CreatedAt),
		UpdatedAt:      formatTime(c.UpdatedAt),
		PausedAt:       formatTimePtr(c.PausedAt),
		ExpiresAt:      formatTimePtr(c.ExpiresAt),
	}

	for _, s := range c.CompletedSteps {
		resp.CompletedSteps = append(resp.CompletedSteps, stepResultResponse{
			Index:      s.Index,
			Name:       s.Name,
			Capability: string(s.Capability),
			Status:     string(s.Status),
			Output:     s.Output,
			Error:      s.Error,
			DurationMS: s.Duration.Milliseconds(),
			Tokens:     s.Tokens,
		})
	}

	for _, s := range c.PendingSteps {
		resp.PendingSteps = append(resp.PendingSteps, stepConfigResponse{
			Index:      s.Index,
			Name:       s.Name,
			Capability: string(s.Capability),
			Action:     s.Action,
			DependsOn:  s.DependsOn,
		})
	}

	return resp
}

func toQueueStatsResponse(s workqueue.Stats) queueStatsResponse {
	byStatus := make(map[string]int, len(s.ByStatus))
	for k, v := range s.ByStatus {
		byStatus[string(k)] = v
	}

	return queueStatsResponse{
		QueueSize:  s.QueueSize,
		Running:    s.Running,
		Total:      s.Total,
		MaxWorkers: s.MaxWorkers,
		ByStatus:   byStatus,
	}
}

func toCheckpointStatsResponse(s checkpoint.Statistics) checkpointStatsResponse {
	byStatus := make(map[string]int, len(s.ByStatus))
	for k, v := range s.ByStatus {
		byStatus[string(k)] = v
	}

	return checkpointStatsResponse{
		Total:       s.Total,
		Resumable:   s.Resumable,
		TotalTokens: s.TotalTokens,
		ByStatus:    byStatus,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
