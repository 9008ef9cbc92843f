package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
)

// JSONPrinter prints execution information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type reportOutput struct {
	PlanID       string             `json:"plan_id"`
	PlanName     string             `json:"plan_name,omitempty"`
	Request      string             `json:"request,omitempty"`
	Strategy     string             `json:"strategy"`
	CheckpointID string             `json:"checkpoint_id,omitempty"`
	Status       string             `json:"status"`
	Success      bool               `json:"success"`
	Interrupted  bool               `json:"interrupted,omitempty"`
	Message      string             `json:"message"`
	Progress     progressOutput     `json:"progress"`
	Tasks        []taskReportOutput `json:"tasks"`
	DurationMS   int64              `json:"duration_ms"`
}

type progressOutput struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Cancelled int     `json:"cancelled"`
	Pending   int     `json:"pending"`
	Percent   float64 `json:"percent"`
}

type taskReportOutput struct {
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

type planOutput struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Request  string           `json:"request,omitempty"`
	Strategy string           `json:"strategy"`
	Layers   [][]string       `json:"layers"`
	Tasks    []planTaskOutput `json:"tasks"`
}

type planTaskOutput struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   string         `json:"priority"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	MaxRetries int            `json:"max_retries"`
	TimeoutMS  int64          `json:"timeout_ms"`
}

type templateOutput struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Strategy    string   `json:"strategy"`
	Tasks       int      `json:"tasks"`
}

type checkpointListItem struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	Completed   int       `json:"completed_steps"`
	TotalSteps  int       `json:"total_steps"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type checkpointOutput struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	Description    string             `json:"description,omitempty"`
	Type           string             `json:"type,omitempty"`
	Status         string             `json:"status"`
	CurrentStep    int                `json:"current_step"`
	TotalSteps     int                `json:"total_steps"`
	Progress       float64            `json:"progress"`
	CompletedSteps []stepResultOutput `json:"completed_steps"`
	PendingSteps   []stepConfigOutput `json:"pending_steps"`
	Variables      map[string]any     `json:"variables,omitempty"`
	TotalTokens    int                `json:"total_tokens"`
	RetryCount     int                `json:"retry_count"`
	LastError      string             `json:"last_error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	PausedAt       *time.Time         `json:"paused_at"`
	ExpiresAt      *time.Time         `json:"expires_at"`
}

type stepResultOutput struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Capability string `json:"capability"`
	Status     string `json:"status"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Tokens     int    `json:"tokens,omitempty"`
}

type stepConfigOutput struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Capability string `json:"capability"`
	Action     string `json:"action"`
	DependsOn  []int  `json:"depends_on,omitempty"`
}

type statisticsOutput struct {
	Total       int            `json:"total"`
	Resumable   int            `json:"resumable"`
	TotalTokens int            `json:"total_tokens"`
	ByStatus    map[string]int `json:"by_status"`
}

type messageOutput struct {
	Message string `json:"message"`
}

// PrintReport prints the execution report in JSON format.
func (j *JSONPrinter) PrintReport(r orchestrator.Report) error {
	output := reportOutput{
		PlanID:       r.PlanID,
		PlanName:     r.PlanName,
		Request:      r.Request,
		Strategy:     string(r.Strategy),
		CheckpointID: r.CheckpointID,
		Status:       string(r.Status),
		Success:      r.Success,
		Interrupted:  r.Interrupted,
		Message:      r.Message,
		Progress: progressOutput{
			Total:     r.Progress.Total,
			Completed: r.Progress.Completed,
			Failed:    r.Progress.Failed,
			Cancelled: r.Progress.Cancelled,
			Pending:   r.Progress.Pending,
			Percent:   r.Progress.Percent,
		},
		Tasks:      make([]taskReportOutput, 0, len(r.Tasks)),
		DurationMS: r.Duration.Milliseconds(),
	}
	for _, t := range r.Tasks {
		output.Tasks = append(output.Tasks, taskReportOutput{
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

	return j.encode(output)
}

// PrintPlan prints the plan and its execution layers in JSON format.
func (j *JSONPrinter) PrintPlan(plan model.TaskPlan) error {
	layers, err := plan.Layers()
	if err != nil {
		return err
	}

	output := planOutput{
		ID:       plan.ID,
		Name:     plan.Name,
		Request:  plan.Request,
		Strategy: string(plan.Strategy),
		Layers:   make([][]string, 0, len(layers)),
		Tasks:    make([]planTaskOutput, 0, len(plan.Tasks)),
	}
	for _, l := range layers {
		ids := make([]string, 0, len(l))
		for _, t := range l {
			ids = append(ids, t.ID)
		}
		output.Layers = append(output.Layers, ids)
	}
	for _, t := range plan.Tasks {
		output.Tasks = append(output.Tasks, planTaskOutput{
			ID:         t.ID,
			Name:       t.Name,
			Operation:  t.Operation,
			Parameters: t.Parameters,
			Priority:   t.Priority.String(),
			DependsOn:  t.Dependencies,
			MaxRetries: t.MaxRetries,
			TimeoutMS:  t.Timeout.Milliseconds(),
		})
	}

	return j.encode(output)
}

// PrintTemplateList prints the plan templates in JSON format.
func (j *JSONPrinter) PrintTemplateList(templates []model.PlanTemplate) error {
	items := make([]templateOutput, len(templates))
	for i, t := range templates {
		items[i] = templateOutput{
			Name:        t.Name,
			Description: t.Description,
			Keywords:    t.Keywords,
			Strategy:    string(t.Strategy),
			Tasks:       len(t.Tasks),
		}
	}

	return j.encode(items)
}

// PrintCheckpointList prints checkpoints in JSON format with a subset of fields.
func (j *JSONPrinter) PrintCheckpointList(checkpoints []model.Checkpoint) error {
	items := make([]checkpointListItem, len(checkpoints))
	for i, c := range checkpoints {
		items[i] = checkpointListItem{
			ID:          c.TaskID,
			UserID:      c.UserID,
			Status:      string(c.Status),
			Completed:   len(c.CompletedSteps),
			TotalSteps:  c.TotalSteps,
			Description: c.Description,
			UpdatedAt:   c.UpdatedAt.UTC(),
		}
	}

	return j.encode(items)
}

// PrintCheckpoint prints the detailed checkpoint in JSON format.
func (j *JSONPrinter) PrintCheckpoint(c model.Checkpoint) error {
	output := checkpointOutput{
		ID:             c.TaskID,
		UserID:         c.UserID,
		Description:    c.Description,
		Type:           c.Type,
		Status:         string(c.Status),
		CurrentStep:    c.CurrentStep,
		TotalSteps:     c.TotalSteps,
		Progress:       c.Progress(),
		CompletedSteps: make([]stepResultOutput, 0, len(c.CompletedSteps)),
		PendingSteps:   make([]stepConfigOutput, 0, len(c.PendingSteps)),
		Variables:      c.Variables,
		TotalTokens:    c.TotalTokens,
		RetryCount:     c.RetryCount,
		LastError:      c.LastError,
		CreatedAt:      c.CreatedAt.UTC(),
		UpdatedAt:      c.UpdatedAt.UTC(),
		PausedAt:       utcPtr(c.PausedAt),
		ExpiresAt:      utcPtr(c.ExpiresAt),
	}
	for _, s := range c.CompletedSteps {
		output.CompletedSteps = append(output.CompletedSteps, stepResultOutput{
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
		output.PendingSteps = append(output.PendingSteps, stepConfigOutput{
			Index:      s.Index,
			Name:       s.Name,
			Capability: string(s.Capability),
			Action:     s.Action,
			DependsOn:  s.DependsOn,
		})
	}

	return j.encode(output)
}

// PrintStatistics prints the checkpoint statistics in JSON format.
func (j *JSONPrinter) PrintStatistics(stats checkpoint.Statistics) error {
	output := statisticsOutput{
		Total:       stats.Total,
		Resumable:   stats.Resumable,
		TotalTokens: stats.TotalTokens,
		ByStatus:    make(map[string]int, len(stats.ByStatus)),
	}
	for k, v := range stats.ByStatus {
		output.ByStatus[string(k)] = v
	}

	return j.encode(output)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
