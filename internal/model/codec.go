package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// CodecVersion is the current version of the persisted/wire JSON format.
const CodecVersion = 1

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("could not marshal: %w", err)
	}
	return json.Marshal(envelope{Version: CodecVersion, Data: data})
}

func decode(raw []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("could not unmarshal envelope: %w: %w", err, ErrNotValid)
	}
	if env.Version != CodecVersion {
		return fmt.Errorf("unsupported codec version %d: %w", env.Version, ErrNotValid)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("could not unmarshal v%d data: %w: %w", env.Version, err, ErrNotValid)
	}
	return nil
}

type taskResultV1 struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type taskV1 struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Description          string            `json:"description,omitempty"`
	Operation            string            `json:"operation"`
	Capability           string            `json:"capability,omitempty"`
	Action               string            `json:"action,omitempty"`
	Parameters           map[string]any    `json:"parameters,omitempty"`
	Status               string            `json:"status"`
	Priority             int               `json:"priority"`
	Dependencies         []string          `json:"dependencies,omitempty"`
	Result               *taskResultV1     `json:"result,omitempty"`
	RetryCount           int               `json:"retry_count"`
	MaxRetries           int               `json:"max_retries"`
	TimeoutMS            int64             `json:"timeout_ms"`
	RequiresConfirmation bool              `json:"requires_confirmation,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	StartedAt            *time.Time        `json:"started_at,omitempty"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
}

type planV1 struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Request           string    `json:"request,omitempty"`
	Tasks             []taskV1  `json:"tasks"`
	Strategy          string    `json:"strategy"`
	ContinueOnFailure bool      `json:"continue_on_failure,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func taskToV1(t *Task) taskV1 {
	v := taskV1{
		ID:                   t.ID,
		Name:                 t.Name,
		Description:          t.Description,
		Operation:            t.Operation,
		Capability:           string(t.Capability),
		Action:               t.Action,
		Parameters:           t.Parameters,
		Status:               string(t.Status),
		Priority:             int(t.Priority),
		Dependencies:         t.Dependencies,
		RetryCount:           t.RetryCount,
		MaxRetries:           t.MaxRetries,
		TimeoutMS:            t.Timeout.Milliseconds(),
		RequiresConfirmation: t.RequiresConfirmation,
		Metadata:             t.Metadata,
		CreatedAt:            t.CreatedAt,
		StartedAt:            t.StartedAt,
		CompletedAt:          t.CompletedAt,
	}
	if t.Result != nil {
		v.Result = &taskResultV1{
			Success:    t.Result.Success,
			Message:    t.Result.Message,
			Output:     t.Result.Output,
			Error:      t.Result.Error,
			DurationMS: t.Result.Duration.Milliseconds(),
		}
	}
	return v
}

func taskFromV1(v taskV1) *Task {
	t := &Task{
		ID:                   v.ID,
		Name:                 v.Name,
		Description:          v.Description,
		Operation:            v.Operation,
		Capability:           Capability(v.Capability),
		Action:               v.Action,
		Parameters:           v.Parameters,
		Status:               TaskStatus(v.Status),
		Priority:             Priority(v.Priority),
		Dependencies:         v.Dependencies,
		RetryCount:           v.RetryCount,
		MaxRetries:           v.MaxRetries,
		Timeout:              time.Duration(v.TimeoutMS) * time.Millisecond,
		RequiresConfirmation: v.RequiresConfirmation,
		Metadata:             v.Metadata,
		CreatedAt:            v.CreatedAt,
		StartedAt:            v.StartedAt,
		CompletedAt:          v.CompletedAt,
	}
	if v.Result != nil {
		t.Result = &TaskResult{
			Success:  v.Result.Success,
			Message:  v.Result.Message,
			Output:   v.Result.Output,
			Error:    v.Result.Error,
			Duration: time.Duration(v.Result.DurationMS) * time.Millisecond,
		}
	}
	return t
}

// EncodeTask encodes a task in the versioned JSON format.
func EncodeTask(t *Task) ([]byte, error) {
	return encode(taskToV1(t))
}

// DecodeTask decodes a task from the versioned JSON format.
func DecodeTask(raw []byte) (*Task, error) {
	var v taskV1
	if err := decode(raw, &v); err != nil {
		return nil, err
	}
	return taskFromV1(v), nil
}

// EncodePlan encodes a plan in the versioned JSON format.
func EncodePlan(p *TaskPlan) ([]byte, error) {
	v := planV1{
		ID:                p.ID,
		Name:              p.Name,
		Request:           p.Request,
		Strategy:          string(p.Strategy),
		ContinueOnFailure: p.ContinueOnFailure,
		CreatedAt:         p.CreatedAt,
		Tasks:             make([]taskV1, 0, len(p.Tasks)),
	}
	for _, t := range p.Tasks {
		v.Tasks = append(v.Tasks, taskToV1(t))
	}
	return encode(v)
}

// DecodePlan decodes a plan from the versioned JSON format.
func DecodePlan(raw []byte) (*TaskPlan, error) {
	var v planV1
	if err := decode(raw, &v); err != nil {
		return nil, err
	}

	p := &TaskPlan{
		ID:                v.ID,
		Name:              v.Name,
		Request:           v.Request,
		Strategy:          StrategyKind(v.Strategy),
		ContinueOnFailure: v.ContinueOnFailure,
		CreatedAt:         v.CreatedAt,
		Tasks:             make([]*Task, 0, len(v.Tasks)),
	}
	for _, t := range v.Tasks {
		p.Tasks = append(p.Tasks, taskFromV1(t))
	}
	return p, nil
}

type stepResultV1 struct {
	StepIndex   int            `json:"step_index"`
	StepName    string         `json:"step_name"`
	AgentType   string         `json:"agent_type"`
	Status      string         `json:"status"`
	Output      string         `json:"output"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	TokensUsed  int            `json:"tokens_used"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type stepConfigV1 struct {
	StepIndex  int            `json:"step_index"`
	StepName   string         `json:"step_name"`
	AgentType  string         `json:"agent_type"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	DependsOn  []int          `json:"depends_on"`
}

// EncodeStepResults encodes completed steps as the JSON list stored in the checkpoint rows.
func EncodeStepResults(steps []StepResult) ([]byte, error) {
	vs := make([]stepResultV1, 0, len(steps))
	for _, s := range steps {
		vs = append(vs, stepResultV1{
			StepIndex:   s.Index,
			StepName:    s.Name,
			AgentType:   string(s.Capability),
			Status:      string(s.Status),
			Output:      s.Output,
			Error:       s.Error,
			StartedAt:   s.StartedAt,
			CompletedAt: s.CompletedAt,
			DurationMS:  s.Duration.Milliseconds(),
			TokensUsed:  s.Tokens,
			Metadata:    s.Metadata,
		})
	}
	return json.Marshal(vs)
}

// DecodeStepResults decodes the completed steps JSON list.
func DecodeStepResults(raw []byte) ([]StepResult, error) {
	var vs []stepResultV1
	if err := json.Unmarshal(raw, &vs); err != nil {
		return nil, fmt.Errorf("could not unmarshal step results: %w: %w", err, ErrNotValid)
	}

	steps := make([]StepResult, 0, len(vs))
	for _, v := range vs {
		steps = append(steps, StepResult{
			Index:       v.StepIndex,
			Name:        v.StepName,
			Capability:  Capability(v.AgentType),
			Status:      StepStatus(v.Status),
			Output:      v.Output,
			Error:       v.Error,
			StartedAt:   v.StartedAt,
			CompletedAt: v.CompletedAt,
			Duration:    time.Duration(v.DurationMS) * time.Millisecond,
			Tokens:      v.TokensUsed,
			Metadata:    v.Metadata,
		})
	}
	return steps, nil
}

// EncodeStepConfigs encodes pending steps as the JSON list stored in the checkpoint rows.
func EncodeStepConfigs(steps []StepConfig) ([]byte, error) {
	vs := make([]stepConfigV1, 0, len(steps))
	for _, s := range steps {
		params := s.Parameters
		if params == nil {
			params = map[string]any{}
		}
		deps := s.DependsOn
		if deps == nil {
			deps = []int{}
		}
		vs = append(vs, stepConfigV1{
			StepIndex:  s.Index,
			StepName:   s.Name,
			AgentType:  string(s.Capability),
			Action:     s.Action,
			Parameters: params,
			DependsOn:  deps,
		})
	}
	return json.Marshal(vs)
}

// DecodeStepConfigs decodes the pending steps JSON list.
func DecodeStepConfigs(raw []byte) ([]StepConfig, error) {
	var vs []stepConfigV1
	if err := json.Unmarshal(raw, &vs); err != nil {
		return nil, fmt.Errorf("could not unmarshal step configs: %w: %w", err, ErrNotValid)
	}

	steps := make([]StepConfig, 0, len(vs))
	for _, v := range vs {
		steps = append(steps, StepConfig{
			Index:      v.StepIndex,
			Name:       v.StepName,
			Capability: Capability(v.AgentType),
			Action:     v.Action,
			Parameters: v.Parameters,
			DependsOn:  v.DependsOn,
		})
	}
	return steps, nil
}

type checkpointV1 struct {
	TaskID         string          `json:"task_id"`
	UserID         string          `json:"user_id"`
	Description    string          `json:"task_description"`
	Type           string          `json:"task_type"`
	Status         string          `json:"status"`
	CurrentStep    int             `json:"current_step"`
	TotalSteps     int             `json:"total_steps"`
	CompletedSteps json.RawMessage `json:"completed_steps"`
	PendingSteps   json.RawMessage `json:"pending_steps"`
	Context        map[string]any  `json:"context"`
	Variables      map[string]any  `json:"variables"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	PausedAt       *time.Time      `json:"paused_at,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	TotalTokens    int             `json:"total_tokens"`
	RetryCount     int             `json:"retry_count"`
	LastError      string          `json:"last_error,omitempty"`
}

// EncodeCheckpoint encodes a checkpoint in the versioned JSON format.
func EncodeCheckpoint(c *Checkpoint) ([]byte, error) {
	completed, err := EncodeStepResults(c.CompletedSteps)
	if err != nil {
		return nil, err
	}
	pending, err := EncodeStepConfigs(c.PendingSteps)
	if err != nil {
		return nil, err
	}

	return encode(checkpointV1{
		TaskID:         c.TaskID,
		UserID:         c.UserID,
		Description:    c.Description,
		Type:           c.Type,
		Status:         string(c.Status),
		CurrentStep:    c.CurrentStep,
		TotalSteps:     c.TotalSteps,
		CompletedSteps: completed,
		PendingSteps:   pending,
		Context:        c.Context,
		Variables:      c.Variables,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		PausedAt:       c.PausedAt,
		ExpiresAt:      c.ExpiresAt,
		TotalTokens:    c.TotalTokens,
		RetryCount:     c.RetryCount,
		LastError:      c.LastError,
	})
}

// DecodeCheckpoint decodes a checkpoint from the versioned JSON format.
func DecodeCheckpoint(raw []byte) (*Checkpoint, error) {
	var v checkpointV1
	if err := decode(raw, &v); err != nil {
		return nil, err
	}

	completed, err := DecodeStepResults(v.CompletedSteps)
	if err != nil {
		return nil, err
	}
	pending, err := DecodeStepConfigs(v.PendingSteps)
	if err != nil {
		return nil, err
	}

	return &Checkpoint{
		TaskID:         v.TaskID,
		UserID:         v.UserID,
		Description:    v.Description,
		Type:           v.Type,
		Status:         CheckpointStatus(v.Status),
		CurrentStep:    v.CurrentStep,
		TotalSteps:     v.TotalSteps,
		CompletedSteps: completed,
		PendingSteps:   pending,
		Context:        v.Context,
		Variables:      v.Variables,
		CreatedAt:      v.CreatedAt,
		UpdatedAt:      v.UpdatedAt,
		PausedAt:       v.PausedAt,
		ExpiresAt:      v.ExpiresAt,
		TotalTokens:    v.TotalTokens,
		RetryCount:     v.RetryCount,
		LastError:      v.LastError,
	}, nil
}
