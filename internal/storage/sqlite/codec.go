package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/slok/stepper/internal/model"
)

// timeLayout has a fixed width so the stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use any RFC3339 variant.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(s string) (map[string]any, error) {
	m := map[string]any{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func checkpointArgs(c model.Checkpoint) ([]any, error) {
	completed, err := model.EncodeStepResults(c.CompletedSteps)
	if err != nil {
		return nil, fmt.Errorf("could not encode completed steps: %w", err)
	}
	pending, err := model.EncodeStepConfigs(c.PendingSteps)
	if err != nil {
		return nil, fmt.Errorf("could not encode pending steps: %w", err)
	}
	ctxJSON, err := marshalMap(c.Context)
	if err != nil {
		return nil, fmt.Errorf("could not encode context: %w", err)
	}
	varsJSON, err := marshalMap(c.Variables)
	if err != nil {
		return nil, fmt.Errorf("could not encode variables: %w", err)
	}

	var lastError sql.NullString
	if c.LastError != "" {
		lastError = sql.NullString{String: c.LastError, Valid: true}
	}

	return []any{
		c.TaskID,
		c.UserID,
		c.Description,
		c.Type,
		string(c.Status),
		c.CurrentStep,
		c.TotalSteps,
		string(completed),
		string(pending),
		ctxJSON,
		varsJSON,
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
		formatNullTime(c.PausedAt),
		formatNullTime(c.ExpiresAt),
		c.TotalTokens,
		c.RetryCount,
		lastError,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (model.Checkpoint, error) {
	var c model.Checkpoint
	var status, completed, pending, ctxJSON, varsJSON, createdAt, updatedAt string
	var pausedAt, expiresAt, lastError sql.NullString

	err := s.Scan(
		&c.TaskID,
		&c.UserID,
		&c.Description,
		&c.Type,
		&status,
		&c.CurrentStep,
		&c.TotalSteps,
		&completed,
		&pending,
		&ctxJSON,
		&varsJSON,
		&createdAt,
		&updatedAt,
		&pausedAt,
		&expiresAt,
		&c.TotalTokens,
		&c.RetryCount,
		&lastError,
	)
	if err != nil {
		return model.Checkpoint{}, err
	}

	c.Status = model.CheckpointStatus(status)
	c.LastError = lastError.String

	if c.CompletedSteps, err = model.DecodeStepResults([]byte(completed)); err != nil {
		return model.Checkpoint{}, err
	}
	if c.PendingSteps, err = model.DecodeStepConfigs([]byte(pending)); err != nil {
		return model.Checkpoint{}, err
	}
	if c.Context, err = unmarshalMap(ctxJSON); err != nil {
		return model.Checkpoint{}, fmt.Errorf("could not decode context: %w", err)
	}
	if c.Variables, err = unmarshalMap(varsJSON); err != nil {
		return model.Checkpoint{}, fmt.Errorf("could not decode variables: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Checkpoint{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Checkpoint{}, err
	}
	if c.PausedAt, err = parseNullTime(pausedAt); err != nil {
		return model.Checkpoint{}, err
	}
	if c.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return model.Checkpoint{}, err
	}

	return c, nil
}
