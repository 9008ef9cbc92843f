package printer

import (
	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
)

// Printer knows how to print execution information in different formats.
type Printer interface {
	PrintReport(report orchestrator.Report) error
	PrintPlan(plan model.TaskPlan) error
	PrintTemplateList(templates []model.PlanTemplate) error
	PrintCheckpointList(checkpoints []model.Checkpoint) error
	PrintCheckpoint(c model.Checkpoint) error
	PrintStatistics(stats checkpoint.Statistics) error
	PrintMessage(msg string) error
}
