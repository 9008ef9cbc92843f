package printer

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/orchestrator"
)

const maxCellLen = 60

// TablePrinter prints execution information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintReport prints the execution report with a row per task.
func (t *TablePrinter) PrintReport(r orchestrator.Report) error {
	fmt.Fprintf(t.writer, "Plan:        %s\n", planTitle(r.PlanName, r.PlanID))
	fmt.Fprintf(t.writer, "Strategy:    %s\n", r.Strategy)
	fmt.Fprintf(t.writer, "Status:      %s\n", r.Status)
	if r.CheckpointID != "" {
		fmt.Fprintf(t.writer, "Checkpoint:  %s\n", r.CheckpointID)
	}
	fmt.Fprintf(t.writer, "Duration:    %s\n", FormatDuration(r.Duration))
	fmt.Fprintf(t.writer, "Result:      %s\n", r.Message)

	if len(r.Tasks) == 0 {
		return nil
	}

	fmt.Fprintln(t.writer)
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "TASK\tOPERATION\tSTATUS\tRETRIES\tDURATION\tMESSAGE")
	for _, task := range r.Tasks {
		msg := task.Message
		if task.Error != "" {
			msg = task.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			task.ID,
			task.Operation,
			task.Status,
			task.Retries,
			FormatDuration(task.Duration),
			truncate(msg),
		)
	}

	return nil
}

// PrintPlan prints the plan tasks with their execution layer.
func (t *TablePrinter) PrintPlan(plan model.TaskPlan) error {
	fmt.Fprintf(t.writer, "Plan:        %s\n", planTitle(plan.Name, plan.ID))
	fmt.Fprintf(t.writer, "Strategy:    %s\n", plan.Strategy)
	if plan.Request != "" {
		fmt.Fprintf(t.writer, "Request:     %s\n", plan.Request)
	}

	layers, err := plan.Layers()
	if err != nil {
		return err
	}
	layerOf := map[string]int{}
	for i, l := range layers {
		for _, task := range l {
			layerOf[task.ID] = i
		}
	}

	fmt.Fprintln(t.writer)
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "TASK\tOPERATION\tPRIORITY\tLAYER\tDEPENDS ON")
	for _, task := range plan.Tasks {
		deps := "-"
		if len(task.Dependencies) > 0 {
			deps = strings.Join(task.Dependencies, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", task.ID, task.Operation, task.Priority, layerOf[task.ID], deps)
	}

	return nil
}

// PrintTemplateList prints the plan templates.
func (t *TablePrinter) PrintTemplateList(templates []model.PlanTemplate) error {
	if len(templates) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "NAME\tSTRATEGY\tTASKS\tKEYWORDS")
	for _, tpl := range templates {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", tpl.Name, tpl.Strategy, len(tpl.Tasks), strings.Join(tpl.Keywords, ","))
	}

	return nil
}

// PrintCheckpointList prints checkpoints in a table format.
func (t *TablePrinter) PrintCheckpointList(checkpoints []model.Checkpoint) error {
	if len(checkpoints) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	now := time.Now().UTC()
	fmt.Fprintln(tw, "ID\tUSER\tSTATUS\tSTEPS\tUPDATED\tDESCRIPTION")
	for _, c := range checkpoints {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			c.TaskID,
			c.UserID,
			c.Status,
			len(c.CompletedSteps),
			c.TotalSteps,
			Relative(c.UpdatedAt, now),
			truncate(c.Description),
		)
	}

	return nil
}

// PrintCheckpoint prints the detailed checkpoint.
func (t *TablePrinter) PrintCheckpoint(c model.Checkpoint) error {
	fmt.Fprintf(t.writer, "ID:          %s\n", c.TaskID)
	fmt.Fprintf(t.writer, "User:        %s\n", c.UserID)
	if c.Description != "" {
		fmt.Fprintf(t.writer, "Description: %s\n", c.Description)
	}
	fmt.Fprintf(t.writer, "Status:      %s\n", c.Status)
	fmt.Fprintf(t.writer, "Progress:    %d/%d (%.0f%%)\n", len(c.CompletedSteps), c.TotalSteps, c.Progress())
	fmt.Fprintf(t.writer, "Tokens:      %d\n", c.TotalTokens)
	fmt.Fprintf(t.writer, "Created:     %s\n", FormatTimestamp(c.CreatedAt))
	fmt.Fprintf(t.writer, "Updated:     %s\n", FormatTimestamp(c.UpdatedAt))
	if c.PausedAt != nil {
		fmt.Fprintf(t.writer, "Paused:      %s\n", FormatTimestamp(*c.PausedAt))
	}
	if c.ExpiresAt != nil {
		fmt.Fprintf(t.writer, "Expires:     %s\n", FormatTimestamp(*c.ExpiresAt))
	}
	if c.LastError != "" {
		fmt.Fprintf(t.writer, "Last error:  %s\n", c.LastError)
	}

	type row struct {
		index                    int
		name, capability, status string
		detail                   string
	}
	rows := make([]row, 0, len(c.CompletedSteps)+len(c.PendingSteps))
	for _, s := range c.CompletedSteps {
		rows = append(rows, row{index: s.Index, name: s.Name, capability: string(s.Capability), status: string(s.Status), detail: s.Output})
	}
	for _, s := range c.PendingSteps {
		rows = append(rows, row{index: s.Index, name: s.Name, capability: string(s.Capability), status: "pending"})
	}
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].index < rows[j].index })

	fmt.Fprintln(t.writer)
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "STEP\tNAME\tCAPABILITY\tSTATUS\tOUTPUT")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.index, r.name, r.capability, r.status, truncate(r.detail))
	}

	return nil
}

// PrintStatistics prints the checkpoint statistics.
func (t *TablePrinter) PrintStatistics(stats checkpoint.Statistics) error {
	fmt.Fprintf(t.writer, "Total:       %d\n", stats.Total)
	fmt.Fprintf(t.writer, "Resumable:   %d\n", stats.Resumable)
	fmt.Fprintf(t.writer, "Tokens:      %d\n", stats.TotalTokens)

	statuses := make([]string, 0, len(stats.ByStatus))
	for s := range stats.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(t.writer, "  %-10s %d\n", s+":", stats.ByStatus[model.CheckpointStatus(s)])
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func planTitle(name, id string) string {
	if name == "" || name == id {
		return id
	}
	return fmt.Sprintf("%s (%s)", name, id)
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxCellLen {
		return s
	}
	return s[:maxCellLen-3] + "..."
}
