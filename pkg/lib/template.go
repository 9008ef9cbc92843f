package lib

import (
	"context"
)

// Template is a plan template of the plans directory.
type Template struct {
	Name        string
	Description string
	Keywords    []string
	Strategy    Strategy
	// Tasks is the number of tasks of the template.
	Tasks int
}

// ListTemplates lists the plan templates sorted by name.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	tpls, err := c.templates.ListPlanTemplates(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	res := make([]Template, 0, len(tpls))
	for _, t := range tpls {
		res = append(res, Template{
			Name:        t.Name,
			Description: t.Description,
			Keywords:    t.Keywords,
			Strategy:    Strategy(t.Strategy),
			Tasks:       len(t.Tasks),
		})
	}
	return res, nil
}
