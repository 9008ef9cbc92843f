package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

// TemplateListCommand lists the plan templates.
type TemplateListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewTemplateListCommand returns the template list command.
func NewTemplateListCommand(rootCmd *RootCommand, templateCmd *kingpin.CmdClause) *TemplateListCommand {
	c := &TemplateListCommand{rootCmd: rootCmd}

	c.Cmd = templateCmd.Command("list", "List the plan templates of the plans directory.")
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c TemplateListCommand) Name() string { return c.Cmd.FullCommand() }

func (c TemplateListCommand) Run(ctx context.Context) error {
	tpls, err := c.rootCmd.newTemplateRepository().ListPlanTemplates(ctx)
	if err != nil {
		return fmt.Errorf("could not list templates: %w", err)
	}

	return c.rootCmd.newPrinter(c.format).PrintTemplateList(tpls)
}
