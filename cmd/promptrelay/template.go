package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/richinsley/promptrelay/graphapi"
)

func newTemplateCmd(a *app) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Print the workflow template after validating it",
		Long: `Loads the configured workflow template (or the built-in one), validates the
graph and the prompt targets, and prints it as API-format JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.loadTemplate()
			if err != nil {
				return err
			}
			if err := w.Validate(); err != nil {
				return err
			}

			targets := a.cfg.Targets()
			if err := graphapi.CheckTargets(w, targets); err != nil {
				if a.cfg.IntegrityMode() == graphapi.IntegrityStrict {
					return err
				}
				a.logger.Warn("template does not accept every target", "error", err)
			}

			if check {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "template ok: %d nodes, positive %s, negative %s, seed %s\n",
					len(w), targets.Positive, targets.Negative, targets.Seed)
				return err
			}

			out, err := w.WorkflowToJSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "only validate, print a summary instead of the graph")
	return cmd
}
