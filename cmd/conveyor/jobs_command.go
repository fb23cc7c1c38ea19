package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var stateFilter string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				var states []jobs.State
				if stateFilter != "" {
					state, ok := jobs.ParseState(stateFilter)
					if !ok {
						return fmt.Errorf("unknown state %q", stateFilter)
					}
					states = append(states, state)
				}

				list, err := store.List(cmd.Context(), states...)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}

				rows := make([][]string, 0, len(list))
				for _, job := range list {
					rows = append(rows, []string{
						job.ID,
						string(job.State),
						fmt.Sprintf("%d%%", job.Progress),
						job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
						job.ErrorMessage,
					})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"ID", "STATE", "PROGRESS", "CREATED", "ERROR"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&stateFilter, "state", "", "Filter by job state")
	return cmd
}
