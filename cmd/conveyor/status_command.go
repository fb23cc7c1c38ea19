package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/jobs"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var showLog bool
	var tail int

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state, progress, and failures of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				status, err := store.GetStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job:      %s\n", status.ID)
				fmt.Fprintf(out, "State:    %s\n", status.State)
				fmt.Fprintf(out, "Progress: %d%%\n", status.Progress)
				if status.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:    %s\n", status.ErrorMessage)
				}
				if len(status.HardFailures) > 0 {
					fmt.Fprintf(out, "Failed:   %s\n", strings.Join(status.HardFailures, ", "))
				}

				items, err := store.Items(cmd.Context(), status.ID)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						item.Code,
						item.Platform,
						string(item.State),
						fmt.Sprintf("%d", item.Attempts),
					})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"CODE", "PLATFORM", "STATE", "ATTEMPTS"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))

				if showLog {
					entries := status.Log
					if tail > 0 && len(entries) > tail {
						entries = entries[len(entries)-tail:]
					}
					for _, entry := range entries {
						fmt.Fprintf(out, "%s %-5s %s\n",
							entry.CreatedAt.Local().Format("15:04:05"), entry.Level, entry.Message)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showLog, "log", false, "Print the job log")
	cmd.Flags().IntVar(&tail, "tail", 0, "Limit the log to the last N lines")
	return cmd
}
