package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/jobs"
	"conveyor/internal/orchestrator"
	"conveyor/internal/worker"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var itemsFile string

	cmd := &cobra.Command{
		Use:   "run <job-id | platform:code ...>",
		Short: "Execute a job in-process",
		Long: `Execute a job in the foreground, without the daemon.

Given an existing job id, the pending job is executed. Given
platform:code arguments or --items, a new job is created first and then
executed. Worker output is mirrored into the job log; the command exits
non-zero when the job finishes in the failed state.`,
		Args: cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.cliLogger()
			if err != nil {
				return err
			}
			store, err := ctx.openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			jobID, err := resolveRunTarget(cmd, store, args, itemsFile)
			if err != nil {
				return err
			}

			runner, err := worker.NewRunner(cfg, logger)
			if err != nil {
				return err
			}

			orch := orchestrator.New(cfg, store, runner, logger)
			if err := orch.Execute(cmd.Context(), jobID); err != nil {
				return fmt.Errorf("execute job: %w", err)
			}

			job, err := store.GetByID(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s finished: %s (progress %d%%)\n", job.ID, job.State, job.Progress)
			if job.State == jobs.StateFailed {
				return fmt.Errorf("job failed: %s", job.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&itemsFile, "items", "", "JSON file with work items")
	return cmd
}

// resolveRunTarget either resolves an existing job id or creates a fresh job
// from item arguments.
func resolveRunTarget(cmd *cobra.Command, store *jobs.Store, args []string, itemsFile string) (string, error) {
	if itemsFile == "" && len(args) == 1 && !strings.Contains(args[0], ":") {
		return args[0], nil
	}

	items, err := collectItems(args, itemsFile)
	if err != nil {
		return "", err
	}
	job, err := store.CreateJob(cmd.Context(), items)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created job %s (%d items)\n", job.ID, len(items))
	return job.ID, nil
}
