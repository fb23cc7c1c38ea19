package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/jobs"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var itemsFile string

	cmd := &cobra.Command{
		Use:   "submit [platform:code ...]",
		Short: "Queue a new extraction job",
		Long: `Queue a new extraction job for the daemon to pick up.

Items are given either as platform:code arguments or as a JSON file
containing [{"platform": "...", "code": "..."}, ...] via --items.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := collectItems(args, itemsFile)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *jobs.Store) error {
				job, err := store.CreateJob(cmd.Context(), items)
				if err != nil {
					return fmt.Errorf("create job: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&itemsFile, "items", "", "JSON file with work items")
	return cmd
}

func collectItems(args []string, itemsFile string) ([]jobs.ItemSpec, error) {
	var items []jobs.ItemSpec

	if itemsFile != "" {
		data, err := os.ReadFile(itemsFile)
		if err != nil {
			return nil, fmt.Errorf("read items file: %w", err)
		}
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("parse items file: %w", err)
		}
	}

	for _, arg := range args {
		platform, code, ok := strings.Cut(arg, ":")
		if !ok || platform == "" || code == "" {
			return nil, fmt.Errorf("invalid item %q, expected platform:code", arg)
		}
		items = append(items, jobs.ItemSpec{Platform: platform, Code: code})
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no work items given")
	}
	return items, nil
}
