package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <job-id>",
		Short: "Run one extraction job synchronously",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			j, err := a.svc.ProcessExtraction(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d", j.ID, j.Status, j.RecordCount)
			if j.ErrorMessage != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\t%s", j.ErrorMessage)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}
