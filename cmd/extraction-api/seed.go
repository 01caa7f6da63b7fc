package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/extraction-api/internal/seed"
)

func newSeedCmd() *cobra.Command {
	var clearFirst bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the database with demo jobs and records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := seed.New(a.repo).Run(cmd.Context(), clearFirst)
			if err != nil {
				return err
			}
			for _, j := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", j.ID, j.Status, j.RecordCount)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearFirst, "clear", false, "delete existing jobs and records first")
	return cmd
}
