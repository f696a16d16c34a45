package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCodebasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codebases",
		Short: "Manage indexed codebases",
	}
	cmd.AddCommand(newCodebasesListCmd())
	cmd.AddCommand(newCodebasesDeleteCmd())
	cmd.AddCommand(newCodebasesHistoryCmd())
	return cmd
}

func newCodebasesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List indexed codebases",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			codebases, counts, err := app.store.ListCodebases(cmd.Context())
			if err != nil {
				return err
			}
			if len(codebases) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No codebases indexed.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCHUNKS\tDIMENSIONS\tCREATED")
			for _, cb := range codebases {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
					cb.Name, counts[cb.Name], cb.Dimensions, cb.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}

func newCodebasesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a codebase and all its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			name := args[0]
			if err := app.store.DeleteCodebase(cmd.Context(), name); err != nil {
				return err
			}
			if err := app.keyword.DeleteCodebase(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted codebase %q.\n", name)
			return nil
		},
	}
}

func newCodebasesHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "Show recent indexing runs for a codebase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			runs, err := app.store.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No indexing history.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tOUTCOME\tADDED\tFAILED\tDURATION")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					run.StartedAt.Format("2006-01-02 15:04:05"), run.Outcome,
					run.ChunksAdded, run.ChunksFailed,
					run.FinishedAt.Sub(run.StartedAt).Round(1e7))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")
	return cmd
}
