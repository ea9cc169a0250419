package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		database, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		applied, err := database.Migrate(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(applied) == 0 {
			_, _ = fmt.Fprintln(out, "Schema is up to date")
			return nil
		}
		_, _ = fmt.Fprintf(out, "Applied %d migration(s): %s\n", len(applied), strings.Join(applied, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
