package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/internal/core/store"
	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/internal/output"
)

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Inspect the persisted call log",
}

var callsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent orchestrated calls",
	Args:  cobra.NoArgs,
	RunE:  runCallsList,
}

var callsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete call log entries older than a cutoff",
	Args:  cobra.NoArgs,
	RunE:  runCallsPrune,
}

func init() {
	rootCmd.AddCommand(callsCmd)
	callsCmd.AddCommand(callsListCmd, callsPruneCmd)

	callsListCmd.Flags().String("service", "", "Only calls against this service")
	callsListCmd.Flags().Bool("failed", false, "Only calls that ended with an error")
	callsListCmd.Flags().Int("limit", 50, "Maximum records to list")
	addOutputFlags(callsListCmd)

	callsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete records started before now minus this duration")
}

// withStore opens and migrates the store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(db *store.Store) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}

func runCallsList(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	service, _ := cmd.Flags().GetString("service")
	failed, _ := cmd.Flags().GetBool("failed")
	limit, _ := cmd.Flags().GetInt("limit")

	return withStore(cmd, func(db *store.Store) error {
		records, err := db.ListCallRecords(cmd.Context(), store.CallLogFilter{
			Service:    service,
			FailedOnly: failed,
			Limit:      limit,
		})
		if err != nil {
			return err
		}
		rendered, err := output.Render(format, records, func() string { return output.CallsTable(records) })
		if err != nil {
			return err
		}
		return writeOutput(cmd, format, "calls", rendered)
	})
}

func runCallsPrune(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	return withStore(cmd, func(db *store.Store) error {
		started := time.Now()
		removed, err := db.PruneCallRecords(cmd.Context(), started.Add(-olderThan))
		recordOperation(metrics.OpCallsPrune, started, err)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d call record(s)\n", removed)
		return nil
	})
}
