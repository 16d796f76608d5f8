// Package cmd wires the usagevault command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hildvein/usagevault/internal/cli"
	"github.com/hildvein/usagevault/internal/config"
	"github.com/hildvein/usagevault/internal/store"
)

var (
	flagLogRoot string
	flagStore   string
	flagQuiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "usagevault",
	Short: "Durable usage and cost analytics for session logs",
	Long: "Aggregate per-session activity logs into daily usage and cost statistics\n" +
		"that survive log rotation, and reconcile them across machines.",
	RunE: runTotals,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagLogRoot, "log-root", "r", "", "Session log root directory")
	rootCmd.PersistentFlags().StringVarP(&flagStore, "store", "s", "", "Snapshot store path")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
}

// loadConfig merges the config file with command-line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if flagLogRoot != "" {
		cfg.General.LogRoot = flagLogRoot
	}
	if flagStore != "" {
		cfg.General.StorePath = flagStore
	}
	return cfg, nil
}

// openStore opens the snapshot store. A nil store with a nil error means
// degraded mode: the store could not be opened and the caller should keep
// working with in-memory results only.
func openStore(cfg config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.General.StorePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.RenderError(fmt.Sprintf("store unavailable (%v), results will not be persisted", err)))
		return nil, nil
	}
	return st, nil
}

func runTotals(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.General.StorePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	totals, err := st.TotalsAll()
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("USAGE TOTALS"))
	fmt.Println()

	if totals.Days == 0 {
		fmt.Println("  No data yet. Run `usagevault scan` first.")
		return nil
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Days tracked", cli.FormatNumber(totals.Days)},
			{"Estimated cost", cli.FormatCost(totals.Cost)},
			{"Messages", cli.FormatNumber(totals.Messages)},
			{"Tokens", cli.FormatTokens(totals.Tokens)},
			{"Sessions", cli.FormatNumber(totals.Sessions)},
		},
	}))
	return nil
}
