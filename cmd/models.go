package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hildvein/usagevault/internal/cli"
	"github.com/hildvein/usagevault/internal/store"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show usage broken down by model",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.General.StorePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	usage, err := st.AllModelUsage()
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("MODEL USAGE"))
	fmt.Println()

	if len(usage) == 0 {
		fmt.Println("  No data yet. Run `usagevault scan` first.")
		return nil
	}

	// Collapse the per-day rows into lifetime per-model totals.
	byModel := map[string]*store.ModelUsage{}
	for _, u := range usage {
		agg, ok := byModel[u.Model]
		if !ok {
			agg = &store.ModelUsage{Model: u.Model}
			byModel[u.Model] = agg
		}
		agg.InputTokens += u.InputTokens
		agg.OutputTokens += u.OutputTokens
		agg.CacheReadTokens += u.CacheReadTokens
		agg.CacheWriteTokens += u.CacheWriteTokens
	}

	names := make([]string, 0, len(byModel))
	for name := range byModel {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		u := byModel[name]
		rows = append(rows, []string{
			name,
			cli.FormatTokens(u.InputTokens),
			cli.FormatTokens(u.OutputTokens),
			cli.FormatTokens(u.CacheReadTokens),
			cli.FormatTokens(u.CacheWriteTokens),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Model", "Input", "Output", "Cache Read", "Cache Write"},
		Rows:    rows,
	}))
	return nil
}
