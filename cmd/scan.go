package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hildvein/usagevault/internal/cli"
	"github.com/hildvein/usagevault/internal/pipeline"
)

var flagFull bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan session logs and fold them into the snapshot store",
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&flagFull, "full", false, "Re-parse every file instead of only changed ones")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() { _ = st.Close() }()
	}

	var progress pipeline.ProgressFunc
	if !flagQuiet {
		progress = func(done, total int) {
			fmt.Printf("\r  parsing %d/%d files", done, total)
		}
	}

	runner := pipeline.NewRunner()
	res, err := runner.Run(cmd.Context(), pipeline.Options{
		Root:        cfg.General.LogRoot,
		Incremental: !flagFull,
	}, st, cfg.PricingTable(), progress)
	if err != nil {
		return err
	}
	if !flagQuiet && progress != nil {
		fmt.Println()
	}

	printScanResult(res)
	return nil
}

func printScanResult(res *pipeline.Result) {
	var cost float64
	var messages, tokens int64
	for _, s := range res.Snapshots {
		cost += s.Cost
		messages += s.Messages
		tokens += s.Tokens
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("SCAN COMPLETE"))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Files found", cli.FormatNumber(int64(res.TotalFiles))},
			{"Files parsed", cli.FormatNumber(int64(res.ParsedFiles))},
			{"Cache hits", cli.FormatNumber(int64(res.CacheHits))},
			{"File errors", cli.FormatNumber(int64(res.FileErrors))},
			{"Skipped lines", cli.FormatNumber(int64(res.SkippedLines))},
			{"Days", cli.FormatNumber(int64(len(res.Snapshots)))},
			{"Estimated cost", cli.FormatCost(cost)},
			{"Messages", cli.FormatNumber(messages)},
			{"Tokens", cli.FormatTokens(tokens)},
		},
	}))
}
