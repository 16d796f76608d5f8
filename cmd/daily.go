package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hildvein/usagevault/internal/aggregate"
	"github.com/hildvein/usagevault/internal/cli"
	"github.com/hildvein/usagevault/internal/store"
)

var flagDays int

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Show per-day usage from the snapshot store",
	RunE:  runDaily,
}

func init() {
	dailyCmd.Flags().IntVarP(&flagDays, "days", "n", 0, "Limit to the most recent N days")
	rootCmd.AddCommand(dailyCmd)
}

func runDaily(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.General.StorePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	snaps, err := st.AllDailySnapshots()
	if err != nil {
		return err
	}
	if flagDays > 0 && len(snaps) > flagDays {
		snaps = snaps[len(snaps)-flagDays:]
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("DAILY USAGE"))
	fmt.Println()

	if len(snaps) == 0 {
		fmt.Println("  No data yet. Run `usagevault scan` first.")
		return nil
	}

	rows := make([][]string, 0, len(snaps))
	costs := make([]float64, 0, len(snaps))
	for _, s := range snaps {
		day := ""
		if d, err := time.Parse(aggregate.DateFormat, s.Date); err == nil {
			day = cli.FormatDayOfWeek(int(d.Weekday()))
		}
		rows = append(rows, []string{
			s.Date,
			day,
			cli.FormatCost(s.Cost),
			cli.FormatNumber(s.Messages),
			cli.FormatTokens(s.Tokens),
			cli.FormatNumber(s.Sessions),
		})
		costs = append(costs, s.Cost)
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Date", "Day", "Cost", "Messages", "Tokens", "Sessions"},
		Rows:    rows,
	}))
	fmt.Println()
	fmt.Println("  " + cli.RenderSparkline(costs))
	return nil
}
