package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hildvein/usagevault/internal/aggregate"
	"github.com/hildvein/usagevault/internal/cli"
	"github.com/hildvein/usagevault/internal/store"
)

var flagBefore string

var trimCmd = &cobra.Command{
	Use:   "trim",
	Short: "Delete snapshot rows older than a cutoff date",
	RunE:  runTrim,
}

func init() {
	trimCmd.Flags().StringVar(&flagBefore, "before", "", "Cutoff date (YYYY-MM-DD); rows strictly before it are removed")
	_ = trimCmd.MarkFlagRequired("before")
	rootCmd.AddCommand(trimCmd)
}

func runTrim(_ *cobra.Command, _ []string) error {
	if _, err := time.Parse(aggregate.DateFormat, flagBefore); err != nil {
		return fmt.Errorf("invalid --before date %q: want YYYY-MM-DD", flagBefore)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.General.StorePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	removed, err := st.TrimBefore(flagBefore)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %s rows before %s\n", cli.FormatNumber(removed), flagBefore)
	return nil
}
