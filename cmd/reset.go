package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hildvein/usagevault/internal/store"
)

var flagForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase all snapshot data and start over",
	Long: "Erase every snapshot, model row, fingerprint, and file contribution.\n" +
		"The machine identity is kept so sync peers keep recognizing this host.",
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&flagForce, "force", false, "Skip the confirmation requirement")
	rootCmd.AddCommand(resetCmd)
}

func runReset(_ *cobra.Command, _ []string) error {
	if !flagForce {
		return errors.New("reset deletes all aggregated data; re-run with --force to confirm")
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

	if err := st.TruncateAll(); err != nil {
		return err
	}
	fmt.Println("Store cleared. Run `usagevault scan` to rebuild from logs.")
	return nil
}
