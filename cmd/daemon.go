package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hildvein/usagevault/internal/daemon"
	"github.com/hildvein/usagevault/internal/store"
)

var (
	flagAddr     string
	flagInterval int
	flagWatch    bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background scanner and local status API",
	Long: "Periodically fold session logs into the snapshot store and serve\n" +
		"read-only JSON endpoints (/healthz, /v1/status, /v1/totals, /v1/daily,\n" +
		"/v1/models) on a local address.",
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address for the status API")
	daemonCmd.Flags().IntVar(&flagInterval, "interval", 0, "Seconds between scans")
	daemonCmd.Flags().BoolVar(&flagWatch, "watch", false, "Also trigger scans on filesystem changes")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.General.StorePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	dcfg := daemon.Config{
		LogRoot:     cfg.General.LogRoot,
		Addr:        cfg.Daemon.Addr,
		Interval:    time.Duration(cfg.Daemon.IntervalSec) * time.Second,
		ScanTimeout: time.Duration(cfg.Daemon.ScanTimeoutSec) * time.Second,
		Watch:       cfg.Daemon.WatchFilesystem,
	}
	if flagAddr != "" {
		dcfg.Addr = flagAddr
	}
	if flagInterval > 0 {
		dcfg.Interval = time.Duration(flagInterval) * time.Second
	}
	if flagWatch {
		dcfg.Watch = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := daemon.New(dcfg, st, cfg.PricingTable())
	return svc.Run(ctx)
}
