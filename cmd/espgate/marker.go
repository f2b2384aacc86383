package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/espgate/internal/espsource"
	"github.com/breeze-rmm/espgate/internal/history"
	"github.com/breeze-rmm/espgate/internal/logging"
	"github.com/breeze-rmm/espgate/internal/privilege"
)

var markForce bool

var markStartCmd = &cobra.Command{
	Use:   "mark-start",
	Short: "Record the Autopilot start time the account setup grace period is measured from",
	Long: `mark-start writes the current time as a subkey of the configured
autopilot_start registry key. Run it once, early in provisioning (for example
from a device-context platform script). An existing marker is kept unless
--force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return markStart(time.Now())
	},
}

func init() {
	markStartCmd.Flags().BoolVar(&markForce, "force", false, "replace an existing marker")
	rootCmd.AddCommand(markStartCmd)
}

func markStart(now time.Time) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := privilege.Require("mark-start"); err != nil {
		return err
	}
	name, err := espsource.WriteStartMarker(cfg.Registry.AutopilotStart, now.UTC(), markForce)
	if errors.Is(err, espsource.ErrMarkerExists) {
		return fmt.Errorf("%w (use --force to replace it)", err)
	}
	if err != nil {
		return fmt.Errorf("write start marker: %w", err)
	}

	journal := openJournal(cfg)
	defer journal.Close()
	if err := journal.Append(history.Entry{
		Event:   history.EventMarkerWritten,
		Details: map[string]any{"key": cfg.Registry.AutopilotStart, "marker": name, "forced": markForce},
	}); err != nil {
		log.Warn("history append failed", logging.KeyError, err)
	}

	fmt.Printf("Autopilot start marker: %s\n", name)
	return nil
}
