package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/espgate/internal/history"
)

var (
	historyTail int
	historyJSON bool
	historyFile string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent verdicts and verify the history chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := historyFile
		if path == "" {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()
			path = cfg.HistoryFile
		}
		return showHistory(os.Stdout, path)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyTail, "tail", "n", 20, "number of entries to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print raw JSON lines")
	historyCmd.Flags().StringVar(&historyFile, "file", "", "history file (default history_file from the config)")
	rootCmd.AddCommand(historyCmd)
}

func showHistory(w io.Writer, path string) error {
	entries, err := history.ReadAll(path)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	verifyErr := history.Verify(entries)

	shown := entries
	if historyTail > 0 && len(shown) > historyTail {
		shown = shown[len(shown)-historyTail:]
	}

	if historyJSON {
		enc := json.NewEncoder(w)
		for _, e := range shown {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tEVENT\tPROFILE\tVERDICT\tREASON")
		for _, e := range shown {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp, e.Event, e.Profile, e.Verdict, e.Reason)
		}
		tw.Flush()
	}

	if verifyErr != nil {
		return verifyErr
	}
	fmt.Fprintf(os.Stderr, "%d entries, chain intact\n", len(entries))
	return nil
}
