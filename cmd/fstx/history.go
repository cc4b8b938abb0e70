package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/fstx/pkg/fstx/history"
)

func newHistoryCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the persisted operation history",
		Long: `Inspect the operation history saved by runs with history.persist enabled.
Only descriptions are persisted; undo is available within the process that ran the commands.`,
	}
	cmd.PersistentFlags().StringVar(&file, "file", "", "history file (default: from config, then the XDG data directory)")

	resolve := func() (string, *history.History, error) {
		cfg, err := loadConfig()
		if err != nil {
			return "", nil, err
		}
		path := file
		if path == "" {
			if path, err = cfg.HistoryPath(); err != nil {
				return "", nil, err
			}
		}
		return path, history.New(cfg.History), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List recorded operations, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path, h, err := resolve()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(out, "No history at %s\n", path)
				return nil
			}
			if err := h.LoadFromFile(path); err != nil {
				return err
			}

			entries := h.Entries()
			fmt.Fprintf(out, "History %s: %d entries\n", path, len(entries))
			for i, e := range entries {
				fmt.Fprintf(out, "  %d. %s  %s (%d bytes)\n", i+1, e.Timestamp.Local().Format(time.DateTime), e.Description, e.SizeBytes)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every recorded operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, h, err := resolve()
			if err != nil {
				return err
			}
			if err := h.SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s History cleared\n", okMark)
			return nil
		},
	})

	return cmd
}
