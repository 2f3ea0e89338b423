package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/osyncq/internal/journal"
	"github.com/snehjoshi/osyncq/internal/types"
)

var (
	journalPath  string
	journalLimit int
	journalJSON  bool
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Print the newest entries of a frame journal",
	Long: `journal reads a journal file directly. The file is locked while a serve
process has it open; query that process with "status" instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := journalPath
		if path == "" {
			path = cfg.Journal.Path
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		j, err := journal.Open(path, journal.WithLogger(logger))
		if err != nil {
			return err
		}
		defer j.Close()

		entries, err := j.Recent(journalLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if journalJSON {
			enc := json.NewEncoder(out)
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tDIR\tCOMMAND\tID\tSIZE\tKIND\tQUEUE")
		for _, e := range entries {
			kind := ""
			if e.Kind != types.KindNone {
				kind = e.Kind.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				e.Time.Format(time.StampMilli), e.Direction, e.Command, e.ID, e.Size, kind, e.Queue)
		}
		return tw.Flush()
	},
}

func init() {
	journalCmd.Flags().StringVar(&journalPath, "path", "", "journal file (default journal.path)")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 50, "number of entries to show, newest first")
	journalCmd.Flags().BoolVar(&journalJSON, "json", false, "print one JSON object per line")
	rootCmd.AddCommand(journalCmd)
}
