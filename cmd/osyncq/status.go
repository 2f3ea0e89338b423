package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/osyncq/pkg/client"
)

var (
	statusAddr  string
	statusWatch bool
	statusQueue string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the channels of a running osyncq process",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := statusAddr
		if addr == "" {
			addr = fmt.Sprintf("http://%s:%d", cfg.Admin.Host, cfg.Admin.Port)
		}
		c := client.New(addr)
		out := cmd.OutOrStdout()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if statusWatch {
			err := c.Watch(ctx, statusQueue, func(e client.Event) error {
				line := fmt.Sprintf("%s %-8s %-14s id=%d", e.Time.Format(time.TimeOnly), e.Type, e.Command, e.ID)
				if e.Kind != "" && e.Kind != "none" {
					line += " kind=" + e.Kind
				}
				_, err := fmt.Fprintf(out, "%s %s\n", line, e.Queue)
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		h, err := c.Health(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "osyncq %s up %s, %d channel(s) in %s\n\n",
			h.Version, h.Uptime.Round(time.Second), h.Channels, h.FIFODir)

		chans, err := c.Channels(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHANNEL\tSIDE\tQUEUE\tSTATE\tCONNECTED\tPENDING\tIN\tOUT")
		for _, ch := range chans {
			for _, q := range []struct {
				label string
				info  client.QueueInfo
			}{{"req", ch.Request}, {"rep", ch.Reply}} {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%d\t%d\n",
					ch.Name, ch.Side, q.label, q.info.State, q.info.Connected,
					q.info.Pending, q.info.Incoming, q.info.Outgoing)
			}
		}
		return tw.Flush()
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "admin server URL (default from admin.host/admin.port)")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "stream live frames instead of printing a snapshot")
	statusCmd.Flags().StringVar(&statusQueue, "queue", "", "with --watch, only show one queue path or id")
	rootCmd.AddCommand(statusCmd)
}
