package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/snehjoshi/osyncq/internal/broker"
	"github.com/snehjoshi/osyncq/internal/message"
	"github.com/snehjoshi/osyncq/internal/types"
)

var (
	pingCount          int
	pingTimeout        time.Duration
	pingConnectTimeout time.Duration
	pingRate           float64
	pingCommand        string
	pingPayload        string
)

var pingCmd = &cobra.Command{
	Use:   "ping <channel>",
	Short: "Send requests on a channel as the engine side and time the replies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		command, err := types.ParseCommand(pingCommand)
		if err != nil {
			return err
		}
		if command.IsReply() {
			return fmt.Errorf("--command %s is a reply, not a request", command)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b := newBroker()
		defer b.Close()

		c, err := b.OpenChannel(name, broker.SideEngine)
		if err != nil {
			return err
		}
		connectCtx, cancel := context.WithTimeout(ctx, pingConnectTimeout)
		err = c.Connect(connectCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("no plugin on %q: %w", name, err)
		}

		limit := rate.Inf
		if pingRate > 0 {
			limit = rate.Limit(pingRate)
		}
		limiter := rate.NewLimiter(limit, 1)

		out := cmd.OutOrStdout()
		var (
			ok, failed int
			total      time.Duration
		)
		for seq := 1; seq <= pingCount; seq++ {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
			req := message.New(command, 0)
			req.WriteLong(int64(seq))
			req.WriteStringValue(pingPayload)

			start := time.Now()
			reply, err := c.Request(ctx, req, pingTimeout)
			rtt := time.Since(start)
			req.Unref()
			if reply != nil {
				reply.Unref()
			}
			if err != nil {
				failed++
				fmt.Fprintf(out, "seq=%d %s error: %v\n", seq, command, err)
				if ctx.Err() != nil || types.KindOf(err) == types.KindIO {
					break
				}
				continue
			}
			ok++
			total += rtt
			fmt.Fprintf(out, "seq=%d %s time=%s\n", seq, command, rtt.Round(time.Microsecond))
		}

		fmt.Fprintf(out, "--- %s ping statistics ---\n", name)
		fmt.Fprintf(out, "%d sent, %d replied, %d failed", ok+failed, ok, failed)
		if ok > 0 {
			fmt.Fprintf(out, ", avg %s", (total / time.Duration(ok)).Round(time.Microsecond))
		}
		fmt.Fprintln(out)
		if failed > 0 {
			return fmt.Errorf("%d of %d requests failed", failed, ok+failed)
		}
		return nil
	},
}

func init() {
	f := pingCmd.Flags()
	f.IntVarP(&pingCount, "count", "n", 5, "number of requests to send")
	f.DurationVar(&pingTimeout, "timeout", time.Second, "reply timeout per request")
	f.DurationVar(&pingConnectTimeout, "connect-timeout", 10*time.Second, "how long to wait for the plugin to open the channel")
	f.Float64Var(&pingRate, "rate", 0, "requests per second (0 sends back to back)")
	f.StringVar(&pingCommand, "command", types.CmdCallPlugin.String(), "request command name")
	f.StringVar(&pingPayload, "payload", "ping", "string payload sent after the sequence number")
	rootCmd.AddCommand(pingCmd)
}
