package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/snehjoshi/osyncq/internal/broker"
	"github.com/snehjoshi/osyncq/internal/journal"
	"github.com/snehjoshi/osyncq/internal/message"
	"github.com/snehjoshi/osyncq/internal/metrics"
	"github.com/snehjoshi/osyncq/internal/queue"
	transphttp "github.com/snehjoshi/osyncq/internal/transport/http"
	transportws "github.com/snehjoshi/osyncq/internal/transport/websocket"
	"github.com/snehjoshi/osyncq/internal/types"
)

var serveOnce bool

var serveCmd = &cobra.Command{
	Use:   "serve <channel>",
	Short: "Answer requests on a channel as the plugin side",
	Long: `serve opens <channel> as the plugin side and echoes every request's payload
back in a REPLY. When the engine hangs up it waits for the next one, unless
--once is set. The admin server and the journal run alongside when enabled
in the config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !broker.ValidateName(name) {
			return fmt.Errorf("%w: %q", broker.ErrInvalidName, name)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// ── Observers ────────────────────────────────────────────────────────
		var (
			observers []queue.Observer
			reg       *metrics.Registry
			j         *journal.Journal
			hub       *transportws.Hub
		)
		if cfg.Metrics.Enabled {
			reg = &metrics.Registry{}
			observers = append(observers, reg)
		}
		if cfg.Journal.Enabled {
			var err error
			j, err = journal.Open(cfg.Journal.Path, journal.WithLogger(logger))
			if err != nil {
				return err
			}
			defer j.Close()
			observers = append(observers, j)
		}
		if cfg.Admin.Enabled {
			hub = transportws.NewHub(transportws.WithLogger(logger))
			defer hub.Close()
			observers = append(observers, hub)
		}

		b := newBroker(observers...)
		defer b.Close()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)

		// The channel loop ending (--once) stops everything else.
		g.Go(func() error {
			defer cancel()
			return serveChannel(gctx, b, name)
		})

		if cfg.Admin.Enabled {
			srv := transphttp.New(b, j, hub, reg, cfg.Admin, logger)
			g.Go(func() error {
				logger.Info("admin server listening", "addr", srv.Addr())
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("admin server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				hub.Close()
				return srv.Shutdown(shutCtx)
			})
		}

		if j != nil {
			g.Go(func() error {
				return j.RunPruner(gctx, cfg.Journal.RetentionPeriod(), 0)
			})
		}

		err := g.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		logger.Info("osyncq stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveOnce, "once", false, "exit after the first engine hangs up")
	rootCmd.AddCommand(serveCmd)
}

// serveChannel answers one engine after another until ctx is done. With
// --once it returns nil after the first engine leaves.
func serveChannel(ctx context.Context, b *broker.Broker, name string) error {
	for {
		c, err := b.OpenChannel(name, broker.SidePlugin)
		if err != nil {
			return err
		}
		c.Handle(echo)

		logger.Info("waiting for engine", "channel", name, "dir", b.Dir())
		if err := c.Connect(ctx); err != nil {
			_ = b.CloseChannel(name)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		select {
		case <-c.Done():
			logger.Info("engine hung up", "channel", name)
		case <-ctx.Done():
		}
		if err := b.CloseChannel(name); err != nil {
			logger.Warn("close channel", "channel", name, "err", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if serveOnce {
			return nil
		}
	}
}

// echo replies to every request with its own payload. NOOP liveness probes
// carry no handler and get no reply.
func echo(req *message.Message) *message.Message {
	if req.Command() == types.CmdNoop {
		return nil
	}
	logger.Debug("request", "cmd", req.Command(), "id", req.ID(), "size", req.Size())
	reply := message.NewReply(req)
	reply.WriteData(req.Payload())
	return reply
}
