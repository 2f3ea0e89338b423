package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/osyncq/internal/broker"
	"github.com/snehjoshi/osyncq/internal/config"
	"github.com/snehjoshi/osyncq/internal/queue"
)

var (
	// Global flags
	cfgFile  string
	logLevel string
	fifoDir  string

	// Shared state set during PersistentPreRun
	cfg    *config.Config
	logger = slog.Default()
)

// rootCmd is the base command for osyncq.
var rootCmd = &cobra.Command{
	Use:   "osyncq",
	Short: "Request/reply messaging over named pipes",
	Long: `osyncq moves framed requests and replies between a sync engine and its
plugins over a pair of named pipes per channel. The subcommands open channels
from the shell for testing peers and inspect a running process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if fifoDir != "" {
			cfg.Transport.FIFODir = fifoDir
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logger, err = newLogger(cfg.Log, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&fifoDir, "fifo-dir", "", "directory holding channel FIFOs")
}

// newLogger builds the process logger from the log section.
func newLogger(lc config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", lc.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch config.LogFormat(strings.ToLower(string(lc.Format))) {
	case config.LogText:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
}

// newBroker builds a broker from the transport section.
func newBroker(observers ...queue.Observer) *broker.Broker {
	t := cfg.Transport
	return broker.New(t.FIFODir,
		broker.WithLogger(logger),
		broker.WithObservers(observers...),
		broker.WithPollIntervals(t.SenderPoll(), t.ReceiverPoll()),
		broker.WithDefaultTimeout(t.ReplyTimeout()),
		broker.WithMaxPayload(t.MaxPayload()),
	)
}
