package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/developingchet/logfallback/internal/config"
	"github.com/developingchet/logfallback/internal/logger"
	"github.com/developingchet/logfallback/internal/metrics"
	"github.com/developingchet/logfallback/internal/relay"
	"github.com/developingchet/logfallback/internal/router"
	"github.com/developingchet/logfallback/internal/sink"
	"github.com/developingchet/logfallback/internal/sink/console"
	"github.com/developingchet/logfallback/internal/sink/file"
	"github.com/developingchet/logfallback/internal/sink/httpsink"
	"github.com/developingchet/logfallback/internal/sink/socket"
	"github.com/developingchet/logfallback/internal/sink/spool"
	"github.com/developingchet/logfallback/internal/storage"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// runtimeRelay is the subset of *relay.Relay used by the commands.
type runtimeRelay interface {
	Run(ctx context.Context, in io.Reader) error
	Healthy(ctx context.Context) error
	Close()
}

// Seams replaced in tests.
var (
	loadConfig       = config.Load
	registerMetrics  = metrics.Register
	newSignalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	}
	newRuntime = func(cfg *config.Config, rt *router.Router, spoolStore storage.Store) (runtimeRelay, error) {
		r, err := relay.New(cfg, rt, spoolStore)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	input io.Reader = os.Stdin
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

// newRootCmd builds and returns the root cobra command. Extracted from main so
// that tests can invoke it directly without spawning a subprocess.
func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "logfallback",
		Short: "Route JSON log records to the first sink that accepts them",
		Long: `A log relay that reads JSON-lines records from stdin and delivers each one
to the first configured sink that accepts it, falling back down the list
when a sink fails.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				return os.Setenv("CONFIG_FILE", configFile)
			}
			return nil
		},
		RunE: runRelay,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (overrides CONFIG_FILE)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the relay on stdin (same as running without a subcommand)",
		RunE:  runRelay,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Build the configured sinks and check that each is reachable",
		RunE:  runCheck,
	})

	rootCmd.AddCommand(newSpoolCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "logfallback %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	return rootCmd
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger.Init(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	registerMetrics()

	rt, spoolStore, err := buildRouter(cfg)
	if err != nil {
		return fmt.Errorf("router init: %w", err)
	}
	defer closeRouter(rt)

	ctx, cancel := newSignalContext(context.Background())
	defer cancel()

	r, err := newRuntime(cfg, rt, spoolStore)
	if err != nil {
		return fmt.Errorf("relay init: %w", err)
	}
	defer r.Close()

	return r.Run(ctx, input)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger.Init(os.Stderr, "error", cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rt, _, err := buildRouter(cfg)
	if err != nil {
		return err
	}
	defer closeRouter(rt)

	var out io.Writer = os.Stdout
	if cmd != nil {
		out = cmd.OutOrStdout()
	}
	return checkSinks(ctx, out, rt.Sinks())
}

// checkSinks runs every sink that implements sink.Checker and prints one line
// per sink. Sinks without a check are reported as skipped.
func checkSinks(ctx context.Context, out io.Writer, sinks []sink.Sink) error {
	var errs []error
	for _, s := range sinks {
		c, ok := s.(sink.Checker)
		if !ok {
			fmt.Fprintf(out, "skip %s\n", s.Name())
			continue
		}
		if err := c.Healthy(ctx); err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", s.Name(), err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", s.Name())
	}
	return errors.Join(errs...)
}

// buildRouter creates the sinks, wires them into an activated router and
// returns the first spool store, if any, for the relay janitor.
func buildRouter(cfg *config.Config) (*router.Router, storage.Store, error) {
	mode, err := router.ParseMode(cfg.RouterMode)
	if err != nil {
		return nil, nil, err
	}

	sinks, err := buildSinks(cfg)
	if err != nil {
		return nil, nil, err
	}

	rt := router.New(cfg.RouterName, log.With().Str("component", "router").Logger(), nil)
	rt.SetMode(mode)
	rt.SetMinutesTimeout(cfg.RouterMinutesTimeout)
	rt.SetAppendCount(cfg.RouterAppendCount)

	var spoolStore storage.Store
	for _, s := range sinks {
		rt.AddSink(s)
		if sp, ok := s.(*spool.Sink); ok && spoolStore == nil {
			spoolStore = sp.Store()
		}
	}

	if err := rt.Activate(); err != nil {
		closeRouter(rt)
		return nil, nil, err
	}
	return rt, spoolStore, nil
}

// buildSinks creates the ordered list of sinks from configuration. On error
// every sink built so far is closed.
func buildSinks(cfg *config.Config) ([]sink.Sink, error) {
	sinks := make([]sink.Sink, 0, len(cfg.Sinks))
	for _, sc := range cfg.Sinks {
		s, err := newSink(sc)
		if err != nil {
			for _, built := range sinks {
				_ = built.Close()
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func newSink(sc config.SinkConfig) (sink.Sink, error) {
	switch sc.Kind {
	case "console":
		return console.New(console.Config{Name: sc.Name, Target: sc.Target})
	case "file":
		return file.New(file.Config{
			Name:       sc.Name,
			Path:       sc.Path,
			MaxSizeMB:  sc.MaxSizeMB,
			MaxBackups: sc.MaxBackups,
			MaxAgeDays: sc.MaxAgeDays,
			Compress:   sc.Compress,
		})
	case "http":
		return httpsink.New(httpsink.Config{
			Name:    sc.Name,
			URL:     sc.URL,
			Timeout: sc.Timeout,
			Headers: sc.Headers,
		})
	case "socket":
		return socket.New(socket.Config{
			Name:    sc.Name,
			Network: sc.Network,
			Address: sc.Address,
			Timeout: sc.Timeout,
		})
	case "spool":
		return spool.Open(sc.Name, sc.Path)
	default:
		return nil, fmt.Errorf("sink %q: %w: %q", sc.Name, sink.ErrUnsupportedKind, sc.Kind)
	}
}

func closeRouter(rt *router.Router) {
	if err := rt.Close(); err != nil {
		log.Warn().Err(err).Msg("sink close failed")
	}
}
