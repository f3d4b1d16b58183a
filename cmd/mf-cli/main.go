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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"mindfry/client"
	"mindfry/config"
	"mindfry/logging"
	"mindfry/transport"
)

type globalFlags struct {
	ConfigPath  string
	Addr        string
	Timeout     time.Duration
	MetricsAddr string
	LogLevel    string
}

var (
	flags  globalFlags
	cfg    config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "mf-cli",
	Short:         "Command-line client for a MindFry server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if flags.ConfigPath != "" {
			cfg, err = config.Load(flags.ConfigPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}
		if flags.Addr != "" {
			cfg.Addr = flags.Addr
		}
		if flags.Timeout > 0 {
			cfg.Pipeline.TimeoutMs = flags.Timeout.Milliseconds()
		}
		if flags.LogLevel != "" {
			cfg.Log.Level = flags.LogLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger = logging.Configure(logging.ProfileRuntime, cfg.LogOptions())
		if flags.MetricsAddr != "" {
			serveMetrics(flags.MetricsAddr)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigPath, "config", "c", "", "path to a TOML config file")
	pf.StringVarP(&flags.Addr, "addr", "a", "", "server address (overrides config)")
	pf.DurationVar(&flags.Timeout, "timeout", 0, "per-request timeout (overrides config)")
	pf.StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(pingCmd, statsCmd, lineageCmd, bondCmd, benchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dial connects using the resolved configuration.
func dial(ctx context.Context) (*client.Client, error) {
	c, err := client.Dial(ctx, cfg, transport.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Addr, err)
	}
	return c, nil
}

// withClient runs fn against a fresh connection and closes it afterwards.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx := cmd.Context()
	c, err := dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Debug().Err(err).Msg("close client")
		}
	}()
	return fn(ctx, c)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
}
