// cmd/trade-buckets/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/app"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/config"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trade-buckets",
		Short:         "Aggregates Binance trades per second and serves large ones",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return run(cfg)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (yaml)")
	f := root.Flags()
	f.StringSlice("symbols", nil, "instruments to follow, e.g. trxusdt,aevousdt")
	f.Int("port", 0, "HTTP port")
	f.String("log-level", "", "log level: debug, info, warn, error")
	f.Bool("dev", false, "development logging")
	f.Float64("threshold", 0, "minimum bucket notional in USD")
	f.String("timezone", "", "IANA zone used for bucket labels")

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, nil)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			cfg.Print()
			return nil
		},
	})
	return root
}

func run(cfg *config.Config) error {
	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, DevMode: cfg.Logging.DevMode})
	if err != nil {
		return fmt.Errorf("logger init error: %w", err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting service",
		zap.String("service.name", cfg.ServiceName),
		zap.String("service.version", cfg.ServiceVersion),
	)

	if err := app.Run(ctx, cfg, log); err != nil {
		log.Error("application exited with error", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
