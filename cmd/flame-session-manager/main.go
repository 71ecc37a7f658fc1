package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/k82cn/flame/config"
	"github.com/k82cn/flame/sessionmanager"
)

func main() {
	var (
		confPath string
		endpoint string
		storage  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "flame-session-manager",
		Short: "Flame session manager: frontend/backend API, scheduler and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, props, err := log.InitLogger(&log.Config{Level: logLevel})
			if err != nil {
				return err
			}
			log.ReplaceGlobals(logger, props)

			cfg, err := config.Load(confPath)
			if err != nil {
				return err
			}
			if endpoint != "" {
				cfg.Endpoint = endpoint
			}
			if storage != "" {
				cfg.Storage = storage
			}

			ctx, cancel := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			srv, err := sessionmanager.NewServer(ctx, cfg)
			if err != nil {
				return err
			}

			log.L().Info("session manager starting",
				zap.String("endpoint", cfg.Endpoint),
				zap.String("storage", cfg.Storage),
				zap.String("policy", cfg.Policy))
			return srv.Run(ctx)
		},
	}

	fs := pflag.NewFlagSet("flame-session-manager", pflag.ContinueOnError)
	fs.StringVarP(&confPath, "config", "c", "", "path to flame-conf.toml")
	fs.StringVar(&endpoint, "endpoint", "", "frontend listen address")
	fs.StringVar(&storage, "storage", "", "storage dsn, e.g. sqlite://flame.db")
	fs.StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().AddFlagSet(fs)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
