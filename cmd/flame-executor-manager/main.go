package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/k82cn/flame/client"
	"github.com/k82cn/flame/config"
	"github.com/k82cn/flame/executor"
	"github.com/k82cn/flame/executor/shim"
)

func main() {
	var (
		confPath string
		endpoint string
		count    int
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "flame-executor-manager",
		Short: "Flame executor manager: hosts executors pulling tasks from the session manager",
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
			backendAddr := cfg.BackendEndpoint
			if endpoint != "" {
				backendAddr = endpoint
			}
			if backendAddr == "" {
				host, port, err := net.SplitHostPort(cfg.Endpoint)
				if err != nil {
					return err
				}
				p, err := strconv.Atoi(port)
				if err != nil {
					return err
				}
				backendAddr = net.JoinHostPort(host, strconv.Itoa(p+1))
			}
			if count <= 0 {
				count = cfg.Executors.MaxExecutors
			}

			backend, err := client.NewBackendClient(backendAddr)
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx, cancel := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			mgr := executor.NewManager(backend, count, cfg.Executors.Slots, shim.Config{
				WorkDir: cfg.Executors.WorkDir,
			})
			log.L().Info("executor manager starting",
				zap.String("backend", backendAddr),
				zap.Int("executors", count))
			return mgr.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&confPath, "config", "c", "", "path to flame-conf.toml")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "session manager backend address")
	cmd.Flags().IntVar(&count, "executors", 0, "number of executors to host")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
