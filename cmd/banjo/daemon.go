package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banjo-dev/banjo/internal/daemon"
	"github.com/banjo-dev/banjo/internal/logger"
)

func daemonCmd() *cobra.Command {
	var (
		port     int
		logFile  string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the ACP daemon in the foreground",
		Long: `Run the daemon for the project directory. It listens on
ws://127.0.0.1:<port>/acp, writes .banjo.lock and prints "ready:<port>"
once it accepts connections.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Daemon.Port = port
			}
			if logFile != "" {
				cfg.Daemon.LogFile = logFile
			}
			if logLevel != "" {
				cfg.Daemon.LogLevel = logLevel
			}
			if flagVerbose {
				cfg.Daemon.LogLevel = "debug"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := logger.Init(logger.Options{
				Path:  cfg.Daemon.LogFile,
				Level: cfg.Daemon.LogLevel,
				JSON:  cfg.Daemon.LogJSON,
			}); err != nil {
				return err
			}
			defer logger.Close()

			srv := daemon.New(daemon.Options{
				Config:  cfg,
				Dir:     dir,
				Stdout:  os.Stdout,
				Version: Version,
			})
			if err := srv.Listen(); err != nil {
				return fmt.Errorf("listen: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (0 picks a free port)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Log to this file instead of stderr")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	return cmd
}
