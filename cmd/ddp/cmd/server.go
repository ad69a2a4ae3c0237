package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/ddp/pkg/ddp/config"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server [config-file]",
	Short: "Start the DDP server",
	Long: `Start the DDP server, configured from an HCL file.

Without a configuration file the server listens on :3000 at /websocket and
serves only the built-in methods (echo, sum and sessions).

Examples:
  ddp server
  ddp server ddp.hcl
  ddp server --listen 127.0.0.1:8080 ddp.hcl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServer,
}

var (
	listenAddress   string
	shutdownTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&listenAddress, "listen", "", "listen address, overriding the configuration")
	serverCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for sessions to close on shutdown")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if len(args) == 1 {
		loaded, diags := config.LoadFile(args[0])
		if diags.HasErrors() {
			return diags
		}
		cfg = loaded
	}
	if listenAddress != "" {
		cfg.Listen = listenAddress
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}

	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting DDP server",
		zap.Strings("config-paths", args),
		zap.String("listen", cfg.Listen),
		zap.Int("clocks", len(cfg.Clocks)),
		zap.Int("publications", len(cfg.Publications)),
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.Stop(shutdownCtx); err != nil {
		logger.Warn("Error during shutdown", zap.Error(err))
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
