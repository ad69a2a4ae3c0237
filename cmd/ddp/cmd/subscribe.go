package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/ddp/pkg/ddp"
	"github.com/tsarna/ddp/pkg/ddp/client"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <websocket-url> <publication> [params...]",
	Short: "Subscribe to a publication on a DDP server",
	Long: `Subscribe to a publication on a DDP server and print every collection
update to stdout, one JSON object per line, until interrupted.

Params are parsed the same way as for the call command.

Examples:
  ddp subscribe ws://localhost:3000/websocket time
  ddp subscribe ws://localhost:3000/websocket rooms/lobby/messages '{"limit":10}'`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSubscribe,
}

var (
	subscribeDialTimeout time.Duration
	subscribeAuth        string
)

func init() {
	rootCmd.AddCommand(subscribeCmd)

	subscribeCmd.Flags().DurationVar(&subscribeDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	subscribeCmd.Flags().StringVar(&subscribeAuth, "authorization", "", "Authorization header sent when connecting")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsURL, name := args[0], args[1]
	params := parseParams(args[2:])

	printer := &updatePrinter{w: cmd.OutOrStdout(), logger: logger}

	c, err := client.NewClient().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(subscribeDialTimeout).
		WithAuthorization(subscribeAuth).
		WithDataHandler(printer.print).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create DDP client: %w", err)
	}

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to DDP server: %w", err)
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			logger.Warn("Error during client close", zap.Error(closeErr))
		}
	}()

	id, err := c.Subscribe(ctx, name, params)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", name, err)
	}
	logger.Info("Subscribed", zap.String("publication", name), zap.String("id", id))

	select {
	case <-ctx.Done():
		logger.Debug("Signal received, unsubscribing")
		unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Unsubscribe(unsubCtx, id); err != nil {
			logger.Warn("Error during unsubscribe", zap.Error(err))
		}
		return nil
	case <-c.Done():
		return client.ErrConnectionLost
	}
}

// updatePrinter writes collection updates as JSON lines.
type updatePrinter struct {
	mu     sync.Mutex
	w      io.Writer
	logger *zap.Logger
}

func (p *updatePrinter) print(msg *ddp.Message) {
	update := map[string]any{
		"msg":        msg.Msg,
		"collection": msg.Collection,
		"id":         msg.ID,
	}
	if len(msg.Fields) > 0 {
		update["fields"] = msg.Fields
	}
	if len(msg.Cleared) > 0 {
		update["cleared"] = msg.Cleared
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := printJSON(p.w, update); err != nil {
		p.logger.Warn("Failed to print update", zap.Error(err))
	}
}
