package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/ddp/pkg/ddp/client"
)

// callCmd represents the call command
var callCmd = &cobra.Command{
	Use:   "call <websocket-url> <method> [params...]",
	Short: "Call a method on a DDP server",
	Long: `Call a method on a DDP server and print the result as JSON.

Each param is parsed as JSON; anything that is not valid JSON is sent as a
string. The result can be filtered with a jq expression, in which $method is
bound to the method name.

Examples:
  ddp call ws://localhost:3000/websocket sum 1 2
  ddp call ws://localhost:3000/websocket echo '{"user":"alice"}' --jq .user
  ddp call ws://localhost:3000/websocket sessions`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCall,
}

var (
	callDialTimeout time.Duration
	callTimeout     time.Duration
	callJQ          string
	callAuth        string
)

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().DurationVar(&callDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Total operation timeout")
	callCmd.Flags().StringVar(&callJQ, "jq", "", "jq expression applied to the result")
	callCmd.Flags().StringVar(&callAuth, "authorization", "", "Authorization header sent when connecting")
}

func runCall(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	wsURL, method := args[0], args[1]
	params := parseParams(args[2:])

	var filter *gojq.Code
	if callJQ != "" {
		filter, err = compileFilter(callJQ)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	c, err := client.NewClient().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(callDialTimeout).
		WithAuthorization(callAuth).
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

	logger.Debug("Calling method",
		zap.String("url", wsURL),
		zap.String("method", method),
		zap.Any("params", params),
	)

	result, err := c.Call(ctx, method, params)
	if err != nil {
		return fmt.Errorf("method %s failed: %w", method, err)
	}

	if filter == nil {
		return printJSON(cmd.OutOrStdout(), result)
	}

	outputs, err := runFilter(ctx, filter, result, method)
	if err != nil {
		return err
	}
	for _, out := range outputs {
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	}
	return nil
}

// parseParams decodes each argument as JSON, keeping it as a string when it
// is not valid JSON.
func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, arg := range args {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			v = arg
		}
		params = append(params, v)
	}
	return params
}

func compileFilter(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq expression '%s': %w", expr, err)
	}
	code, err := gojq.Compile(query, gojq.WithVariables([]string{"$method"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq expression '%s': %w", expr, err)
	}
	return code, nil
}

// runFilter applies code to value and collects every output. The value is
// first reduced to plain JSON types, which is all gojq accepts.
func runFilter(ctx context.Context, code *gojq.Code, value any, method string) ([]any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}

	var outputs []any
	iter := code.RunWithContext(ctx, input, method)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq: %w", err)
		}
		outputs = append(outputs, v)
	}
	return outputs, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
