package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/robot"
	"go.viam.com/rdk/robot/client"
	"go.viam.com/utils/rpc"
)

var (
	address     string
	apiKeyID    string
	apiKey      string
	serviceName string
)

var rootCmd = &cobra.Command{
	Use:   "visual-servo",
	Short: "Drive an eye-in-hand arm toward a tracked dot",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&address, "address", "", "machine address")
	rootCmd.PersistentFlags().StringVar(&apiKeyID, "api-key-id", os.Getenv("VIAM_API_KEY_ID"), "API key id")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("VIAM_API_KEY"), "API key")
	rootCmd.PersistentFlags().StringVar(&serviceName, "service", "visual-servo", "name of the visual-servo service")
}

// connect dials the machine given by the persistent flags.
func connect(ctx context.Context, logger logging.Logger) (robot.Robot, error) {
	if address == "" {
		return nil, fmt.Errorf("--address is required")
	}
	opts := []client.RobotClientOption{}
	if apiKeyID != "" && apiKey != "" {
		opts = append(opts, client.WithDialOptions(rpc.WithEntityCredentials(
			apiKeyID,
			rpc.Credentials{
				Type:    rpc.CredentialsTypeAPIKey,
				Payload: apiKey,
			})))
	}
	machine, err := client.New(ctx, address, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return machine, nil
}
