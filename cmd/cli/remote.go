package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"
	genericservice "go.viam.com/rdk/services/generic"
)

var (
	seedU, seedV int
	plotPath     string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the servo session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd.Context(), map[string]interface{}{"command": "status"}, printTable)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a servo session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd.Context(), map[string]interface{}{"command": "start"}, printTable)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the servo session and the arm",
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd.Context(), map[string]interface{}{"command": "stop"}, printTable)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Pick the dot at pixel (u, v)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd.Context(), map[string]interface{}{
			"command": "init_tracking",
			"u":       float64(seedU),
			"v":       float64(seedV),
		}, printTable)
	},
}

var printCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the servo task",
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd.Context(), map[string]interface{}{"command": "print"}, func(resp map[string]interface{}) error {
			fmt.Println(resp["task"])
			return nil
		})
	},
}

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Plot the error norm of the last session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd.Context(), map[string]interface{}{"command": "history"}, func(resp map[string]interface{}) error {
			return writeErrorPlot(resp, plotPath)
		})
	},
}

func init() {
	initCmd.Flags().IntVar(&seedU, "u", 0, "dot column")
	initCmd.Flags().IntVar(&seedV, "v", 0, "dot row")
	plotCmd.Flags().StringVar(&plotPath, "out", "servo-error.png", "output PNG")

	rootCmd.AddCommand(statusCmd, startCmd, stopCmd, initCmd, printCmd, plotCmd)
}

// remote sends one DoCommand to the machine's visual-servo service.
func remote(ctx context.Context, cmd map[string]interface{}, show func(map[string]interface{}) error) error {
	logger := logging.NewLogger("cli")

	machine, err := connect(ctx, logger)
	if err != nil {
		return err
	}
	defer machine.Close(context.Background())

	svc, err := machine.ResourceByName(genericservice.Named(serviceName))
	if err != nil {
		return err
	}
	resp, err := svc.DoCommand(ctx, cmd)
	if err != nil {
		return err
	}
	return show(resp)
}

func printTable(resp map[string]interface{}) error {
	keys := make([]string, 0, len(resp))
	for k := range resp {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%v\n", k, resp[k])
	}
	return w.Flush()
}
