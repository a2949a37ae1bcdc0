package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	genericservice "go.viam.com/rdk/services/generic"

	"visualservo"
	"visualservo/internal/sim"
	"visualservo/joints"
)

var runOpts struct {
	arm      string
	camera   string
	u, v     int
	lambda   float64
	rateHz   float64
	duration time.Duration
	plot     string
	sim      bool
	simDx    float64
	simDy    float64
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Servo the arm in-process for a fixed duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServo(cmd.Context())
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.arm, "arm", "arm", "arm name")
	f.StringVar(&runOpts.camera, "camera", "camera", "camera name")
	f.IntVar(&runOpts.u, "u", 0, "dot column")
	f.IntVar(&runOpts.v, "v", 0, "dot row")
	f.Float64Var(&runOpts.lambda, "lambda", 0.8, "control gain")
	f.Float64Var(&runOpts.rateHz, "rate", 10, "control loop rate in Hz")
	f.DurationVar(&runOpts.duration, "duration", 10*time.Second, "how long to servo")
	f.StringVar(&runOpts.plot, "plot", "", "write the error plot to this PNG")
	f.BoolVar(&runOpts.sim, "sim", false, "use the simulated gantry instead of a machine")
	f.Float64Var(&runOpts.simDx, "sim-dx", 80, "simulated dot offset along x, mm")
	f.Float64Var(&runOpts.simDy, "sim-dy", -40, "simulated dot offset along y, mm")

	rootCmd.AddCommand(runCmd)
}

func runServo(ctx context.Context) error {
	logger := logging.NewLogger("cli")

	cfg := &visualservo.Config{
		Arm:          runOpts.arm,
		Camera:       runOpts.camera,
		Lambda:       runOpts.lambda,
		UpdateRateHz: runOpts.rateHz,
	}
	name := genericservice.Named(serviceName)

	var svc resource.Resource
	if runOpts.sim {
		g := sim.NewGantry()
		scene := sim.NewScene(g, runOpts.simDx, runOpts.simDy)
		u, v, err := scene.Project()
		if err != nil {
			return err
		}
		runOpts.u, runOpts.v = int(u), int(v)

		robot := joints.NewController(g, g, nil, 0.5, logger)
		svc, err = visualservo.NewVisualServoWith(ctx, name, cfg, scene, robot, scene.Camera, logger)
		if err != nil {
			return err
		}
	} else {
		machine, err := connect(ctx, logger)
		if err != nil {
			return err
		}
		defer machine.Close(context.Background())

		a, err := machine.ResourceByName(arm.Named(runOpts.arm))
		if err != nil {
			return err
		}
		c, err := machine.ResourceByName(camera.Named(runOpts.camera))
		if err != nil {
			return err
		}
		deps := resource.Dependencies{arm.Named(runOpts.arm): a, camera.Named(runOpts.camera): c}

		svc, err = visualservo.NewVisualServo(ctx, deps, name, cfg, logger)
		if err != nil {
			return err
		}
	}
	defer svc.Close(context.Background())

	if _, err := svc.DoCommand(ctx, map[string]interface{}{
		"command": "init_tracking",
		"u":       float64(runOpts.u),
		"v":       float64(runOpts.v),
	}); err != nil {
		return err
	}
	if _, err := svc.DoCommand(ctx, map[string]interface{}{"command": "start"}); err != nil {
		return err
	}

	deadline := time.After(runOpts.duration)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-deadline:
			done = true
		case <-ticker.C:
			status, err := svc.DoCommand(ctx, map[string]interface{}{"command": "status"})
			if err != nil {
				return err
			}
			logger.Infof("%v: iteration %v, error %v", status["state"], status["iteration"], status["error_sum_square"])
			if status["state"] != "running" {
				done = true
			}
		}
	}

	status, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "stop"})
	if err != nil {
		return err
	}
	if err := printTable(status); err != nil {
		return err
	}
	if last, _ := status["last_error"].(string); last != "" {
		return fmt.Errorf("session failed: %s", last)
	}

	if runOpts.plot != "" {
		history, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "history"})
		if err != nil {
			return err
		}
		return writeErrorPlot(history, runOpts.plot)
	}
	return nil
}
