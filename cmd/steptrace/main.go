// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command steptrace wraps an external command as a single traced step.
// The command's combined output is teed to a log file, exported as log
// records and echoed to the console annotated with correlation ids. The
// spawned process inherits the step span through TRACEPARENT so any
// telemetry it emits itself nests under the step.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/z5labs/steptrace"
	"github.com/z5labs/steptrace/config"
	"github.com/z5labs/steptrace/exporter"
	"github.com/z5labs/steptrace/lifecycle"
	"github.com/z5labs/steptrace/tee"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config is read from the environment. Every value degrades gracefully:
// a missing endpoint disables export, missing identity falls back to
// "unknown".
type Config struct {
	ServiceName    string        `config:"OTEL_SERVICE_NAME"`
	ServiceVersion string        `config:"OTEL_SERVICE_VERSION"`
	Endpoint       string        `config:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ExportTimeout  time.Duration `config:"OTEL_EXPORTER_OTLP_TIMEOUT"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err := buildCmd().ExecuteContext(ctx)
	cancel()
	if err == nil {
		return
	}

	var ece exitCodeError
	if errors.As(err, &ece) {
		os.Exit(ece.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.code)
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "steptrace",
		Short:         "Run commands as traced pipeline steps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(buildRunCmd())
	return cmd
}

func buildRunCmd() *cobra.Command {
	var (
		name    string
		attrs   []string
		logFile string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Execute a command wrapped in a step span",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zap.NewNop()
			if verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				logger = l
			}

			var cfg Config
			m, err := config.Read(config.FromEnv())
			if err != nil {
				return err
			}
			err = m.Unmarshal(&cfg)
			if err != nil {
				// telemetry config must never block the workload
				logger.Warn("ignoring malformed telemetry config", zap.Error(err))
			}

			if name == "" {
				name = filepath.Base(args[0])
			}
			if logFile == "" {
				logFile = name + ".log"
			}

			expOpts := []exporter.Option{exporter.Logger(logger)}
			if cfg.ExportTimeout > 0 {
				expOpts = append(expOpts, exporter.Timeout(cfg.ExportTimeout))
			}
			exp := exporter.New(cfg.Endpoint, expOpts...)

			tracer := steptrace.New(exp,
				steptrace.ServiceName(cfg.ServiceName),
				steptrace.ServiceVersion(cfg.ServiceVersion),
				steptrace.Logger(logger),
			)

			return runStep(cmd.Context(), tracer, name, attrs, logFile, args)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "step name (defaults to the command name)")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "step attribute as key=value, repeatable")
	cmd.Flags().StringVar(&logFile, "log-file", "", "file to persist raw output lines to")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log telemetry diagnostics to stderr")
	return cmd
}

func runStep(ctx context.Context, tracer *steptrace.Tracer, name string, attrs []string, logFile string, args []string) error {
	step := tracer.StartStep(name, attrs...)

	w, err := tee.New(step, logFile, os.Stdout)
	if err != nil {
		return err
	}

	var life lifecycle.Context
	life.OnPostRun(lifecycle.HookFunc(func(context.Context) error {
		return w.Close()
	}))

	exitCode := runCommand(ctx, w, args)

	life.OnPostRun(lifecycle.HookFunc(func(ctx context.Context) error {
		step.End(ctx, exitCode)
		return nil
	}))

	// hooks always run, even when the command failed, so the step
	// span is closed and its final export joined on every exit path
	err = life.PostRun().Run(context.WithoutCancel(ctx))
	if exitCode != 0 {
		return exitCodeError{code: exitCode}
	}
	return err
}

func runCommand(ctx context.Context, w io.Writer, args []string) int {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 1
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 1
	}

	err = cmd.Start()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := io.Copy(w, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(w, stderr)
		return err
	})
	// pipes must be fully drained before Wait
	pumpErr := g.Wait()

	err = cmd.Wait()
	if err == nil {
		if pumpErr != nil {
			fmt.Fprintln(os.Stderr, pumpErr)
		}
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}
