// Package app maps parsed CLI commands onto the assistant runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/cli"
	"github.com/rbright/aeris/internal/config"
	"github.com/rbright/aeris/internal/cycle"
	"github.com/rbright/aeris/internal/doctor"
	"github.com/rbright/aeris/internal/ipc"
	"github.com/rbright/aeris/internal/logging"
	"github.com/rbright/aeris/internal/pipeline"
	"github.com/rbright/aeris/internal/version"
)

const (
	forwardTimeout = 220 * time.Millisecond
	probeTimeout   = 180 * time.Millisecond
	acquireRetries = 8
)

// Runner executes one CLI invocation.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Execute runs args and returns the process exit code: 0 on success, 1 on a
// runtime failure, 2 on a usage error.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("aeris"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("aeris"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := logging.New(cfgLoaded.Config.LogLevel)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load secrets failed", "error", err.Error())
		return 1
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"env_files", secrets.EnvFiles,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, secrets)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx, cfgLoaded.Config.Audio)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.commandStop(ctx)
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, secrets, logger, 0)
	case cli.CommandOnce:
		return r.commandRun(ctx, cfgLoaded.Config, secrets, logger, 1)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context, cfg config.AudioConfig) int {
	list := audio.ListDevices
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), "portaudio") {
		list = audio.ListPortAudioDevices
	}

	devices, err := list(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.State == "" {
		resp.State = "unknown"
	}
	fmt.Fprintf(r.Stdout, "%s (cycles=%d)\n", resp.State, resp.Cycles)
	return 0
}

func (r Runner) commandStop(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStop)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: aeris is not running")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandRun owns the control socket for the lifetime of the loop so that
// status and stop reach it, and so a second instance refuses to start.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, secrets config.Secrets, logger *slog.Logger, maxCycles int) int {
	if missing := secrets.Missing(); len(missing) > 0 {
		fmt.Fprintf(r.Stderr, "error: missing credentials: %s\n", strings.Join(missing, ", "))
		return 1
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, probeTimeout, acquireRetries, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	var last cycle.Result
	rt, err := pipeline.Build(ctx, cfg, secrets, logger, pipeline.Options{
		MaxCycles: maxCycles,
		OnResult: func(result cycle.Result) {
			last = result
			r.printResult(result)
		},
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("assemble assistant failed", "error", err.Error())
		return 1
	}
	defer func() { _ = rt.Close() }()

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, rt.Orchestrator)
	}()

	runErr := rt.Orchestrator.Run(ctx)
	serverCancel()
	serverErr := <-serverErrCh

	logger.Info("aeris terminated",
		"cycles", rt.Orchestrator.Cycles(),
		"state", rt.Orchestrator.State(),
		"peak_handles", rt.Source.PeakHandles(),
	)

	return r.stopped(runErr, serverErr, maxCycles == 1 && onceFailed(last))
}

// stopped reports the end of a run on stdout and maps it to an exit code.
func (r Runner) stopped(runErr, serverErr error, cycleFailed bool) int {
	fmt.Fprintln(r.Stdout, "aeris stopped")
	if runErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", runErr)
		return 1
	}
	if serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}
	if cycleFailed {
		return 1
	}
	return 0
}

func (r Runner) printResult(result cycle.Result) {
	switch result.Outcome {
	case cycle.OutcomeSpoken:
		fmt.Fprintf(r.Stdout, "you: %s\naeris: %s\n", result.Prompt, result.Reply)
	case cycle.OutcomeDegraded:
		if result.Err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		}
	}
}

// onceFailed reports whether a single-cycle run should exit non-zero. Quiet
// outcomes such as a listen timeout are not failures.
func onceFailed(result cycle.Result) bool {
	return result.Outcome == cycle.OutcomeDegraded || result.Outcome == cycle.OutcomeFatal
}

// tryForward sends command to a running instance. handled is false when no
// instance is listening.
func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.IsNoListener(err) {
		return ipc.Response{}, false, nil
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
