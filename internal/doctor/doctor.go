// Package doctor runs readiness diagnostics for config, credentials, audio,
// cue playback, and the speech sidecar.
package doctor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/config"
	"github.com/rbright/aeris/internal/ipc"
	"github.com/rbright/aeris/internal/speechrpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const healthTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes every check for a loaded config.
func Run(ctx context.Context, loaded config.Loaded, secrets config.Secrets) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks, checkRuntimeDir())
	checks = append(checks,
		checkSecret(config.OpenAIKeyEnv, secrets.OpenAIKey),
		checkSecret(config.ElevenLabsKeyEnv, secrets.ElevenLabsKey),
	)

	if cfg.Indicator.SoundEnable && strings.TrimSpace(cfg.Indicator.PlayerCmd) != "" {
		argv, err := config.ParseArgv(cfg.Indicator.PlayerCmd)
		if err != nil {
			checks = append(checks, Check{Name: "indicator.player_cmd", Pass: false, Message: err.Error()})
		} else {
			checks = append(checks, checkCommand(argv, "indicator.player_cmd"))
		}
	}
	if cfg.Indicator.NotifyEnable {
		checks = append(checks, checkBinary("busctl", "desktop notifications require busctl"))
	}

	checks = append(checks, checkAudioInput(ctx, cfg.Audio))
	checks = append(checks, checkSpeechHealth(ctx, cfg))

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	if !loaded.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", loaded.Path)}
	}
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if n := len(loaded.Warnings); n > 0 {
		message = fmt.Sprintf("%s with %d warning(s)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkRuntimeDir verifies the control socket location is resolvable.
func checkRuntimeDir() Check {
	path, err := ipc.RuntimeSocketPath()
	if err != nil {
		return Check{Name: "XDG_RUNTIME_DIR", Pass: false, Message: err.Error()}
	}
	return Check{Name: "XDG_RUNTIME_DIR", Pass: true, Message: fmt.Sprintf("control socket at %s", path)}
}

func checkSecret(name string, value string) Check {
	if strings.TrimSpace(value) == "" {
		return Check{Name: name, Pass: false, Message: "not set (environment or .env)"}
	}
	return Check{Name: name, Pass: true, Message: "set"}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioInput resolves the configured input the same way the runtime does.
func checkAudioInput(ctx context.Context, cfg config.AudioConfig) Check {
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), "portaudio") {
		devices, err := audio.ListPortAudioDevices(ctx)
		if err != nil {
			return Check{Name: "audio.device", Pass: false, Message: err.Error()}
		}
		if len(devices) == 0 {
			return Check{Name: "audio.device", Pass: false, Message: "no portaudio input devices"}
		}
		return Check{Name: "audio.device", Pass: true, Message: fmt.Sprintf("%d portaudio input device(s)", len(devices))}
	}

	selection, err := audio.SelectDevice(ctx, cfg.Input, cfg.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkSpeechHealth asks the sidecar's grpc.health.v1 service for overall and
// per-service status. A service the sidecar does not report on is not a failure.
func checkSpeechHealth(ctx context.Context, cfg config.Config) Check {
	const name = "speech.health"

	conn, err := speechrpc.Dial(ctx, cfg.Speech.GRPC, time.Duration(cfg.Speech.DialTimeoutMS)*time.Millisecond)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	services := []string{"", speechrpc.TranscriberService}
	if strings.EqualFold(strings.TrimSpace(cfg.Wake.Engine), "grpc") {
		services = append(services, speechrpc.WakeWordService)
	}

	for _, service := range services {
		checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		resp, err := client.Check(checkCtx, &healthpb.HealthCheckRequest{Service: service})
		cancel()

		label := service
		if label == "" {
			label = "server"
		}
		if err != nil {
			if status.Code(err) == codes.NotFound && service != "" {
				continue
			}
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s health check failed: %v", label, err)}
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is %s", label, resp.GetStatus())}
		}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("serving at %s", cfg.Speech.GRPC)}
}
