// Package fencing invokes fence-agent subprocesses to query and control the
// power state of a peer host, with an exponential-backoff retry policy for
// fence_off.
package fencing

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/noahj-LANL/halo/internal/haloerr"
	"github.com/noahj-LANL/halo/internal/hoststate"
	"github.com/noahj-LANL/halo/pkg/log"
	"github.com/noahj-LANL/halo/pkg/metrics"
)

// PowerState is the result of a fence_status query.
type PowerState string

const (
	PowerPowered   PowerState = "powered"
	PowerUnpowered PowerState = "unpowered"
	PowerUnknown   PowerState = "unknown"
)

const maxOffRetries = 4

// Subsystem invokes fence-agent subprocesses on behalf of the Host State
// Tracker. Test-mode operation (killing a process by PID file) is handled
// by TestModeAgent, a distinct type with the same Off/On/Status methods, so
// either satisfies resourcegroup.Fencer and manager.FenceController.
type Subsystem struct {
	// NewBackoff builds the retry policy for fence_off; overridable in
	// tests to avoid real sleeps.
	NewBackoff func() backoff.BackOff
}

func New() *Subsystem {
	return &Subsystem{NewBackoff: defaultBackoff}
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 8 * time.Second
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries, not elapsed wall time
	return backoff.WithMaxRetries(b, maxOffRetries-1)
}

// Status runs the fence agent's status query.
func (s *Subsystem) Status(ctx context.Context, cfg hoststate.FenceAgentConfig) (PowerState, error) {
	code, _, err := runFenceAgent(ctx, cfg, "status")
	if err != nil {
		metrics.FenceAttemptsTotal.WithLabelValues("status", "error").Inc()
		return PowerUnknown, fmt.Errorf("fence status: %w: %w", haloerr.ErrFence, err)
	}
	metrics.FenceAttemptsTotal.WithLabelValues("status", "ok").Inc()
	switch code {
	case 0:
		return PowerPowered, nil
	case 2:
		return PowerUnpowered, nil
	default:
		return PowerUnknown, nil
	}
}

// Off ensures the peer cannot continue serving resources, retrying with
// exponential backoff (base 500ms, factor 2, cap 8s) up to 4 tries total
// before declaring a fatal fence failure.
func (s *Subsystem) Off(ctx context.Context, hostID string, cfg hoststate.FenceAgentConfig) error {
	timer := metrics.NewTimer()
	attempts := 0

	op := func() error {
		attempts++
		code, stderr, err := runFenceAgent(ctx, cfg, "off")
		if err != nil {
			log.WithHost(hostID).Warn().Err(err).Int("attempt", attempts).Msg("fence_off attempt failed to spawn")
			return err
		}
		if code != 0 {
			log.WithHost(hostID).Warn().Int("attempt", attempts).Int("code", code).Str("stderr", stderr).
				Msg("fence_off attempt returned non-zero")
			return fmt.Errorf("fence_off returned code %d: %s", code, stderr)
		}
		return nil
	}

	err := backoff.Retry(op, s.NewBackoff())
	timer.ObserveDuration(metrics.FenceDuration)

	if err != nil {
		metrics.FenceAttemptsTotal.WithLabelValues("off", "fatal").Inc()
		return fmt.Errorf("fence_off exhausted %d attempts for host %s: %w: %w", attempts, hostID, haloerr.ErrFence, err)
	}
	metrics.FenceAttemptsTotal.WithLabelValues("off", "ok").Inc()
	return nil
}

// On attempts to restore power to the peer. A single attempt with no retry;
// the caller decides what a failure means (Manager.PowerOn records it as a
// persistent fence_on failure).
func (s *Subsystem) On(ctx context.Context, hostID string, cfg hoststate.FenceAgentConfig) error {
	code, stderr, err := runFenceAgent(ctx, cfg, "on")
	if err != nil {
		metrics.FenceAttemptsTotal.WithLabelValues("on", "error").Inc()
		return fmt.Errorf("fence_on: %w: %w", haloerr.ErrFence, err)
	}
	if code != 0 {
		metrics.FenceAttemptsTotal.WithLabelValues("on", "error").Inc()
		return fmt.Errorf("fence_on returned code %d: %s: %w", code, stderr, haloerr.ErrFence)
	}
	metrics.FenceAttemptsTotal.WithLabelValues("on", "ok").Inc()
	return nil
}

func runFenceAgent(ctx context.Context, cfg hoststate.FenceAgentConfig, action string) (code int, stderr string, err error) {
	execCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, cfg.AgentPath, action)
	cmd.Env = os.Environ()
	for k, v := range cfg.Params {
		cmd.Env = append(cmd.Env, fmt.Sprintf("FENCE_%s=%s", k, v))
	}

	out, runErr := cmd.CombinedOutput()
	if execCtx.Err() == context.DeadlineExceeded {
		return 0, string(out), fmt.Errorf("fence agent timed out: %w", haloerr.ErrTimeout)
	}
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return 0, string(out), runErr
		}
		return exitErr.ExitCode(), string(out), nil
	}
	return 0, string(out), nil
}
