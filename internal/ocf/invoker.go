// Package ocf executes Open Cluster Framework resource-agent scripts as
// subprocesses and maps their exit codes to results.
package ocf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/noahj-LANL/halo/internal/haloerr"
	"github.com/noahj-LANL/halo/pkg/metrics"
)

// Action is one of the three OCF actions the Invoker understands.
type Action string

const (
	ActionMonitor Action = "monitor"
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
)

// Canonical OCF return codes.
const (
	CodeSuccess    = 0
	CodeNotRunning = 7
)

const (
	startStopTimeout = 30 * time.Second
	monitorTimeout   = 10 * time.Second
)

// Param is a single ordered OCF_RESKEY parameter. A slice (not a map)
// preserves insertion order because OCF scripts sometimes depend on it.
type Param struct {
	Key   string
	Value string
}

// Result is the outcome of one invocation.
type Result struct {
	Code     int
	Stderr   string
	Duration time.Duration
}

// Invoker spawns OCF resource-agent scripts. It is stateless and never
// retries — retry policy belongs to its callers.
type Invoker struct {
	// OCFRoot is exported as OCF_ROOT to the child and used by callers to
	// resolve script paths; the Invoker itself only needs it for the
	// inherited environment.
	OCFRoot string
}

func New(ocfRoot string) *Invoker {
	return &Invoker{OCFRoot: ocfRoot}
}

// Invoke executes scriptPath with action as its sole argument, exporting
// params as OCF_RESKEY_<key> environment variables, and maps the exit code
// (or a timeout/spawn failure) to a Result.
func (inv *Invoker) Invoke(ctx context.Context, scriptPath string, action Action, params []Param) (Result, error) {
	timeout := startStopTimeout
	if action == ActionMonitor {
		timeout = monitorTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, scriptPath, string(action))
	cmd.Env = minimalEnv(inv.OCFRoot)
	for _, p := range params {
		cmd.Env = append(cmd.Env, fmt.Sprintf("OCF_RESKEY_%s=%s", p.Key, p.Value))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	timer := metrics.NewTimer()
	err := cmd.Run()
	duration := timer.Duration()
	metrics.OcfInvocationDuration.WithLabelValues(string(action)).Observe(duration.Seconds())

	if execCtx.Err() == context.DeadlineExceeded {
		return Result{Duration: duration, Stderr: stderr.String()},
			fmt.Errorf("%s %s timed out after %s: %w", scriptPath, action, timeout, haloerr.ErrTimeout)
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return Result{Duration: duration}, fmt.Errorf("spawn %s %s: %w", scriptPath, action, err)
		}
		return Result{
			Code:     exitErr.ExitCode(),
			Stderr:   stderr.String(),
			Duration: duration,
		}, nil
	}

	return Result{Code: CodeSuccess, Stderr: stderr.String(), Duration: duration}, nil
}

// minimalEnv builds the inherited environment for an OCF child: just
// OCF_ROOT and PATH, per the invoker's contract, rather than the full
// parent environment.
func minimalEnv(ocfRoot string) []string {
	env := []string{"OCF_ROOT=" + ocfRoot}
	if path := os.Getenv("PATH"); path != "" {
		env = append(env, "PATH="+path)
	}
	return env
}
