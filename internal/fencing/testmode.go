package fencing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/noahj-LANL/halo/internal/hoststate"
)

// TestModeAgent simulates fencing in the test environment described by
// spec.md §4.3 and §8: instead of power-cycling real hardware, it kills the
// target agent process by its advertised PID file and, for Off, removes
// the resource-existence marker files that simulate "running" state, so a
// fenced host looks crash-stopped to subsequent monitor probes.
type TestModeAgent struct {
	// TestDir is HALO_TEST_DIRECTORY: where agents write <agent_id>.pid
	// and resources write <agent_id>.<resource_id> existence markers.
	TestDir string
}

func NewTestModeAgent(testDir string) *TestModeAgent {
	return &TestModeAgent{TestDir: testDir}
}

// Off satisfies resourcegroup.Fencer: hostID doubles as the test
// environment's agent_id, and cfg is unused since the test environment
// fences by killing the advertised process rather than invoking a real
// fence-agent script.
func (a *TestModeAgent) Off(ctx context.Context, hostID string, cfg hoststate.FenceAgentConfig) error {
	return a.killAndRemove(hostID)
}

// killAndRemove kills the agent process named by agentID's PID file and
// removes any resource existence markers for that agent, simulating power
// loss.
func (a *TestModeAgent) killAndRemove(agentID string) error {
	pidPath := filepath.Join(a.TestDir, agentID+".pid")
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Already not running; fence_off post-condition holds.
			return a.removeMarkers(agentID)
		}
		return fmt.Errorf("read pid file %s: %w", pidPath, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse pid file %s: %w", pidPath, err)
	}

	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Signal(syscall.SIGKILL)
	}

	return a.removeMarkers(agentID)
}

func (a *TestModeAgent) removeMarkers(agentID string) error {
	entries, err := os.ReadDir(a.TestDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	prefix := agentID + "."
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			_ = os.Remove(filepath.Join(a.TestDir, e.Name()))
		}
	}
	return nil
}

// On is a no-op in the test environment: there is no generic way to
// resurrect a killed process from outside, so a test-mode "power on" always
// reports success and relies on the harness to have restarted the agent.
func (a *TestModeAgent) On(ctx context.Context, hostID string, cfg hoststate.FenceAgentConfig) error {
	return nil
}

// Status satisfies the same (ctx, cfg) shape as Subsystem.Status; cfg.AgentPath
// is repurposed in test mode to carry the agent_id Status looks up, since
// there is no real fence-agent script to invoke.
func (a *TestModeAgent) Status(ctx context.Context, cfg hoststate.FenceAgentConfig) (PowerState, error) {
	return a.statusOf(cfg.AgentPath), nil
}

// statusOf reports Powered if the agent's PID file exists and names a live
// process, Unknown if the file does not hold a PID, and Unpowered otherwise.
func (a *TestModeAgent) statusOf(agentID string) PowerState {
	data, err := os.ReadFile(filepath.Join(a.TestDir, agentID+".pid"))
	if err != nil {
		return PowerUnpowered
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return PowerUnknown
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return PowerUnpowered
	}
	return PowerPowered
}
