package hoststate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(threshold int) (*Tracker, *Host) {
	tr := New(Config{FailureThreshold: threshold})
	h := NewHost("mds00", "10.0.0.1", 8000, nil)
	tr.Register(h)
	return tr, h
}

func TestFirstSuccessTransitionsUnknownToReachable(t *testing.T) {
	tr, h := newTestTracker(3)
	require.Equal(t, ViewUnknown, h.View())

	tr.RecordProbeSuccess(h.HostID)
	assert.Equal(t, ViewReachable, h.View())
}

func TestExactlyNFailuresDemotesHost(t *testing.T) {
	tr, h := newTestTracker(3)
	tr.RecordProbeSuccess(h.HostID)
	require.Equal(t, ViewReachable, h.View())

	tr.RecordProbeFailure(h.HostID)
	tr.RecordProbeFailure(h.HostID)
	assert.Equal(t, ViewReachable, h.View(), "N-1 failures must not demote")

	demoted := tr.RecordProbeFailure(h.HostID)
	assert.True(t, demoted)
	assert.Equal(t, ViewUnreachable, h.View())
}

func TestFenceOffTransitionsToFenced(t *testing.T) {
	tr, h := newTestTracker(3)
	tr.RecordProbeSuccess(h.HostID)
	tr.RecordProbeFailure(h.HostID)
	tr.RecordProbeFailure(h.HostID)
	tr.RecordProbeFailure(h.HostID)
	require.Equal(t, ViewUnreachable, h.View())

	tr.RecordFenceOff(h.HostID)
	assert.Equal(t, ViewFenced, h.View())
}

func TestFenceOnSuccessThenProbeReturnsToReachable(t *testing.T) {
	tr, h := newTestTracker(3)
	tr.RecordFenceOff(h.HostID)
	tr.RecordFenceOnAttempt(h.HostID)
	assert.Equal(t, ViewPoweringOn, h.View())

	tr.RecordProbeSuccess(h.HostID)
	assert.Equal(t, ViewReachable, h.View())
}

func TestFenceOnPersistentFailureLeavesFatalUnknown(t *testing.T) {
	tr, h := newTestTracker(3)
	tr.RecordFenceOff(h.HostID)
	tr.RecordFenceOnPersistentFailure(h.HostID)

	assert.Equal(t, ViewUnknown, h.View())
	assert.True(t, tr.IsFatal(h.HostID))
}

func TestFenceFailureThenSuccessLeavesHostFenced(t *testing.T) {
	// A fence_off failure on attempt K-1 followed by success on K leaves
	// the host Fenced, not Unknown — the tracker only records the final
	// confirmed outcome, so this is really asserting RecordFenceOff's
	// result is independent of how many attempts preceded it.
	tr, h := newTestTracker(3)
	tr.RecordFenceOff(h.HostID)
	assert.Equal(t, ViewFenced, h.View())
	assert.False(t, tr.IsFatal(h.HostID))
}
