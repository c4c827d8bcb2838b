package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordTransition_AppendsAndReads(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.RecordTransition("res1", "Starting", "Running", "mds00"))

	events, err := l.All()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "transition", events[0].Kind)
	assert.Equal(t, "res1", events[0].ResourceID)
	assert.Equal(t, "Starting", events[0].From)
	assert.Equal(t, "Running", events[0].To)
	assert.Equal(t, "mds00", events[0].HostID)
}

func TestRecordFence_EncodesOutcomeInDetail(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.RecordFence("mds00", "off", true, ""))
	require.NoError(t, l.RecordFence("mds01", "off", false, "ipmi timeout"))

	events, err := l.All()
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "fence", events[0].Kind)
	assert.Equal(t, "mds00", events[0].HostID)
	assert.Contains(t, events[0].Detail, "ok")

	assert.Equal(t, "mds01", events[1].HostID)
	assert.Contains(t, events[1].Detail, "failed")
	assert.Contains(t, events[1].Detail, "ipmi timeout")
}

func TestAll_PreservesWriteOrder(t *testing.T) {
	l := openTestLog(t)

	restore := now
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time {
		t := tick
		tick = tick.Add(time.Second)
		return t
	}
	defer func() { now = restore }()

	require.NoError(t, l.RecordTransition("res1", "Unrunnable", "Starting", "mds00"))
	require.NoError(t, l.RecordTransition("res1", "Starting", "Running", "mds00"))
	require.NoError(t, l.RecordFence("mds01", "off", true, ""))

	events, err := l.All()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[0].Time.Before(events[1].Time))
	assert.True(t, events[1].Time.Before(events[2].Time))
}

func TestOpen_CreatesDataDirDatabase(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	events, err := l.All()
	require.NoError(t, err)
	assert.Empty(t, events)
}
