package agent

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahj-LANL/halo/internal/rpc"
)

func writeOCFScript(t *testing.T, root, provider, kind, body string) {
	t.Helper()
	dir := filepath.Join(root, "resource.d", provider)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, kind)
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
}

func TestOperate_MonitorDispatchesToOcfScript(t *testing.T) {
	root := t.TempDir()
	writeOCFScript(t, root, "heartbeat", "lustre", "#!/bin/sh\nexit 7\n")

	a := New("agent1", root, "")
	resp, err := a.Operate(context.Background(), &rpc.OperationRequest{
		Resource: "res1",
		Op:       "monitor",
		Args:     []rpc.KV{{Key: "ocf_type", Value: "heartbeat/lustre"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(7), resp.Ok)
}

func TestOperate_UnknownLocatorIsRPCError(t *testing.T) {
	root := t.TempDir()
	a := New("agent1", root, "")
	_, err := a.Operate(context.Background(), &rpc.OperationRequest{
		Resource: "res1",
		Op:       "monitor",
		Args:     nil,
	})
	require.Error(t, err)
}

func TestOperate_SameResourceSerializedAcrossCalls(t *testing.T) {
	root := t.TempDir()
	// A slow script: two serialized runs take at least twice its sleep,
	// while overlapping runs would finish in about one.
	writeOCFScript(t, root, "heartbeat", "slow", "#!/bin/sh\nsleep 0.05\nexit 0\n")

	a := New("agent1", root, "")
	args := []rpc.KV{{Key: "ocf_type", Value: "heartbeat/slow"}}

	start := time.Now()
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := a.Operate(context.Background(), &rpc.OperationRequest{Resource: "same", Op: "monitor", Args: args})
			assert.NoError(t, err)
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAdvertiseIdentity_WritesPidFile(t *testing.T) {
	dir := t.TempDir()
	a := New("agent1", dir, dir)
	require.NoError(t, a.AdvertiseIdentity())

	data, err := os.ReadFile(filepath.Join(dir, "agent1.pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAdvertiseIdentity_NoopOutsideTestEnvironment(t *testing.T) {
	a := New("agent1", t.TempDir(), "")
	require.NoError(t, a.AdvertiseIdentity())
}

func TestOperate_TimeoutPropagates(t *testing.T) {
	root := t.TempDir()
	writeOCFScript(t, root, "heartbeat", "hang", "#!/bin/sh\nsleep 5\nexit 0\n")

	a := New("agent1", root, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.Operate(ctx, &rpc.OperationRequest{
		Resource: "res1",
		Op:       "start",
		Args:     []rpc.KV{{Key: "ocf_type", Value: "heartbeat/hang"}},
	})
	require.Error(t, err)
}
