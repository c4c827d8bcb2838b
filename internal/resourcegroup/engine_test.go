package resourcegroup

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahj-LANL/halo/internal/haloerr"
	"github.com/noahj-LANL/halo/internal/hoststate"
)

// fakeOperator simulates remote agents: a map of hostAddr -> resourceID ->
// "running" bool, mutated directly by tests to script scenarios.
type fakeOperator struct {
	mu      sync.Mutex
	running map[string]map[string]bool
	// fail forces every Operate call against a host to return a transport
	// error, simulating a dead agent.
	fail map[string]bool
	// starts records resource IDs in the order start was issued.
	starts []string
}

func newFakeOperator() *fakeOperator {
	return &fakeOperator{running: make(map[string]map[string]bool), fail: make(map[string]bool)}
}

func (f *fakeOperator) setRunning(host, resource string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[host] == nil {
		f.running[host] = make(map[string]bool)
	}
	f.running[host][resource] = running
}

func (f *fakeOperator) setFail(host string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[host] = fail
}

func (f *fakeOperator) Operate(ctx context.Context, hostAddr, resourceID, kind string, op Op, params []Param) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail[hostAddr] {
		return 0, assertTransportErr
	}

	switch op {
	case OpMonitor:
		if f.running[hostAddr][resourceID] {
			return 0, nil
		}
		return 7, nil
	case OpStart:
		f.starts = append(f.starts, resourceID)
		if f.running[hostAddr] == nil {
			f.running[hostAddr] = make(map[string]bool)
		}
		f.running[hostAddr][resourceID] = true
		return 0, nil
	case OpStop:
		if f.running[hostAddr] != nil {
			f.running[hostAddr][resourceID] = false
		}
		return 0, nil
	}
	return 1, nil
}

// assertTransportErr wraps haloerr.ErrTransport so injected failures are
// recognized by haloerr.IsLiveness the same way a real dead-agent dial
// failure would be, letting tests drive host demotion through Engine.Tick
// rather than poking the tracker directly.
var assertTransportErr = fmt.Errorf("injected test failure: %w", haloerr.ErrTransport)

func newTestTracker() *hoststate.Tracker {
	return hoststate.New(hoststate.Config{FailureThreshold: 3})
}

// fakeFencer lets tests force Off to fail for a given host, simulating a
// fence agent that never succeeds.
type fakeFencer struct {
	failHosts map[string]bool
}

func newFakeFencer() *fakeFencer {
	return &fakeFencer{failHosts: make(map[string]bool)}
}

func (f *fakeFencer) Off(ctx context.Context, hostID string, cfg hoststate.FenceAgentConfig) error {
	if f.failHosts[hostID] {
		return assertTransportErr
	}
	return nil
}

func TestSimpleStart(t *testing.T) {
	r := NewResource("lustre._mnt_test_ost", "lustre", nil, Placement{HomeHost: "test_agent"})
	group := NewGroup("g1", r, []*Resource{r})

	hosts := newTestTracker()
	host := hoststate.NewHost("test_agent", "test_agent:8000", 8000, nil)
	hosts.Register(host)
	hosts.RecordProbeSuccess("test_agent") // simulate reachable host

	op := newFakeOperator()
	engine := NewEngine(group, DefaultConfig(), hosts, nil, op, true)

	engine.Tick()
	engine.Tick()

	assert.Equal(t, StatusRunningOnHome, r.Status())
	assert.True(t, op.running["test_agent:8000"]["lustre._mnt_test_ost"])
}

func TestRestartAfterExternalStop(t *testing.T) {
	r := NewResource("res1", "lustre", nil, Placement{HomeHost: "h1"})
	group := NewGroup("g1", r, []*Resource{r})

	hosts := newTestTracker()
	hosts.Register(hoststate.NewHost("h1", "h1:8000", 8000, nil))
	hosts.RecordProbeSuccess("h1")

	op := newFakeOperator()
	engine := NewEngine(group, DefaultConfig(), hosts, nil, op, true)
	engine.Tick()
	engine.Tick()
	require.Equal(t, StatusRunningOnHome, r.Status())

	// External stop: the next tick's monitor reports stopped and the same
	// tick restarts the resource on its home host.
	op.setRunning("h1:8000", "res1", false)
	engine.Tick()
	require.Equal(t, StatusRunningOnHome, r.Status())
	assert.True(t, op.running["h1:8000"]["res1"])

	engine.Tick()
	assert.Equal(t, StatusRunningOnHome, r.Status())
}

func TestDependencyOrdering(t *testing.T) {
	parent := NewResource("parent", "lustre", nil, Placement{HomeHost: "h1"})
	child := NewResource("child", "lustre", nil, Placement{HomeHost: "h1"})
	child.Parent = parent
	parent.Children = []*Resource{child}
	group := NewGroup("g1", parent, []*Resource{parent, child})

	hosts := newTestTracker()
	hosts.Register(hoststate.NewHost("h1", "h1:8000", 8000, nil))
	hosts.RecordProbeSuccess("h1")

	op := newFakeOperator()
	engine := NewEngine(group, DefaultConfig(), hosts, nil, op, true)

	engine.Tick()
	// First tick: pre-order visits parent first and child's decide()
	// requires parent Running, so parent's start RPC is issued (and
	// succeeds) before child's.
	assert.Equal(t, []string{"parent", "child"}, op.starts)

	engine.Tick()
	assert.Equal(t, StatusRunningOnHome, parent.Status())
	engine.Tick()
	assert.Equal(t, StatusRunningOnHome, child.Status())
}

func TestNMinusOneFailuresDoNotDemoteHost(t *testing.T) {
	hosts := newTestTracker()
	hosts.Register(hoststate.NewHost("h1", "h1:8000", 8000, nil))
	hosts.RecordProbeSuccess("h1")

	hosts.RecordProbeFailure("h1")
	hosts.RecordProbeFailure("h1")
	h, _ := hosts.Get("h1")
	assert.True(t, h.IsUsable())

	hosts.RecordProbeFailure("h1")
	assert.False(t, h.IsUsable())
}

func TestUnrunnableWhenNoHostReachableAtStartup(t *testing.T) {
	// Open question (a): presumed Unrunnable until a host becomes
	// reachable.
	r := NewResource("res1", "lustre", nil, Placement{HomeHost: "h1", AwayHost: "h2"})
	group := NewGroup("g1", r, []*Resource{r})

	hosts := newTestTracker()
	hosts.Register(hoststate.NewHost("h1", "h1:8000", 8000, nil))
	hosts.Register(hoststate.NewHost("h2", "h2:8000", 8000, nil))
	// Neither host ever probed successfully; both remain Unknown.

	op := newFakeOperator()
	engine := NewEngine(group, DefaultConfig(), hosts, nil, op, true)
	engine.Tick()

	assert.Equal(t, StatusUnrunnable, r.Status())
}

func TestFenceFailureIsFatal(t *testing.T) {
	// Scenario 4: home becomes unreachable, fence agent always fails.
	// Expected: resource transitions to Unrunnable; no start is attempted
	// on either host.
	r := NewResource("res1", "lustre", nil, Placement{HomeHost: "mds00", AwayHost: "mds01"})
	group := NewGroup("g1", r, []*Resource{r})

	hosts := newTestTracker()
	fenceCfg := &hoststate.FenceAgentConfig{AgentPath: "/fence/agent"}
	hosts.Register(hoststate.NewHost("mds00", "mds00:8000", 8000, fenceCfg))
	hosts.Register(hoststate.NewHost("mds01", "mds01:8000", 8000, nil))
	hosts.RecordProbeSuccess("mds00")
	hosts.RecordProbeSuccess("mds01")

	op := newFakeOperator()
	fencer := newFakeFencer()
	fencer.failHosts["mds00"] = true
	engine := NewEngine(group, DefaultConfig(), hosts, fencer, op, true)

	// Run the resource up onto its home host first.
	engine.Tick()
	engine.Tick()
	require.Equal(t, StatusRunningOnHome, r.Status())

	// mds00 goes unreachable (N consecutive probe failures).
	op.setFail("mds00:8000", true)
	for i := 0; i < 3; i++ {
		engine.Tick()
	}
	h, _ := hosts.Get("mds00")
	require.False(t, h.IsUsable())

	// Further ticks should attempt failover to mds01, hit the fatal fence
	// failure on mds00, and refuse to start anywhere.
	engine.Tick()
	engine.Tick()

	assert.Equal(t, StatusUnrunnable, r.Status())
	assert.False(t, op.running["mds01:8000"]["res1"], "must not start on away while prior host cannot be confirmed fenced")
}

func TestPreOrderAndPostOrderTraversal(t *testing.T) {
	parent := NewResource("p", "lustre", nil, Placement{})
	child := NewResource("c", "lustre", nil, Placement{})
	child.Parent = parent
	parent.Children = []*Resource{child}
	group := NewGroup("g", parent, []*Resource{parent, child})

	pre := group.PreOrder()
	require.Len(t, pre, 2)
	assert.Equal(t, "p", pre[0].ResourceID)
	assert.Equal(t, "c", pre[1].ResourceID)

	post := group.PostOrder()
	require.Len(t, post, 2)
	assert.Equal(t, "c", post[0].ResourceID)
	assert.Equal(t, "p", post[1].ResourceID)
}

func TestMutualExclusionInvariant_NeverBothRunning(t *testing.T) {
	r := NewResource("res1", "lustre", nil, Placement{HomeHost: "h1", AwayHost: "h2"})
	group := NewGroup("g1", r, []*Resource{r})

	hosts := newTestTracker()
	hosts.Register(hoststate.NewHost("h1", "h1:8000", 8000, nil))
	hosts.Register(hoststate.NewHost("h2", "h2:8000", 8000, nil))
	hosts.RecordProbeSuccess("h1")
	hosts.RecordProbeSuccess("h2")

	// Pre-create the resource on both sides (split-brain setup).
	op := newFakeOperator()
	op.setRunning("h1:8000", "res1", true)
	op.setRunning("h2:8000", "res1", true)

	engine := NewEngine(group, DefaultConfig(), hosts, nil, op, true)
	engine.Tick()

	assert.False(t, op.running["h1:8000"]["res1"] && op.running["h2:8000"]["res1"],
		"resource must never be observed running on both home and away")
}
