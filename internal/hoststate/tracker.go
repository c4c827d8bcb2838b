// Package hoststate implements the Host State Tracker: per-host
// reachability, power-state, and consistency view, and the fencing
// transitions that follow from it.
package hoststate

import (
	"sync"
	"time"

	"github.com/noahj-LANL/halo/pkg/log"
	"github.com/noahj-LANL/halo/pkg/metrics"
)

// View is a host's current reachability/power view.
type View string

const (
	ViewUnknown     View = "unknown"
	ViewReachable   View = "reachable"
	ViewUnreachable View = "unreachable"
	ViewFenced      View = "fenced"
	ViewPoweringOn  View = "poweringOn"
)

// Config tunes the tracker's thresholds, defaulted per spec.
type Config struct {
	// FailureThreshold is the number of consecutive RPC failures (N) that
	// demotes a host from Reachable to Unreachable. Default 3.
	FailureThreshold int
	// ProbeInterval is informational only here (the engine drives the
	// actual probe cadence); kept on Config so callers have one place to
	// read the tunable. Default 5s.
	ProbeInterval time.Duration
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 3, ProbeInterval: 5 * time.Second}
}

// FenceAgentConfig describes how to fence a given host.
type FenceAgentConfig struct {
	AgentPath string
	Params    map[string]string
}

// Host is one managed host's identity and fencing configuration plus its
// mutable tracked state.
type Host struct {
	HostID         string
	NetworkAddress string
	RPCPort        int
	FenceAgent     *FenceAgentConfig // nil if the host cannot be fenced

	mu                  sync.Mutex
	view                View
	consecutiveFailures int
	lastProbeAt         time.Time
	fatal               bool // true once fence_on has failed persistently after a Fenced state
}

// NewHost constructs a Host in the Unknown view.
func NewHost(id, addr string, port int, fence *FenceAgentConfig) *Host {
	return &Host{HostID: id, NetworkAddress: addr, RPCPort: port, FenceAgent: fence, view: ViewUnknown}
}

func (h *Host) View() View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view
}

// IsUsable reports whether the host may currently be chosen as a placement
// target: Reachable and not Fenced (PoweringOn/Unreachable/Unknown are also
// excluded since none confirm liveness).
func (h *Host) IsUsable() bool {
	return h.View() == ViewReachable
}

// Tracker owns the Host table and drives the state machine described in
// spec.md §4.4:
//
//	Unknown --first success--> Reachable
//	Reachable --N consecutive failures--> Unreachable
//	Unreachable --fence_off ok--> Fenced
//	Fenced --fence_on ok, next success--> Reachable
//	Fenced --fence_on fails persistently--> Unknown (fatal)
type Tracker struct {
	cfg   Config
	mu    sync.RWMutex
	hosts map[string]*Host
}

func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, hosts: make(map[string]*Host)}
}

func (t *Tracker) Register(h *Host) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hosts[h.HostID] = h
}

func (t *Tracker) Get(hostID string) (*Host, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.hosts[hostID]
	return h, ok
}

// Snapshot returns a read-only copy of every host's id and view, for the
// manager's status snapshot RPC.
func (t *Tracker) Snapshot() map[string]View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]View, len(t.hosts))
	for id, h := range t.hosts {
		out[id] = h.View()
	}
	return out
}

// RecordProbeSuccess transitions a host toward Reachable on a successful
// RPC round trip.
func (t *Tracker) RecordProbeSuccess(hostID string) {
	h, ok := t.Get(hostID)
	if !ok {
		return
	}
	h.mu.Lock()
	prev := h.view
	h.consecutiveFailures = 0
	h.lastProbeAt = time.Now()
	if h.view == ViewUnknown || h.view == ViewUnreachable || h.view == ViewFenced || h.view == ViewPoweringOn {
		h.view = ViewReachable
		h.fatal = false
	}
	next := h.view
	h.mu.Unlock()

	if prev != next {
		logTransition(hostID, prev, next)
	}
	updateHostMetric(hostID, next)
}

// RecordProbeFailure counts a failed RPC round trip toward the
// consecutive-failure threshold and demotes Reachable->Unreachable once N
// is reached.
func (t *Tracker) RecordProbeFailure(hostID string) (demoted bool) {
	h, ok := t.Get(hostID)
	if !ok {
		return false
	}
	h.mu.Lock()
	h.consecutiveFailures++
	h.lastProbeAt = time.Now()
	prev := h.view
	if h.view == ViewReachable && h.consecutiveFailures >= t.cfg.FailureThreshold {
		h.view = ViewUnreachable
	}
	next := h.view
	h.mu.Unlock()

	if prev != next {
		logTransition(hostID, prev, next)
	}
	updateHostMetric(hostID, next)
	return prev != next
}

// RecordFenceOff marks a host Fenced after a confirmed fence_off.
func (t *Tracker) RecordFenceOff(hostID string) {
	h, ok := t.Get(hostID)
	if !ok {
		return
	}
	h.mu.Lock()
	prev := h.view
	h.view = ViewFenced
	h.mu.Unlock()
	logTransition(hostID, prev, ViewFenced)
	updateHostMetric(hostID, ViewFenced)
}

// RecordFenceOnAttempt marks a host PoweringOn while a fence_on is in
// flight.
func (t *Tracker) RecordFenceOnAttempt(hostID string) {
	h, ok := t.Get(hostID)
	if !ok {
		return
	}
	h.mu.Lock()
	prev := h.view
	h.view = ViewPoweringOn
	h.mu.Unlock()
	logTransition(hostID, prev, ViewPoweringOn)
	updateHostMetric(hostID, ViewPoweringOn)
}

// RecordFenceOnPersistentFailure transitions Fenced -> Unknown with the
// fatal flag set. The caller decides when a fence_on failure counts as
// persistent; Manager.PowerOn calls it after a single failed attempt.
func (t *Tracker) RecordFenceOnPersistentFailure(hostID string) {
	h, ok := t.Get(hostID)
	if !ok {
		return
	}
	h.mu.Lock()
	prev := h.view
	h.view = ViewUnknown
	h.fatal = true
	h.mu.Unlock()
	logTransition(hostID, prev, ViewUnknown)
	updateHostMetric(hostID, ViewUnknown)
}

// IsFatal reports whether the host's last fence_on failed persistently —
// resources bound to it must be treated Unrunnable until operator
// intervention.
func (t *Tracker) IsFatal(hostID string) bool {
	h, ok := t.Get(hostID)
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fatal
}

func logTransition(hostID string, from, to View) {
	log.WithHost(hostID).Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("host view transition")
}

func updateHostMetric(hostID string, active View) {
	for _, v := range []View{ViewUnknown, ViewReachable, ViewUnreachable, ViewFenced, ViewPoweringOn} {
		val := 0.0
		if v == active {
			val = 1.0
		}
		metrics.HostView.WithLabelValues(hostID, string(v)).Set(val)
	}
}
