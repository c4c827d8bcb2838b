package resourcegroup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noahj-LANL/halo/internal/haloerr"
	"github.com/noahj-LANL/halo/internal/hoststate"
	"github.com/noahj-LANL/halo/internal/ocf"
	"github.com/noahj-LANL/halo/pkg/log"
	"github.com/noahj-LANL/halo/pkg/metrics"
)

// Op is one of the three remote operations the engine may issue.
type Op string

const (
	OpMonitor Op = "monitor"
	OpStart   Op = "start"
	OpStop    Op = "stop"
)

// RemoteOperator is the Manager-side view of the Remote Agent's operation
// RPC: dispatch op for resourceID on the host reachable at hostAddr.
type RemoteOperator interface {
	Operate(ctx context.Context, hostAddr string, resourceID string, kind string, op Op, params []Param) (code int, err error)
}

// HostQuery is the subset of the Host State Tracker the engine needs to
// decide placement and request fencing.
type HostQuery interface {
	Get(hostID string) (*hoststate.Host, bool)
	RecordProbeSuccess(hostID string)
	RecordProbeFailure(hostID string) bool
	RecordFenceOff(hostID string)
}

// Fencer is the subset of the Fencing Subsystem the engine needs.
type Fencer interface {
	Off(ctx context.Context, hostID string, cfg hoststate.FenceAgentConfig) error
}

// Auditor records transitions and fence actions to an append-only log. It
// is consulted only to write, never to decide — a nil Auditor simply means
// nothing is recorded.
type Auditor interface {
	RecordTransition(resourceID, from, to, hostID string) error
	RecordFence(hostID, action string, ok bool, detail string) error
}

// Config tunes the engine's loop, defaulted per spec.
type Config struct {
	TickInterval time.Duration // default 2s, the inter-tick sleep of §5
	RPCTimeout   time.Duration // default 10s, bounds a single operate call
}

func DefaultConfig() Config {
	return Config{TickInterval: 2 * time.Second, RPCTimeout: 10 * time.Second}
}

// Engine drives one Resource Group's tick loop. One Engine owns exactly one
// Group; the manager runs one Engine goroutine per group (§5).
type Engine struct {
	group    *Group
	cfg      Config
	hosts    HostQuery
	fencer   Fencer
	operator RemoteOperator
	auditor  Auditor // optional; nil disables audit recording

	manageResources bool // Cluster.manage_resources: false means observe-only

	mu sync.Mutex // serializes one tick at a time within this group

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewEngine(group *Group, cfg Config, hosts HostQuery, fencer Fencer, operator RemoteOperator, manageResources bool) *Engine {
	return &Engine{
		group:           group,
		cfg:             cfg,
		hosts:           hosts,
		fencer:          fencer,
		operator:        operator,
		manageResources: manageResources,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Resources returns every resource in this engine's group, pre-order. For
// status-reporting callers (the CLI's monitor snapshot), not the tick loop.
func (e *Engine) Resources() []*Resource {
	return e.group.PreOrder()
}

// SetAuditor attaches an audit log the engine records transitions and fence
// actions to. Optional; the zero value leaves auditing disabled.
func (e *Engine) SetAuditor(a Auditor) {
	e.auditor = a
}

// Start begins the tick loop in a new goroutine.
func (e *Engine) Start() {
	go e.run()
}

// Stop signals the loop to exit after its current tick completes. It does
// not cancel in-flight subprocess or RPC operations (§5 Cancellation).
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

func (e *Engine) run() {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Tick()
		case <-e.stopCh:
			return
		}
	}
}

// Tick performs one full probe/decide/act pass over the group, pre-order,
// then checks invariants. Exported so tests can drive ticks deterministically
// instead of waiting on the ticker.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TickDuration, e.group.GroupID)

	for _, r := range e.group.PreOrder() {
		e.tickResource(r)
	}
	e.checkInvariants()
}

func (e *Engine) tickResource(r *Resource) {
	logger := log.WithResource(r.ResourceID)

	r.setError(nil)
	observed, host := e.probe(r)

	target, targetHost := e.decide(r, observed)

	for _, s := range []Status{StatusUnknown, StatusCheckingHome, StatusRunningOnHome, StatusStopped, StatusCheckingAway, StatusRunningOnAway, StatusUnrunnable} {
		val := 0.0
		if s == observed {
			val = 1.0
		}
		metrics.ResourceState.WithLabelValues(r.ResourceID, string(s)).Set(val)
	}

	if observed == target {
		e.setStatus(r, observed, host)
		if observed.IsRunning() && e.manageResources {
			e.resolveSplitBrain(r, host, logger)
		}
		return
	}

	switch {
	case target == StatusStopped:
		e.actStop(r, host, logger)
	case target.IsRunning():
		e.actStart(r, targetHost, logger)
	case target == StatusUnrunnable:
		e.setStatus(r, StatusUnrunnable, "")
		logger.Warn().Msg("resource has no usable placement target")
	}
}

// probe issues monitor against the resource's currently-assumed host and
// maps the result to an observed status, per §4.5.1.
func (e *Engine) probe(r *Resource) (Status, string) {
	host := r.CurrentHost()
	if host == "" {
		// Nothing assumed yet; try home first.
		host = r.Placement.HomeHost
	}

	h, ok := e.hosts.Get(host)
	if !ok || !h.IsUsable() {
		return r.Status(), host
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RPCTimeout)
	defer cancel()

	code, err := e.operator.Operate(ctx, h.NetworkAddress, r.ResourceID, r.Kind, OpMonitor, r.Params)
	if err != nil {
		if haloerr.IsLiveness(err) {
			e.hosts.RecordProbeFailure(host)
		}
		metrics.ProbeTotal.WithLabelValues("rpc_failure").Inc()
		metrics.RPCErrorsTotal.WithLabelValues(host).Inc()
		return r.Status(), host
	}
	e.hosts.RecordProbeSuccess(host)

	switch code {
	case ocf.CodeSuccess:
		metrics.ProbeTotal.WithLabelValues("running").Inc()
		if host == r.Placement.HomeHost {
			return StatusRunningOnHome, host
		}
		return StatusRunningOnAway, host
	case ocf.CodeNotRunning:
		metrics.ProbeTotal.WithLabelValues("stopped").Inc()
		return StatusStopped, host
	default:
		metrics.ProbeTotal.WithLabelValues("ocf_error").Inc()
		r.setError(fmt.Errorf("monitor returned code %d: %w", code, haloerr.ErrOcf))
		return r.Status(), host
	}
}

// decide computes the target status and, if the target is Running, which
// host it should run on, per §4.5.2.
func (e *Engine) decide(r *Resource, observed Status) (Status, string) {
	if !e.manageResources {
		return observed, r.CurrentHost()
	}

	for _, ancestor := range Ancestors(r) {
		if !ancestor.Status().IsRunning() {
			return StatusStopped, ""
		}
	}

	if home, ok := e.hosts.Get(r.Placement.HomeHost); ok && home.IsUsable() {
		return StatusRunningOnHome, r.Placement.HomeHost
	}
	if r.Placement.AwayHost != "" {
		if away, ok := e.hosts.Get(r.Placement.AwayHost); ok && away.IsUsable() {
			return StatusRunningOnAway, r.Placement.AwayHost
		}
	}
	return StatusUnrunnable, ""
}

func (e *Engine) actStop(r *Resource, host string, logger zerolog.Logger) {
	h, ok := e.hosts.Get(host)
	if !ok {
		e.setStatus(r, StatusStopped, "")
		return
	}
	if !h.IsUsable() {
		// Stop is never best-effort: a resource believed running on an
		// unresponsive host must be fenced before any restart attempt.
		if !e.fenceHost(host, logger) {
			r.setError(fmt.Errorf("fence of host %s failed: %w", host, haloerr.ErrFence))
			e.setStatus(r, StatusUnrunnable, host)
			return
		}
		e.setStatus(r, StatusStopped, "")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RPCTimeout)
	defer cancel()
	code, err := e.operator.Operate(ctx, h.NetworkAddress, r.ResourceID, r.Kind, OpStop, r.Params)
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(host).Inc()
	}
	if err != nil || code != ocf.CodeSuccess {
		logger.Warn().Msg("stop failed, fencing host before giving up")
		if !e.fenceHost(host, logger) {
			r.setError(fmt.Errorf("fence of host %s failed: %w", host, haloerr.ErrFence))
			e.setStatus(r, StatusUnrunnable, host)
			return
		}
	}
	e.setStatus(r, StatusStopped, "")
}

func (e *Engine) actStart(r *Resource, host string, logger zerolog.Logger) {
	// Fence-before-start invariant: if the resource's prior host differs
	// from the target and is not known-stopped, resolve it first. Per
	// §4.5.3, fencing is reserved for a peer that cannot be confirmed
	// stopped — i.e. one that is not Reachable; a Reachable peer still
	// running the resource is stopped gracefully instead.
	prior := r.CurrentHost()
	if prior != "" && prior != host {
		if priorHost, ok := e.hosts.Get(prior); ok {
			fenced := true
			if !priorHost.IsUsable() {
				fenced = e.fenceHost(prior, logger)
			} else {
				// Prior host claims reachable; confirm via monitor that
				// it is not still running the resource before starting
				// elsewhere, to prevent split-brain.
				ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RPCTimeout)
				code, err := e.operator.Operate(ctx, priorHost.NetworkAddress, r.ResourceID, r.Kind, OpMonitor, r.Params)
				cancel()
				if err != nil {
					metrics.RPCErrorsTotal.WithLabelValues(prior).Inc()
				}
				switch {
				case err == nil && code == ocf.CodeNotRunning:
					// already stopped, nothing to resolve
				case err == nil && code == ocf.CodeSuccess:
					// still running on a reachable peer: stop it
					// gracefully rather than fence a healthy host.
					stopCtx, stopCancel := context.WithTimeout(context.Background(), e.cfg.RPCTimeout)
					stopCode, stopErr := e.operator.Operate(stopCtx, priorHost.NetworkAddress, r.ResourceID, r.Kind, OpStop, r.Params)
					stopCancel()
					if stopErr != nil {
						metrics.RPCErrorsTotal.WithLabelValues(prior).Inc()
					}
					if stopErr != nil || stopCode != ocf.CodeSuccess {
						logger.Warn().Msg("stop of prior host failed, fencing before giving up")
						fenced = e.fenceHost(prior, logger)
					}
				default:
					// peer's state could not be confirmed at all: fall
					// back to fencing.
					fenced = e.fenceHost(prior, logger)
				}
			}
			if !fenced {
				// A fatal fence failure on the prior host is fatal for
				// the resource: it must not be started anywhere else
				// while the old copy's state cannot be confirmed down.
				r.setError(fmt.Errorf("fence of prior host %s failed: %w", prior, haloerr.ErrFence))
				e.setStatus(r, StatusUnrunnable, prior)
				return
			}
		}
	}

	h, ok := e.hosts.Get(host)
	if !ok || !h.IsUsable() {
		e.setStatus(r, StatusUnrunnable, "")
		return
	}

	var transient Status
	if host == r.Placement.HomeHost {
		transient = StatusCheckingHome
	} else {
		transient = StatusCheckingAway
	}
	e.setStatus(r, transient, host)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RPCTimeout)
	defer cancel()
	code, err := e.operator.Operate(ctx, h.NetworkAddress, r.ResourceID, r.Kind, OpStart, r.Params)
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(host).Inc()
	}
	if err != nil || code != ocf.CodeSuccess {
		logger.Warn().Msg("start failed on target host")
		r.setError(fmt.Errorf("start returned code %d: %w", code, haloerr.ErrOcf))
		e.setStatus(r, StatusUnrunnable, "")
		return
	}

	if host == r.Placement.HomeHost {
		e.setStatus(r, StatusRunningOnHome, host)
	} else {
		e.setStatus(r, StatusRunningOnAway, host)
	}
}

// fenceHost attempts to fence hostID and reports whether it succeeded. A
// host with no configured fence agent is treated as successfully fenced —
// there is nothing more this engine can do to confirm it down — matching
// the teacher's "best effort, then proceed" posture for unconfigured
// peripherals.
func (e *Engine) fenceHost(hostID string, logger zerolog.Logger) bool {
	h, ok := e.hosts.Get(hostID)
	if !ok || h.FenceAgent == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := e.fencer.Off(ctx, hostID, *h.FenceAgent); err != nil {
		logger.Error().Err(err).Str("host_id", hostID).Msg("fatal fence failure")
		e.recordFence(hostID, "off", false, err.Error())
		return false
	}
	e.hosts.RecordFenceOff(hostID)
	e.recordFence(hostID, "off", true, "")
	return true
}

// setStatus transitions r and, if it actually changed state, records the
// transition to the audit log.
func (e *Engine) setStatus(r *Resource, status Status, host string) {
	prev := r.Status()
	r.transition(status, host)
	if prev == status {
		return
	}
	if e.auditor != nil {
		if err := e.auditor.RecordTransition(r.ResourceID, string(prev), string(status), host); err != nil {
			log.WithResource(r.ResourceID).Warn().Err(err).Msg("failed to record audit transition")
		}
	}
}

func (e *Engine) recordFence(hostID, action string, ok bool, detail string) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.RecordFence(hostID, action, ok, detail); err != nil {
		log.WithHost(hostID).Warn().Err(err).Msg("failed to record audit fence event")
	}
}

// resolveSplitBrain confirms, whenever a resource is confirmed Running on
// one side of its failover pair, that the other side is not also running
// it. If it is, home wins: the away copy is stopped. This is the engine's
// mutual-exclusion invariant made active rather than merely checked.
func (e *Engine) resolveSplitBrain(r *Resource, runningHost string, logger zerolog.Logger) {
	var other string
	switch runningHost {
	case r.Placement.HomeHost:
		other = r.Placement.AwayHost
	case r.Placement.AwayHost:
		other = r.Placement.HomeHost
	}
	if other == "" {
		return
	}

	h, ok := e.hosts.Get(other)
	if !ok || !h.IsUsable() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RPCTimeout)
	code, err := e.operator.Operate(ctx, h.NetworkAddress, r.ResourceID, r.Kind, OpMonitor, r.Params)
	cancel()
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(other).Inc()
	}
	if err != nil || code != ocf.CodeSuccess {
		return // other side is not running; no split-brain
	}

	// Away is also running while home is confirmed running: invariant
	// violation. Home wins — stop the away copy now rather than waiting
	// for the next natural tick to notice.
	if runningHost != r.Placement.HomeHost {
		return // running on away while home is usable and running: the
		// next tick's decide() targets home, and actStart stops this copy
	}

	logger.Error().Str("other_host", other).
		Msg("invariant violation: resource running on both home and away, stopping away copy")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), e.cfg.RPCTimeout)
	defer stopCancel()
	if _, err := e.operator.Operate(stopCtx, h.NetworkAddress, r.ResourceID, r.Kind, OpStop, r.Params); err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(other).Inc()
		logger.Error().Err(err).Msg("failed to stop away copy during split-brain resolution; fencing")
		e.fenceHost(other, logger)
	}
}

// checkInvariants logs dependency violations (a child observed Running
// while its parent is not) so an operator can see the anomaly; the actual
// corrective stop-child-then-parent happens naturally on the next tick's
// decide() once the parent's non-Running status propagates.
func (e *Engine) checkInvariants() {
	for _, r := range e.group.PreOrder() {
		status := r.Status()
		for _, child := range r.Children {
			if child.Status().IsRunning() && !status.IsRunning() {
				log.WithResource(child.ResourceID).Warn().
					Str("parent", r.ResourceID).
					Msg("dependency violation: child running while parent stopped")
			}
		}
	}
}
