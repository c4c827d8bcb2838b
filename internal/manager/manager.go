// Package manager owns the set of Resource Group Engines for one HALO
// manager process and answers the Manager↔CLI Control RPC surface (§6):
// a read-only cluster snapshot plus the three power-control verbs.
package manager

import (
	"context"
	"fmt"

	"github.com/noahj-LANL/halo/internal/fencing"
	"github.com/noahj-LANL/halo/internal/hoststate"
	"github.com/noahj-LANL/halo/internal/resourcegroup"
	"github.com/noahj-LANL/halo/internal/rpc"
	"github.com/noahj-LANL/halo/pkg/log"
)

// FenceController is the subset of the Fencing Subsystem the manager needs
// to answer CLI power-control requests directly (as opposed to the
// Resource Group Engine's own fence-before-start/stop calls).
type FenceController interface {
	Off(ctx context.Context, hostID string, cfg hoststate.FenceAgentConfig) error
	On(ctx context.Context, hostID string, cfg hoststate.FenceAgentConfig) error
	Status(ctx context.Context, cfg hoststate.FenceAgentConfig) (fencing.PowerState, error)
}

// Manager owns every Resource Group Engine for one cluster process and
// answers the CLI control surface. Each engine runs its own tick loop; the
// Manager itself holds no mutable state beyond the slice of engines it
// started.
type Manager struct {
	clusterName string
	engines     []*resourcegroup.Engine
	hosts       *hoststate.Tracker
	fencer      FenceController
}

func New(clusterName string, hosts *hoststate.Tracker, fencer FenceController) *Manager {
	return &Manager{clusterName: clusterName, hosts: hosts, fencer: fencer}
}

// AddEngine registers an engine this manager owns and starts its tick loop.
func (m *Manager) AddEngine(e *resourcegroup.Engine) {
	m.engines = append(m.engines, e)
	e.Start()
}

// Stop halts every owned engine's tick loop.
func (m *Manager) Stop() {
	for _, e := range m.engines {
		e.Stop()
	}
}

// Monitor implements rpc.ControlServer: a full snapshot of every resource
// across every owned group, plus every tracked host's view.
func (m *Manager) Monitor(ctx context.Context, req *rpc.MonitorRequest) (*rpc.ClusterSnapshot, error) {
	snap := &rpc.ClusterSnapshot{ClusterName: m.clusterName}

	for _, e := range m.engines {
		for _, r := range e.Resources() {
			rs := r.Snapshot()
			args := make([]rpc.KV, 0, len(rs.Params))
			for _, p := range rs.Params {
				args = append(args, rpc.KV{Key: p.Key, Value: p.Value})
			}
			snap.Resources = append(snap.Resources, rpc.ResourceSnapshot{
				ResourceID:       rs.ResourceID,
				Kind:             rs.Kind,
				Params:           args,
				Status:           string(rs.Status),
				CurrentHost:      rs.CurrentHost,
				LastError:        rs.LastError,
				LastTransitionAt: rs.LastTransitionAt,
			})
		}
	}

	for hostID, view := range m.hosts.Snapshot() {
		snap.Hosts = append(snap.Hosts, rpc.HostSnapshot{HostID: hostID, View: string(view)})
	}

	return snap, nil
}

// PowerStatus implements rpc.ControlServer's fence_status verb.
func (m *Manager) PowerStatus(ctx context.Context, req *rpc.PowerRequest) (*rpc.PowerResponse, error) {
	h, ok := m.hosts.Get(req.HostID)
	if !ok {
		return &rpc.PowerResponse{Ok: false, Diagnostic: fmt.Sprintf("unknown host %q", req.HostID)}, nil
	}
	if h.FenceAgent == nil {
		return &rpc.PowerResponse{Ok: false, Diagnostic: "host has no fence agent configured"}, nil
	}
	state, err := m.fencer.Status(ctx, *h.FenceAgent)
	if err != nil {
		return &rpc.PowerResponse{Ok: false, Diagnostic: err.Error()}, nil
	}
	return &rpc.PowerResponse{Ok: true, Diagnostic: string(state)}, nil
}

// PowerOff implements rpc.ControlServer's fence_off verb.
func (m *Manager) PowerOff(ctx context.Context, req *rpc.PowerRequest) (*rpc.PowerResponse, error) {
	h, ok := m.hosts.Get(req.HostID)
	if !ok || h.FenceAgent == nil {
		return &rpc.PowerResponse{Ok: false, Diagnostic: "host unknown or unfenceable"}, nil
	}
	if err := m.fencer.Off(ctx, req.HostID, *h.FenceAgent); err != nil {
		log.WithHost(req.HostID).Error().Err(err).Msg("cli-requested fence_off failed")
		return &rpc.PowerResponse{Ok: false, Diagnostic: err.Error()}, nil
	}
	m.hosts.RecordFenceOff(req.HostID)
	return &rpc.PowerResponse{Ok: true}, nil
}

// PowerOn implements rpc.ControlServer's fence_on verb. A successful
// fence_on does not itself trigger a start attempt; the resource's next
// natural tick will observe the recovered host and decide placement.
func (m *Manager) PowerOn(ctx context.Context, req *rpc.PowerRequest) (*rpc.PowerResponse, error) {
	h, ok := m.hosts.Get(req.HostID)
	if !ok || h.FenceAgent == nil {
		return &rpc.PowerResponse{Ok: false, Diagnostic: "host unknown or unfenceable"}, nil
	}
	m.hosts.RecordFenceOnAttempt(req.HostID)
	if err := m.fencer.On(ctx, req.HostID, *h.FenceAgent); err != nil {
		m.hosts.RecordFenceOnPersistentFailure(req.HostID)
		log.WithHost(req.HostID).Error().Err(err).Msg("cli-requested fence_on failed")
		return &rpc.PowerResponse{Ok: false, Diagnostic: err.Error()}, nil
	}
	return &rpc.PowerResponse{Ok: true}, nil
}
