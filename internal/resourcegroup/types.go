// Package resourcegroup implements the Resource Group Engine: the ordered
// dependency tree of resources, their state machine, and the tick
// (probe/decide/act) loop that drives them toward the right host.
package resourcegroup

import (
	"sync"
	"time"
)

// Status is a resource's observed status.
type Status string

const (
	StatusUnknown       Status = "unknown"
	StatusCheckingHome  Status = "checkingHome"
	StatusRunningOnHome Status = "runningOnHome"
	StatusStopped       Status = "stopped"
	StatusCheckingAway  Status = "checkingAway"
	StatusRunningOnAway Status = "runningOnAway"
	StatusUnrunnable    Status = "unrunnable"
)

// IsRunning reports whether status is one of the two "running" statuses.
func (s Status) IsRunning() bool {
	return s == StatusRunningOnHome || s == StatusRunningOnAway
}

// IsTransient reports whether status is a checking-in-flight state.
func (s Status) IsTransient() bool {
	return s == StatusCheckingHome || s == StatusCheckingAway
}

// Param is a single ordered OCF parameter for a resource.
type Param struct {
	Key   string
	Value string
}

// Placement declares the failover pair for a resource.
type Placement struct {
	HomeHost string
	AwayHost string // optional; empty means no failover target
}

// Resource is a named, managed unit.
type Resource struct {
	ResourceID string
	Kind       string // OCF resource-agent script name, e.g. "lustre"
	Params     []Param
	Placement  Placement

	Parent   *Resource
	Children []*Resource

	mu               sync.Mutex
	status           Status
	currentHost      string // "" means none
	epoch            uint64
	lastError        string
	lastTransitionAt time.Time
}

// NewResource constructs a Resource in the Unknown status.
func NewResource(id, kind string, params []Param, placement Placement) *Resource {
	return &Resource{
		ResourceID: id,
		Kind:       kind,
		Params:     params,
		Placement:  placement,
		status:     StatusUnknown,
	}
}

// Snapshot is a read-only copy of a resource's mutable state, safe to hand
// to the RPC server task without sharing the live struct.
type Snapshot struct {
	ResourceID       string
	Kind             string
	Params           []Param
	Status           Status
	CurrentHost      string
	Epoch            uint64
	LastError        string
	LastTransitionAt time.Time
}

func (r *Resource) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Resource) CurrentHost() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentHost
}

// transition sets a new status/host pair, bumping the epoch and recording
// the transition time. Called only by the owning engine's tick goroutine.
func (r *Resource) transition(status Status, host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.currentHost = host
	r.epoch++
	r.lastTransitionAt = time.Now()
}

func (r *Resource) setError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.lastError = ""
		return
	}
	r.lastError = err.Error()
}

func (r *Resource) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	params := make([]Param, len(r.Params))
	copy(params, r.Params)
	return Snapshot{
		ResourceID:       r.ResourceID,
		Kind:             r.Kind,
		Params:           params,
		Status:           r.status,
		CurrentHost:      r.currentHost,
		Epoch:            r.epoch,
		LastError:        r.lastError,
		LastTransitionAt: r.lastTransitionAt,
	}
}

// Group is an ordered dependency tree of resources rooted at Root.
type Group struct {
	GroupID string
	Root    *Resource

	// all is the full node set as passed to NewGroup. PreOrder and
	// PostOrder do not read it; they walk the tree from Root.
	all []*Resource
}

// NewGroup builds a Group from a root and the full set of resources in the
// tree (including the root).
func NewGroup(groupID string, root *Resource, all []*Resource) *Group {
	return &Group{GroupID: groupID, Root: root, all: all}
}

// PreOrder returns resources in start order: parents before children.
func (g *Group) PreOrder() []*Resource {
	var out []*Resource
	var walk func(*Resource)
	walk = func(r *Resource) {
		out = append(out, r)
		for _, c := range r.Children {
			walk(c)
		}
	}
	walk(g.Root)
	return out
}

// PostOrder returns resources in stop order: children before parents.
func (g *Group) PostOrder() []*Resource {
	pre := g.PreOrder()
	post := make([]*Resource, len(pre))
	for i, r := range pre {
		post[len(pre)-1-i] = r
	}
	return post
}

// Ancestors returns r's ancestor chain, closest first.
func Ancestors(r *Resource) []*Resource {
	var out []*Resource
	for p := r.Parent; p != nil; p = p.Parent {
		out = append(out, p)
	}
	return out
}
