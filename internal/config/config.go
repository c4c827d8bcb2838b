// Package config loads the TOML cluster configuration file into the
// immutable startup snapshot described in spec.md §9 ("Global
// configuration"): hosts, resource groups, and the manage_resources flag,
// validated once at startup and never mutated afterward.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/noahj-LANL/halo/internal/haloerr"
	"github.com/noahj-LANL/halo/internal/hoststate"
	"github.com/noahj-LANL/halo/internal/resourcegroup"
)

// DefaultPath is HALO_CONFIG's default when unset.
const DefaultPath = "/etc/halo/halo.conf"

// File is the raw TOML document shape.
type File struct {
	ClusterName     string         `toml:"cluster_name"`
	ManageResources bool           `toml:"manage_resources"`
	Hosts           []HostFile     `toml:"host"`
	Groups          []GroupFile    `toml:"group"`
}

type HostFile struct {
	HostID         string            `toml:"id"`
	NetworkAddress string            `toml:"address"`
	RPCPort        int               `toml:"rpc_port"`
	FenceAgentPath string            `toml:"fence_agent"`
	FenceParams    map[string]string `toml:"fence_params"`
}

type GroupFile struct {
	GroupID   string         `toml:"id"`
	Resources []ResourceFile `toml:"resource"`
}

type ResourceFile struct {
	ResourceID string            `toml:"id"`
	Kind       string            `toml:"kind"`
	Params     map[string]string `toml:"params"`
	ParamOrder []string          `toml:"param_order"`
	HomeHost   string            `toml:"home_host"`
	AwayHost   string            `toml:"away_host"`
	Parent     string            `toml:"parent"`
}

// Cluster is the validated, in-memory configuration snapshot.
type Cluster struct {
	Name            string
	ManageResources bool
	Hosts           []*hoststate.Host
	Groups          []*resourcegroup.Group
}

// Load reads and validates the TOML configuration file at path.
func Load(path string) (*Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, haloErr(err))
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, haloErr(err))
	}

	return build(&f)
}

func haloErr(err error) error {
	return fmt.Errorf("%w: %v", haloerr.ErrConfig, err)
}

func build(f *File) (*Cluster, error) {
	hostIDs := make(map[string]bool, len(f.Hosts))
	hosts := make([]*hoststate.Host, 0, len(f.Hosts))
	for _, hf := range f.Hosts {
		if hf.HostID == "" {
			return nil, fmt.Errorf("%w: host entry missing id", haloerr.ErrConfig)
		}
		if hostIDs[hf.HostID] {
			return nil, fmt.Errorf("%w: duplicate host id %q", haloerr.ErrConfig, hf.HostID)
		}
		hostIDs[hf.HostID] = true

		var fence *hoststate.FenceAgentConfig
		if hf.FenceAgentPath != "" {
			fence = &hoststate.FenceAgentConfig{AgentPath: hf.FenceAgentPath, Params: hf.FenceParams}
		}
		addr := fmt.Sprintf("%s:%d", hf.NetworkAddress, hf.RPCPort)
		hosts = append(hosts, hoststate.NewHost(hf.HostID, addr, hf.RPCPort, fence))
	}

	groups := make([]*resourcegroup.Group, 0, len(f.Groups))
	for _, gf := range f.Groups {
		group, err := buildGroup(gf, hostIDs)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}

	return &Cluster{
		Name:            f.ClusterName,
		ManageResources: f.ManageResources,
		Hosts:           hosts,
		Groups:          groups,
	}, nil
}

func buildGroup(gf GroupFile, hostIDs map[string]bool) (*resourcegroup.Group, error) {
	if gf.GroupID == "" {
		return nil, fmt.Errorf("%w: group entry missing id", haloerr.ErrConfig)
	}

	byID := make(map[string]*resourcegroup.Resource, len(gf.Resources))
	parentOf := make(map[string]string, len(gf.Resources))

	for _, rf := range gf.Resources {
		if rf.ResourceID == "" {
			return nil, fmt.Errorf("%w: group %s has a resource missing id", haloerr.ErrConfig, gf.GroupID)
		}
		if _, dup := byID[rf.ResourceID]; dup {
			return nil, fmt.Errorf("%w: duplicate resource id %q in group %s", haloerr.ErrConfig, rf.ResourceID, gf.GroupID)
		}
		if rf.HomeHost != "" && !hostIDs[rf.HomeHost] {
			return nil, fmt.Errorf("%w: resource %s names unknown home_host %q", haloerr.ErrConfig, rf.ResourceID, rf.HomeHost)
		}
		if rf.AwayHost != "" && !hostIDs[rf.AwayHost] {
			return nil, fmt.Errorf("%w: resource %s names unknown away_host %q", haloerr.ErrConfig, rf.ResourceID, rf.AwayHost)
		}

		params := orderedParams(rf)
		placement := resourcegroup.Placement{HomeHost: rf.HomeHost, AwayHost: rf.AwayHost}
		byID[rf.ResourceID] = resourcegroup.NewResource(rf.ResourceID, rf.Kind, params, placement)
		parentOf[rf.ResourceID] = rf.Parent
	}

	var root *resourcegroup.Resource
	all := make([]*resourcegroup.Resource, 0, len(byID))
	for id, r := range byID {
		all = append(all, r)
		parentID := parentOf[id]
		if parentID == "" {
			if root != nil {
				return nil, fmt.Errorf("%w: group %s has more than one root resource (%s and %s)", haloerr.ErrConfig, gf.GroupID, root.ResourceID, id)
			}
			root = r
			continue
		}
		parent, ok := byID[parentID]
		if !ok {
			return nil, fmt.Errorf("%w: resource %s names unknown parent %q", haloerr.ErrConfig, id, parentID)
		}
		r.Parent = parent
		parent.Children = append(parent.Children, r)
	}

	if root == nil {
		return nil, fmt.Errorf("%w: group %s has no root resource", haloerr.ErrConfig, gf.GroupID)
	}
	if err := checkAcyclic(root, make(map[string]bool)); err != nil {
		return nil, fmt.Errorf("%w: group %s: %v", haloerr.ErrConfig, gf.GroupID, err)
	}
	// A resource whose parent chain loops back on itself never reaches the
	// root, so the walk from the root misses it.
	reached := 0
	for stack := []*resourcegroup.Resource{root}; len(stack) > 0; {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		reached++
		stack = append(stack, r.Children...)
	}
	if reached != len(all) {
		return nil, fmt.Errorf("%w: group %s has a dependency cycle (%d of %d resources unreachable from root %s)", haloerr.ErrConfig, gf.GroupID, len(all)-reached, len(all), root.ResourceID)
	}

	return resourcegroup.NewGroup(gf.GroupID, root, all), nil
}

// checkAcyclic walks parent->children links depth-first from r and reports a
// resource met twice on one path. Resources on a parent cycle are not
// reachable from the root at all; buildGroup catches those by counting what
// the walk from the root reaches.
func checkAcyclic(r *resourcegroup.Resource, seen map[string]bool) error {
	if seen[r.ResourceID] {
		return fmt.Errorf("dependency cycle at resource %q", r.ResourceID)
	}
	seen[r.ResourceID] = true
	for _, c := range r.Children {
		if err := checkAcyclic(c, seen); err != nil {
			return err
		}
	}
	delete(seen, r.ResourceID)
	return nil
}

// orderedParams honors an explicit param_order when given (TOML maps have
// no defined iteration order) and otherwise falls back to whatever order
// go-toml/v2 happened to decode, which is acceptable for resource kinds
// that don't depend on OCF_RESKEY ordering.
func orderedParams(rf ResourceFile) []resourcegroup.Param {
	if len(rf.ParamOrder) > 0 {
		params := make([]resourcegroup.Param, 0, len(rf.ParamOrder))
		for _, k := range rf.ParamOrder {
			params = append(params, resourcegroup.Param{Key: k, Value: rf.Params[k]})
		}
		return params
	}
	params := make([]resourcegroup.Param, 0, len(rf.Params))
	for k, v := range rf.Params {
		params = append(params, resourcegroup.Param{Key: k, Value: v})
	}
	return params
}
