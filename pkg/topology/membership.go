package topology

import (
	"context"
	"flag"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrNodeUnavailable is returned when a node is unknown to the cluster or
// not able to take part in query execution.
var ErrNodeUnavailable = errors.New("node unavailable")

// Resolver turns the node identifiers of an execution phase into the
// members of the cluster that will run it.
type Resolver interface {
	// ResolveNodes returns the descriptors of the given nodes sorted by ID.
	ResolveNodes(ctx context.Context, nodeIDs []string) ([]NodeDesc, error)
}

// Config is the static membership of the cluster.
type Config struct {
	Nodes            []NodeDesc    `yaml:"nodes"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.DurationVar(&cfg.HeartbeatTimeout, "topology.heartbeat-timeout", 0, "Nodes whose last heartbeat is older than this are considered unavailable. 0 disables the check.")
}

// Validate the config.
func (cfg *Config) Validate() error {
	seen := make(map[string]struct{}, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if n.ID == "" {
			return errors.New("node with empty id")
		}
		if _, ok := seen[n.ID]; ok {
			return errors.Errorf("duplicate node %q", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

// Membership is the local view of the cluster topology.
type Membership struct {
	mtx              sync.RWMutex
	nodes            map[string]NodeDesc
	heartbeatTimeout time.Duration
	now              func() time.Time
}

// NewMembership makes a new Membership from cfg.
func NewMembership(cfg Config) *Membership {
	m := &Membership{
		nodes:            make(map[string]NodeDesc, len(cfg.Nodes)),
		heartbeatTimeout: cfg.HeartbeatTimeout,
		now:              time.Now,
	}
	for _, n := range cfg.Nodes {
		m.nodes[n.ID] = n
	}
	return m
}

// Upsert adds or replaces a node.
func (m *Membership) Upsert(n NodeDesc) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.nodes[n.ID] = n
}

// Remove drops a node from the cluster.
func (m *Membership) Remove(id string) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	delete(m.nodes, id)
}

// Node returns the descriptor of a node.
func (m *Membership) Node(id string) (NodeDesc, bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// Addr returns the address of a healthy node.
func (m *Membership) Addr(id string) (string, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	n, err := m.healthyNodeLocked(id)
	if err != nil {
		return "", err
	}
	return n.Addr, nil
}

// ActiveNodes returns all healthy nodes sorted by ID.
func (m *Membership) ActiveNodes() []NodeDesc {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	now := m.now()
	result := make([]NodeDesc, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.IsHealthy(m.heartbeatTimeout, now) {
			result = append(result, n)
		}
	}
	sort.Sort(ByID(result))
	return result
}

// ResolveNodes implements Resolver.
func (m *Membership) ResolveNodes(ctx context.Context, nodeIDs []string) ([]NodeDesc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mtx.RLock()
	defer m.mtx.RUnlock()

	result := make([]NodeDesc, 0, len(nodeIDs))
	seen := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		n, err := m.healthyNodeLocked(id)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	sort.Sort(ByID(result))
	return result, nil
}

func (m *Membership) healthyNodeLocked(id string) (NodeDesc, error) {
	n, ok := m.nodes[id]
	if !ok {
		return NodeDesc{}, errors.Wrapf(ErrNodeUnavailable, "node %q is not part of the cluster", id)
	}
	if !n.IsHealthy(m.heartbeatTimeout, m.now()) {
		return NodeDesc{}, errors.Wrapf(ErrNodeUnavailable, "node %q is %s", id, n.State)
	}
	return n, nil
}
