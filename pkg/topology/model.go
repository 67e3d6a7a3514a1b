package topology

import (
	"fmt"
	"strings"
	"time"
)

// NodeState is the membership state of a node in the cluster.
type NodeState int

const (
	ACTIVE NodeState = iota
	JOINING
	LEAVING
	LEFT
)

var nodeStateNames = map[NodeState]string{
	ACTIVE:  "ACTIVE",
	JOINING: "JOINING",
	LEAVING: "LEAVING",
	LEFT:    "LEFT",
}

func (s NodeState) String() string {
	if name, ok := nodeStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NodeState(%d)", int(s))
}

// ParseNodeState parses the textual form of a NodeState.
func ParseNodeState(s string) (NodeState, error) {
	for state, name := range nodeStateNames {
		if strings.EqualFold(name, s) {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown node state %q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (s NodeState) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *NodeState) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	state, err := ParseNodeState(str)
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// NodeDesc describes a member of the cluster.
type NodeDesc struct {
	ID    string    `yaml:"id"`
	Addr  string    `yaml:"addr"`
	State NodeState `yaml:"state"`

	// Timestamp is the unix time of the last heartbeat, zero if unknown.
	Timestamp int64 `yaml:"timestamp,omitempty"`
}

// IsHealthy is true when the node is ACTIVE and heartbeating within timeout.
// A zero timeout or an unknown heartbeat disables the heartbeat check.
func (n NodeDesc) IsHealthy(heartbeatTimeout time.Duration, now time.Time) bool {
	if n.State != ACTIVE {
		return false
	}
	if heartbeatTimeout <= 0 || n.Timestamp == 0 {
		return true
	}
	return now.Sub(time.Unix(n.Timestamp, 0)) <= heartbeatTimeout
}

// ByID is a sortable list of NodeDescs
type ByID []NodeDesc

func (ns ByID) Len() int           { return len(ns) }
func (ns ByID) Swap(i, j int)      { ns[i], ns[j] = ns[j], ns[i] }
func (ns ByID) Less(i, j int) bool { return ns[i].ID < ns[j].ID }
