package main

import (
	"flag"
	"os"

	"github.com/pkg/errors"
	"github.com/weaveworks/common/server"
	"gopkg.in/yaml.v2"

	"github.com/cortexproject/resultdist/pkg/distribution"
	"github.com/cortexproject/resultdist/pkg/topology"
	"github.com/cortexproject/resultdist/pkg/transport"
)

// Config is the root config of a resultdist node.
type Config struct {
	NodeID          string `yaml:"node_id"`
	MaxBufferedRows int    `yaml:"max_buffered_rows"`

	Server       server.Config       `yaml:"server"`
	Distribution distribution.Config `yaml:"distribution"`
	Transport    transport.Config    `yaml:"transport"`
	Topology     topology.Config     `yaml:"topology"`
}

// RegisterFlags registers flag.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.NodeID, "node.id", "", "Identifier of this node in the cluster topology.")
	f.IntVar(&c.MaxBufferedRows, "receiver.max-buffered-rows", 1000000, "Maximum number of rows buffered for one phase before pages are rejected. 0 for no limit.")

	c.Server.MetricsNamespace = "cortex"
	c.Server.ExcludeRequestInLog = true
	c.Server.RegisterFlags(f)
	c.Distribution.RegisterFlags(f)
	c.Transport.RegisterFlags(f)
	c.Topology.RegisterFlags(f)
}

// Validate the config and returns an error if the validation
// doesn't pass
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node id must be set")
	}
	if c.MaxBufferedRows < 0 {
		return errors.New("max buffered rows must not be negative")
	}
	if err := c.Distribution.Validate(); err != nil {
		return errors.Wrap(err, "invalid distribution config")
	}
	if err := c.Transport.Validate(); err != nil {
		return errors.Wrap(err, "invalid transport config")
	}
	if err := c.Topology.Validate(); err != nil {
		return errors.Wrap(err, "invalid topology config")
	}
	for _, n := range c.Topology.Nodes {
		if n.ID == c.NodeID {
			return nil
		}
	}
	return errors.Errorf("node %q is not part of the topology", c.NodeID)
}

// LoadConfig read YAML-formatted config from filename into cfg.
func LoadConfig(filename string, cfg *Config) error {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, "Error reading config file")
	}

	err = yaml.UnmarshalStrict(buf, cfg)
	if err != nil {
		return errors.Wrap(err, "Error parsing config file")
	}

	return nil
}
