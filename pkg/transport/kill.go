package transport

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cortexproject/resultdist/pkg/jobs"
	"github.com/cortexproject/resultdist/pkg/topology"
	"github.com/cortexproject/resultdist/pkg/util/concurrency"
)

// Members is the view of the cluster kills are broadcast to.
type Members interface {
	ActiveNodes() []topology.NodeDesc
}

// KillBroadcaster kills a job on this node and on every other active node.
// It implements distribution.KillPropagator.
type KillBroadcaster struct {
	localNode   string
	members     Members
	client      *Client
	registry    *jobs.Registry
	concurrency int
	logger      log.Logger

	failures prometheus.Counter
}

// NewKillBroadcaster makes a new KillBroadcaster sending to at most
// concurrency nodes at a time; 0 means all of them.
func NewKillBroadcaster(localNode string, members Members, client *Client, registry *jobs.Registry, concurrency int, reg prometheus.Registerer, logger log.Logger) *KillBroadcaster {
	return &KillBroadcaster{
		localNode:   localNode,
		members:     members,
		client:      client,
		registry:    registry,
		concurrency: concurrency,
		logger:      logger,
		failures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "distribution_kill_broadcast_failures_total",
			Help:      "Total number of kill broadcasts that did not reach every node.",
		}),
	}
}

// BroadcastKill implements distribution.KillPropagator. Failures are logged
// and counted, never returned.
func (b *KillBroadcaster) BroadcastKill(ctx context.Context, jobID jobs.JobID, reason string) {
	killed := b.registry.KillJob(jobID, reason)

	var peers []string
	for _, n := range b.members.ActiveNodes() {
		if n.ID != b.localNode {
			peers = append(peers, n.ID)
		}
	}
	level.Debug(b.logger).Log("msg", "broadcasting job kill", "job", jobID, "local_components", killed, "peers", len(peers))

	err := concurrency.ForEachNode(ctx, peers, b.concurrency, func(ctx context.Context, node string) error {
		return b.client.Kill(ctx, node, jobID, reason)
	})
	if err != nil {
		b.failures.Inc()
		level.Warn(b.logger).Log("msg", "failed to broadcast job kill", "job", jobID, "err", err)
	}
}
