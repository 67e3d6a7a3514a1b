package distribution

import (
	"context"
	"sort"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cortexproject/resultdist/pkg/jobs"
	"github.com/cortexproject/resultdist/pkg/topology"
	"github.com/cortexproject/resultdist/pkg/util"
	util_log "github.com/cortexproject/resultdist/pkg/util/log"
)

// Factory builds the DistributingConsumer of a phase whose output goes to
// another phase.
type Factory struct {
	cfg       Config
	localNode string
	resolver  topology.Resolver
	transport Transport
	killer    KillPropagator
	registry  *jobs.Registry
	executor  util.AsyncExecutor
	metrics   *metrics
	logger    log.Logger
}

// NewFactory makes a new Factory. localNode is the id of this node in the
// cluster topology.
func NewFactory(cfg Config, localNode string, resolver topology.Resolver, transport Transport, killer KillPropagator, registry *jobs.Registry, reg prometheus.Registerer, logger log.Logger) *Factory {
	var executor util.AsyncExecutor
	if cfg.SendWorkers > 0 {
		executor = util.NewWorkerPool("distribution", cfg.SendWorkers, reg)
	} else {
		executor = util.NewGoroutineExecutor()
	}

	return &Factory{
		cfg:       cfg,
		localNode: localNode,
		resolver:  resolver,
		transport: transport,
		killer:    killer,
		registry:  registry,
		executor:  executor,
		metrics:   newMetrics(reg),
		logger:    logger,
	}
}

// Stop releases the send workers. Consumers still running keep sending on
// fallback goroutines.
func (f *Factory) Stop() {
	f.executor.Stop()
}

// Create returns the consumer distributing the rows op.Phase produces on
// this node to the nodes of op.Downstream. A pageSize of zero or less uses
// the configured page size.
func (f *Factory) Create(ctx context.Context, op jobs.NodeOperation, info Info, jobID jobs.JobID, pageSize int) (*DistributingConsumer, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	downstream := op.Downstream
	if len(downstream.Nodes) == 0 {
		return nil, &ResolutionError{Phase: downstream.ID, Err: errors.New("phase has no execution nodes")}
	}
	nodes, err := f.resolver.ResolveNodes(ctx, downstream.Nodes)
	if err != nil {
		return nil, &ResolutionError{Phase: downstream.ID, Err: err}
	}
	if len(nodes) == 0 {
		return nil, &ResolutionError{Phase: downstream.ID, Err: errors.New("phase has no execution nodes")}
	}
	// Every node computes the same bucket to node mapping.
	sort.Sort(topology.ByID(nodes))

	nodeIDs := make([]string, len(nodes))
	for i, n := range nodes {
		nodeIDs[i] = n.ID
	}

	var builder *BucketBuilder
	switch {
	case len(nodeIDs) == 1:
		builder = NewBroadcastBucketBuilder(1)
	case info.Kind == Modulo:
		builder = NewModuloBucketBuilder(len(nodeIDs), info.PartitionColumn)
	default:
		builder = NewBroadcastBucketBuilder(len(nodeIDs))
	}

	cfg := f.cfg
	if pageSize > 0 {
		cfg.PageSize = pageSize
	}

	logger := util_log.WithJob(f.logger, jobID, int32(downstream.ID))
	level.Debug(logger).Log("msg", "creating distributing consumer", "distribution", info, "buckets", builder.BucketCount(), "nodes", len(nodeIDs), "page_size", cfg.PageSize)

	return newDistributingConsumer(ctx, consumerParams{
		cfg:       cfg,
		jobID:     jobID,
		phaseID:   downstream.ID,
		inputID:   op.DownstreamInputID,
		bucketIdx: upstreamBucketIdx(op.Phase.Nodes, f.localNode),
		builder:   builder,
		nodes:     nodeIDs,
		transport: f.transport,
		killer:    f.killer,
		registry:  f.registry,
		executor:  f.executor,
		metrics:   f.metrics,
		logger:    logger,
	}), nil
}

// upstreamBucketIdx is the position of the local node among the sorted
// producers of the upstream phase, 0 if it is not one of them.
func upstreamBucketIdx(producers []string, localNode string) int {
	sorted := append([]string(nil), producers...)
	sort.Strings(sorted)
	idx := 0
	for i, n := range sorted {
		if i > 0 && sorted[i-1] == n {
			continue
		}
		if n == localNode {
			return idx
		}
		idx++
	}
	return 0
}
