package distribution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/cortexproject/resultdist/pkg/jobs"
	"github.com/cortexproject/resultdist/pkg/util"
)

// Transport delivers pages to downstream nodes.
type Transport interface {
	// Send delivers req to node. A nil error acknowledges the page; a
	// rejection is reported as a non temporary *TransportFailure.
	Send(ctx context.Context, node string, req *Request) error
}

// KillPropagator broadcasts the kill of a job to every node taking part in
// it. Delivery is best effort.
type KillPropagator interface {
	BroadcastKill(ctx context.Context, jobID jobs.JobID, reason string)
}

// RowConsumer is what an upstream phase pushes its rows into.
type RowConsumer interface {
	Accept(ctx context.Context, row Row) error
	Finish(ctx context.Context) error
	Fail(err error)

	// Done is closed once the consumer reached a terminal state; Err then
	// reports nil on success or the first failure observed.
	Done() <-chan struct{}
	Err() error
}

// State is the lifecycle state of a DistributingConsumer.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type bucketState int

const (
	bucketAccumulating bucketState = iota
	bucketFlushPending
	bucketFinished
	bucketFailed
)

// bucket is the stream state towards one downstream node. A bucket has at
// most one page in flight.
type bucket struct {
	idx   int
	node  string
	state bucketState
	rows  []Row

	// acked is closed when the page in flight has been answered.
	acked chan struct{}
	// lastParked is set when Finish found a page in flight; the last page
	// is sent as soon as that one is acknowledged.
	lastParked bool
	lastSent   bool
}

// DistributingConsumer pages the rows it accepts out to the nodes of the
// downstream phase, one bucket per node.
type DistributingConsumer struct {
	cfg       Config
	key       jobs.PhaseKey
	inputID   uint8
	bucketIdx int
	builder   *BucketBuilder
	transport Transport
	killer    KillPropagator
	registry  *jobs.Registry
	executor  util.AsyncExecutor
	metrics   *metrics
	logger    log.Logger

	// ctx scopes page sends and is cancelled once the consumer terminates.
	ctx    context.Context
	cancel context.CancelFunc
	kills  chan string
	done   chan struct{}

	mtx       sync.Mutex
	state     State
	err       error
	buckets   []*bucket
	remaining int
}

type consumerParams struct {
	cfg       Config
	jobID     jobs.JobID
	phaseID   jobs.PhaseID
	inputID   uint8
	bucketIdx int
	builder   *BucketBuilder
	nodes     []string
	transport Transport
	killer    KillPropagator
	registry  *jobs.Registry
	executor  util.AsyncExecutor
	metrics   *metrics
	logger    log.Logger
}

func newDistributingConsumer(parent context.Context, p consumerParams) *DistributingConsumer {
	if len(p.nodes) != p.builder.BucketCount() {
		panic(fmt.Sprintf("%d downstream nodes for %d buckets", len(p.nodes), p.builder.BucketCount()))
	}

	// Only the trace is inherited: the consumer outlives the caller's context.
	ctx := context.Background()
	if span := opentracing.SpanFromContext(parent); span != nil {
		ctx = opentracing.ContextWithSpan(ctx, span)
	}
	ctx, cancel := context.WithCancel(ctx)

	c := &DistributingConsumer{
		cfg:       p.cfg,
		key:       jobs.MakePhaseKey(p.jobID, p.phaseID),
		inputID:   p.inputID,
		bucketIdx: p.bucketIdx,
		builder:   p.builder,
		transport: p.transport,
		killer:    p.killer,
		registry:  p.registry,
		executor:  p.executor,
		metrics:   p.metrics,
		logger:    p.logger,
		ctx:       ctx,
		cancel:    cancel,
		kills:     make(chan string, 1),
		done:      make(chan struct{}),
		buckets:   make([]*bucket, len(p.nodes)),
		remaining: len(p.nodes),
	}
	for i, node := range p.nodes {
		c.buckets[i] = &bucket{idx: i, node: node}
	}

	c.metrics.consumersStarted.Inc()
	go c.watchKills()
	if c.registry != nil {
		c.registry.Register(c.key, c)
	}
	return c
}

// BucketBuilder returns the builder assigning rows to buckets.
func (c *DistributingConsumer) BucketBuilder() *BucketBuilder {
	return c.builder
}

// Nodes returns the downstream node of each bucket.
func (c *DistributingConsumer) Nodes() []string {
	nodes := make([]string, len(c.buckets))
	for i, b := range c.buckets {
		nodes[i] = b.node
	}
	return nodes
}

// State returns the current lifecycle state.
func (c *DistributingConsumer) State() State {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

// Done implements RowConsumer.
func (c *DistributingConsumer) Done() <-chan struct{} {
	return c.done
}

// Err implements RowConsumer.
func (c *DistributingConsumer) Err() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.err
}

// Accept routes row to its buckets. It blocks while a bucket that has to
// page out already has a page in flight. Rows accepted after the consumer
// aborted are dropped.
func (c *DistributingConsumer) Accept(ctx context.Context, row Row) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	switch c.state {
	case StateAborted:
		return nil
	case StateDraining, StateDone:
		return ErrConsumerFinished
	}

	targets, err := c.builder.Assign(row)
	if err != nil {
		c.abortLocked(err, reasonUpstream)
		return err
	}
	for _, idx := range targets {
		if err := c.addLocked(ctx, c.buckets[idx], row); err != nil {
			return err
		}
		if c.state == StateAborted {
			return nil
		}
	}
	return nil
}

func (c *DistributingConsumer) addLocked(ctx context.Context, b *bucket, row Row) error {
	b.rows = append(b.rows, row)
	for len(b.rows) >= c.cfg.PageSize {
		if b.state != bucketFlushPending {
			c.flushLocked(b, false)
			return nil
		}

		acked := b.acked
		c.mtx.Unlock()
		select {
		case <-acked:
		case <-c.done:
		case <-ctx.Done():
		}
		c.mtx.Lock()

		if c.state == StateAborted {
			return nil
		}
		if err := ctx.Err(); err != nil {
			c.abortLocked(err, reasonUpstream)
			return err
		}
	}
	return nil
}

// Finish sends the last page of every bucket, empty if need be, and waits
// until every downstream node acknowledged it.
func (c *DistributingConsumer) Finish(ctx context.Context) error {
	c.mtx.Lock()
	if c.state == StateRunning {
		c.state = StateDraining
		for _, b := range c.buckets {
			if b.state == bucketFlushPending {
				b.lastParked = true
				continue
			}
			c.flushLocked(b, true)
		}
	}
	c.mtx.Unlock()

	var expired <-chan time.Time
	if c.cfg.FinishTimeout > 0 {
		t := time.NewTimer(c.cfg.FinishTimeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		c.abort(ctx.Err(), reasonUpstream)
	case <-expired:
		c.abort(errFinishTimeout, reasonTimeout)
	}
	return c.Err()
}

// Wait blocks until the consumer terminates or ctx is done.
func (c *DistributingConsumer) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail aborts the stream because the upstream phase failed. Every
// downstream node still waiting is notified and the job is killed on all
// nodes. Only the first failure is kept.
func (c *DistributingConsumer) Fail(err error) {
	if err == nil {
		err = errors.New("upstream phase failed")
	}
	c.abort(err, reasonUpstream)
}

// Kill delivers a kill message. It never blocks; the consumer reacts to the
// first message only.
func (c *DistributingConsumer) Kill(reason string) {
	select {
	case c.kills <- reason:
	default:
	}
}

func (c *DistributingConsumer) watchKills() {
	select {
	case reason := <-c.kills:
		err := ErrCancelled
		if reason != "" {
			err = errors.Wrap(ErrCancelled, reason)
		}
		c.abort(err, reasonKilled)
	case <-c.done:
	}
	if c.registry != nil {
		c.registry.Unregister(c.key, c)
	}
}

func (c *DistributingConsumer) abort(err error, reason string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.abortLocked(err, reason)
}

// abortLocked moves the consumer to ABORTED unless it already terminated.
// Nothing done here blocks: notices and the kill broadcast run on the
// executor.
func (c *DistributingConsumer) abortLocked(err error, reason string) {
	if c.state == StateAborted || c.state == StateDone {
		return
	}
	c.state = StateAborted
	c.err = err
	c.metrics.consumersAborted.WithLabelValues(reason).Inc()

	if reason == reasonKilled {
		level.Debug(c.logger).Log("msg", "distributing consumer killed", "err", err)
	} else {
		level.Warn(c.logger).Log("msg", "distributing consumer aborted", "reason", reason, "err", err)
	}

	for _, b := range c.buckets {
		if b.state == bucketFinished {
			continue
		}
		b.state = bucketFailed
		b.rows = nil
		b.lastParked = false
		c.notifyAbort(b, err, reason == reasonKilled)
	}
	c.closeLocked()

	// A kill came from the broadcast already; everything else has to
	// reach the sibling consumers and merges of the job.
	if reason != reasonKilled && c.killer != nil {
		jobID := c.key.JobID()
		c.executor.Submit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AbortTimeout)
			defer cancel()
			c.killer.BroadcastKill(ctx, jobID, err.Error())
		})
	}
}

func (c *DistributingConsumer) closeLocked() {
	close(c.done)
	c.cancel()
}

func (c *DistributingConsumer) notifyAbort(b *bucket, cause error, killed bool) {
	req := &Request{
		JobID:     c.key.JobID(),
		PhaseID:   c.key.PhaseID(),
		InputID:   c.inputID,
		BucketIdx: c.bucketIdx,
		Rows:      []Row{},
		IsLast:    true,
		Failure:   cause.Error(),
		Killed:    killed,
	}
	node := b.node
	c.executor.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AbortTimeout)
		defer cancel()
		if err := c.transport.Send(ctx, node, req); err != nil {
			c.metrics.abortNotices.WithLabelValues(outcomeFailed).Inc()
			level.Debug(c.logger).Log("msg", "failed to notify downstream node of abort", "node", node, "err", err)
			return
		}
		c.metrics.abortNotices.WithLabelValues(outcomeAck).Inc()
	})
}

func (c *DistributingConsumer) flushLocked(b *bucket, last bool) {
	rows := b.rows
	if rows == nil {
		rows = []Row{}
	}
	req := &Request{
		JobID:     c.key.JobID(),
		PhaseID:   c.key.PhaseID(),
		InputID:   c.inputID,
		BucketIdx: c.bucketIdx,
		Rows:      rows,
		IsLast:    last,
	}
	b.rows = nil
	b.state = bucketFlushPending
	b.acked = make(chan struct{})
	b.lastParked = false
	b.lastSent = last

	c.metrics.pagesInFlight.Inc()
	c.executor.Submit(func() {
		start := time.Now()
		err := c.deliver(b, req)
		c.metrics.sendDuration.Observe(time.Since(start).Seconds())
		c.onResponse(b, req, err)
	})
}

// deliver sends a page, retrying transient failures.
func (c *DistributingConsumer) deliver(b *bucket, req *Request) error {
	span, ctx := opentracing.StartSpanFromContext(c.ctx, "DistributingConsumer.deliver")
	defer span.Finish()
	span.SetTag("node", b.node)
	span.SetTag("rows", len(req.Rows))
	span.SetTag("last", req.IsLast)

	backoff := util.NewBackoff(c.cfg.backoffConfig(), c.done)
	for {
		sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
		err := c.transport.Send(sendCtx, b.node, req)
		cancel()
		if err == nil || !IsRetryable(err) {
			return err
		}

		backoff.Wait()
		if !backoff.Ongoing() {
			return err
		}
		c.metrics.sendRetries.Inc()
		level.Warn(c.logger).Log("msg", "sending page failed, retrying", "node", b.node, "bucket", b.idx, "retry", backoff.NumRetries(), "err", err)
	}
}

func (c *DistributingConsumer) onResponse(b *bucket, req *Request, err error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.metrics.pagesInFlight.Dec()
	close(b.acked)

	if c.state == StateAborted {
		c.metrics.pagesSent.WithLabelValues(outcomeAborted).Inc()
		return
	}

	if err != nil {
		var tf *TransportFailure
		if !errors.As(err, &tf) {
			tf = &TransportFailure{Node: b.node, Temporary: IsRetryable(err), Err: err}
			err = tf
		}
		if tf.Temporary {
			c.metrics.pagesSent.WithLabelValues(outcomeFailed).Inc()
		} else {
			c.metrics.pagesSent.WithLabelValues(outcomeRejected).Inc()
		}
		c.abortLocked(err, reasonTransport)
		return
	}

	c.metrics.pagesSent.WithLabelValues(outcomeAck).Inc()
	c.metrics.rowsSent.Add(float64(len(req.Rows)))

	if b.lastSent {
		b.state = bucketFinished
		c.remaining--
		if c.remaining == 0 {
			c.state = StateDone
			c.metrics.consumersDone.Inc()
			c.closeLocked()
		}
		return
	}

	b.state = bucketAccumulating
	switch {
	case b.lastParked:
		c.flushLocked(b, true)
	case len(b.rows) >= c.cfg.PageSize:
		c.flushLocked(b, false)
	}
}
