package distribution

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/cortexproject/resultdist/pkg/jobs"
	"github.com/cortexproject/resultdist/pkg/util"
)

type sentPage struct {
	node string
	req  *Request
}

// mockTransport acknowledges every page unless respond says otherwise.
// Abort notices are recorded apart from data pages.
type mockTransport struct {
	mtx         sync.Mutex
	pages       []sentPage
	aborts      []sentPage
	calls       map[string]int
	inFlight    map[string]int
	maxInFlight map[string]int

	// respond is called with the 1-based number of data page sends to node.
	respond func(ctx context.Context, node string, attempt int, req *Request) error
	// gate, when set, holds every data page send until a token is received.
	gate chan struct{}
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		calls:       map[string]int{},
		inFlight:    map[string]int{},
		maxInFlight: map[string]int{},
	}
}

func (t *mockTransport) Send(ctx context.Context, node string, req *Request) error {
	if req.IsAbort() {
		t.mtx.Lock()
		t.aborts = append(t.aborts, sentPage{node: node, req: req})
		t.mtx.Unlock()
		return nil
	}

	t.mtx.Lock()
	t.calls[node]++
	attempt := t.calls[node]
	t.inFlight[node]++
	if t.inFlight[node] > t.maxInFlight[node] {
		t.maxInFlight[node] = t.inFlight[node]
	}
	t.mtx.Unlock()

	defer func() {
		t.mtx.Lock()
		t.inFlight[node]--
		t.mtx.Unlock()
	}()

	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var err error
	if t.respond != nil {
		err = t.respond(ctx, node, attempt, req)
	}
	if err == nil {
		t.mtx.Lock()
		t.pages = append(t.pages, sentPage{node: node, req: req})
		t.mtx.Unlock()
	}
	return err
}

func (t *mockTransport) pagesFor(node string) []*Request {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	var result []*Request
	for _, p := range t.pages {
		if p.node == node {
			result = append(result, p.req)
		}
	}
	return result
}

func (t *mockTransport) rowsFor(node string) []Row {
	var rows []Row
	for _, p := range t.pagesFor(node) {
		rows = append(rows, p.Rows...)
	}
	return rows
}

func (t *mockTransport) abortsFor(node string) []*Request {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	var result []*Request
	for _, p := range t.aborts {
		if p.node == node {
			result = append(result, p.req)
		}
	}
	return result
}

func (t *mockTransport) callsTo(node string) int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.calls[node]
}

func (t *mockTransport) maxInFlightTo(node string) int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.maxInFlight[node]
}

type mockKiller struct {
	broadcasts atomic.Int32
	lastJob    atomic.String
}

func (k *mockKiller) BroadcastKill(_ context.Context, jobID jobs.JobID, _ string) {
	k.broadcasts.Inc()
	k.lastJob.Store(jobID.String())
}

func testConfig() Config {
	return Config{
		PageSize:     DefaultPageSize,
		MaxRetries:   1,
		SendTimeout:  time.Second,
		AbortTimeout: time.Second,
		Backoff: util.BackoffConfig{
			MinBackoff: time.Millisecond,
			MaxBackoff: 5 * time.Millisecond,
		},
	}
}

type consumerOpts struct {
	cfg       Config
	builder   *BucketBuilder
	nodes     []string
	transport Transport
	killer    KillPropagator
	registry  *jobs.Registry
	reg       prometheus.Registerer
	jobID     jobs.JobID
}

func newTestConsumer(t *testing.T, opts consumerOpts) *DistributingConsumer {
	t.Helper()
	if opts.jobID == "" {
		opts.jobID = jobs.NewJobID()
	}
	if opts.killer == nil {
		opts.killer = &mockKiller{}
	}
	c := newDistributingConsumer(context.Background(), consumerParams{
		cfg:       opts.cfg,
		jobID:     opts.jobID,
		phaseID:   2,
		builder:   opts.builder,
		nodes:     opts.nodes,
		transport: opts.transport,
		killer:    opts.killer,
		registry:  opts.registry,
		executor:  util.NewGoroutineExecutor(),
		metrics:   newMetrics(opts.reg),
		logger:    log.NewNopLogger(),
	})
	t.Cleanup(func() { c.Fail(errors.New("test cleanup")) })
	return c
}

func acceptAll(t *testing.T, c *DistributingConsumer, rows ...Row) {
	t.Helper()
	for _, r := range rows {
		require.NoError(t, c.Accept(context.Background(), r))
	}
}

func TestDistributingConsumer_SingleNode(t *testing.T) {
	transport := newMockTransport()
	c := newTestConsumer(t, consumerOpts{
		cfg:       testConfig(),
		builder:   NewBroadcastBucketBuilder(1),
		nodes:     []string{"n1"},
		transport: transport,
	})

	rows := []Row{{1}, {2}, {3}, {4}, {5}}
	acceptAll(t, c, rows...)
	require.NoError(t, c.Finish(context.Background()))

	pages := transport.pagesFor("n1")
	require.Len(t, pages, 1)
	assert.True(t, pages[0].IsLast)
	assert.Equal(t, rows, pages[0].Rows)
	assert.Equal(t, StateDone, c.State())
	assert.NoError(t, c.Err())

	select {
	case <-c.Done():
	default:
		t.Fatal("completion signal not resolved")
	}
}

func TestDistributingConsumer_BroadcastToTwoNodes(t *testing.T) {
	transport := newMockTransport()
	c := newTestConsumer(t, consumerOpts{
		cfg:       testConfig(),
		builder:   NewBroadcastBucketBuilder(2),
		nodes:     []string{"n1", "n2"},
		transport: transport,
	})

	rows := []Row{{"a", 1}, {"b", 2}, {"c", 3}}
	acceptAll(t, c, rows...)
	require.NoError(t, c.Finish(context.Background()))

	for _, node := range []string{"n1", "n2"} {
		assert.Equal(t, rows, transport.rowsFor(node), node)
		pages := transport.pagesFor(node)
		require.Len(t, pages, 1, node)
		assert.True(t, pages[0].IsLast)
	}
}

func TestDistributingConsumer_ModuloToTwoNodes(t *testing.T) {
	transport := newMockTransport()
	c := newTestConsumer(t, consumerOpts{
		cfg:       testConfig(),
		builder:   NewModuloBucketBuilder(2, 0),
		nodes:     []string{"n1", "n2"},
		transport: transport,
	})

	acceptAll(t, c, Row{int64(1)}, Row{int64(2)}, Row{int64(3)}, Row{int64(4)})
	require.NoError(t, c.Finish(context.Background()))

	assert.Equal(t, []Row{{int64(2)}, {int64(4)}}, transport.rowsFor("n1"))
	assert.Equal(t, []Row{{int64(1)}, {int64(3)}}, transport.rowsFor("n2"))
}

func TestDistributingConsumer_Paging(t *testing.T) {
	cfg := testConfig()
	cfg.PageSize = 2

	transport := newMockTransport()
	transport.respond = func(context.Context, string, int, *Request) error {
		// Give a second page the chance to overtake the first one.
		time.Sleep(5 * time.Millisecond)
		return nil
	}
	c := newTestConsumer(t, consumerOpts{
		cfg:       cfg,
		builder:   NewBroadcastBucketBuilder(1),
		nodes:     []string{"n1"},
		transport: transport,
	})

	acceptAll(t, c, Row{1}, Row{2}, Row{3}, Row{4}, Row{5})
	require.NoError(t, c.Finish(context.Background()))

	pages := transport.pagesFor("n1")
	require.Len(t, pages, 3)
	assert.Equal(t, []Row{{1}, {2}}, pages[0].Rows)
	assert.Equal(t, []Row{{3}, {4}}, pages[1].Rows)
	assert.Equal(t, []Row{{5}}, pages[2].Rows)
	assert.Equal(t, []bool{false, false, true}, []bool{pages[0].IsLast, pages[1].IsLast, pages[2].IsLast})
	assert.Equal(t, 1, transport.maxInFlightTo("n1"))
}

func TestDistributingConsumer_AcceptBlocksWhilePageInFlight(t *testing.T) {
	cfg := testConfig()
	cfg.PageSize = 2

	transport := newMockTransport()
	transport.gate = make(chan struct{})
	c := newTestConsumer(t, consumerOpts{
		cfg:       cfg,
		builder:   NewBroadcastBucketBuilder(1),
		nodes:     []string{"n1"},
		transport: transport,
	})

	// The first page is in flight and held by the gate.
	acceptAll(t, c, Row{1}, Row{2}, Row{3})
	require.Eventually(t, func() bool { return transport.callsTo("n1") == 1 }, time.Second, time.Millisecond)

	accepted := make(chan error, 1)
	go func() {
		accepted <- c.Accept(context.Background(), Row{4})
	}()

	select {
	case <-accepted:
		t.Fatal("Accept returned while the previous page was not acknowledged")
	case <-time.After(50 * time.Millisecond):
	}

	transport.gate <- struct{}{}
	select {
	case err := <-accepted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Accept did not resume after the acknowledgement")
	}

	// Second page goes out once the first one is acknowledged.
	require.Eventually(t, func() bool { return transport.callsTo("n1") == 2 }, time.Second, time.Millisecond)

	finished := make(chan error, 1)
	go func() {
		finished <- c.Finish(context.Background())
	}()
	transport.gate <- struct{}{}
	transport.gate <- struct{}{}
	require.NoError(t, <-finished)

	pages := transport.pagesFor("n1")
	require.Len(t, pages, 3)
	assert.Equal(t, 1, transport.maxInFlightTo("n1"))
}

func TestDistributingConsumer_RejectedPageAbortsStream(t *testing.T) {
	cfg := testConfig()
	cfg.PageSize = 2

	transport := newMockTransport()
	transport.respond = func(_ context.Context, node string, attempt int, _ *Request) error {
		if attempt == 2 {
			return NewRejection(node, errors.New("merge phase failed"))
		}
		return nil
	}
	killer := &mockKiller{}
	jobID := jobs.NewJobID()
	c := newTestConsumer(t, consumerOpts{
		cfg:       cfg,
		builder:   NewBroadcastBucketBuilder(1),
		nodes:     []string{"n1"},
		transport: transport,
		killer:    killer,
		jobID:     jobID,
	})

	for i := 1; i <= 5; i++ {
		require.NoError(t, c.Accept(context.Background(), Row{i}))
	}
	err := c.Finish(context.Background())
	require.Error(t, err)

	var tf *TransportFailure
	require.True(t, errors.As(err, &tf))
	assert.False(t, tf.Temporary)
	assert.Equal(t, "n1", tf.Node)
	assert.Equal(t, StateAborted, c.State())

	require.Eventually(t, func() bool { return killer.broadcasts.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, jobID.String(), killer.lastJob.Load())

	// The rejected page is never retried and the last page never sent.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, transport.callsTo("n1"))
	assert.Len(t, transport.pagesFor("n1"), 1)
}

func TestDistributingConsumer_EmptyBucketSendsEmptyLastPage(t *testing.T) {
	transport := newMockTransport()
	c := newTestConsumer(t, consumerOpts{
		cfg:       testConfig(),
		builder:   NewModuloBucketBuilder(2, 0),
		nodes:     []string{"n1", "n2"},
		transport: transport,
	})

	// Odd keys all land in bucket 1.
	acceptAll(t, c, Row{int64(1)}, Row{int64(3)})
	require.NoError(t, c.Finish(context.Background()))

	pages := transport.pagesFor("n1")
	require.Len(t, pages, 1)
	assert.True(t, pages[0].IsLast)
	assert.Empty(t, pages[0].Rows)
	assert.NotNil(t, pages[0].Rows)

	assert.Len(t, transport.rowsFor("n2"), 2)
}

func TestDistributingConsumer_FinishWithoutRows(t *testing.T) {
	transport := newMockTransport()
	c := newTestConsumer(t, consumerOpts{
		cfg:       testConfig(),
		builder:   NewBroadcastBucketBuilder(3),
		nodes:     []string{"n1", "n2", "n3"},
		transport: transport,
	})

	require.NoError(t, c.Finish(context.Background()))
	for _, node := range []string{"n1", "n2", "n3"} {
		pages := transport.pagesFor(node)
		require.Len(t, pages, 1)
		assert.True(t, pages[0].IsLast)
	}
}

func TestDistributingConsumer_FailIsIdempotent(t *testing.T) {
	transport := newMockTransport()
	killer := &mockKiller{}
	c := newTestConsumer(t, consumerOpts{
		cfg:       testConfig(),
		builder:   NewBroadcastBucketBuilder(2),
		nodes:     []string{"n1", "n2"},
		transport: transport,
		killer:    killer,
	})

	acceptAll(t, c, Row{1})

	first := errors.New("collect phase failed")
	c.Fail(first)
	c.Fail(errors.New("second failure"))
	assert.Equal(t, first, c.Finish(context.Background()))
	assert.Equal(t, first, c.Err())
	assert.Equal(t, StateAborted, c.State())

	require.Eventually(t, func() bool {
		return len(transport.abortsFor("n1")) == 1 && len(transport.abortsFor("n2")) == 1
	}, time.Second, time.Millisecond)
	abort := transport.abortsFor("n1")[0]
	assert.Equal(t, "collect phase failed", abort.Failure)
	assert.False(t, abort.Killed)
	assert.True(t, abort.IsLast)

	require.Eventually(t, func() bool { return killer.broadcasts.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), killer.broadcasts.Load())

	// Buffered rows were released; no data page is ever sent.
	assert.Empty(t, transport.pagesFor("n1"))
	assert.Empty(t, transport.pagesFor("n2"))
}

func TestDistributingConsumer_AcceptAfterTermination(t *testing.T) {
	transport := newMockTransport()
	c := newTestConsumer(t, consumerOpts{
		cfg:       testConfig(),
		builder:   NewBroadcastBucketBuilder(1),
		nodes:     []string{"n1"},
		transport: transport,
	})
	require.NoError(t, c.Finish(context.Background()))
	assert.Equal(t, ErrConsumerFinished, c.Accept(context.Background(), Row{1}))

	aborted := newTestConsumer(t, consumerOpts{
		cfg:       testConfig(),
		builder:   NewBroadcastBucketBuilder(1),
		nodes:     []string{"n1"},
		transport: newMockTransport(),
	})
	aborted.Fail(errors.New("boom"))
	assert.NoError(t, aborted.Accept(context.Background(), Row{1}))
}

func TestDistributingConsumer_PartitionColumnOutOfRange(t *testing.T) {
	killer := &mockKiller{}
	c := newTestConsumer(t, consumerOpts{
		cfg:       testConfig(),
		builder:   NewModuloBucketBuilder(2, 3),
		nodes:     []string{"n1", "n2"},
		transport: newMockTransport(),
		killer:    killer,
	})

	err := c.Accept(context.Background(), Row{1, 2})
	require.Error(t, err)
	assert.Equal(t, StateAborted, c.State())
	assert.Equal(t, err, c.Err())
	require.Eventually(t, func() bool { return killer.broadcasts.Load() == 1 }, time.Second, time.Millisecond)
}

func TestDistributingConsumer_Kill(t *testing.T) {
	transport := newMockTransport()
	killer := &mockKiller{}
	registry := jobs.NewRegistry(time.Minute)
	jobID := jobs.NewJobID()
	c := newTestConsumer(t, consumerOpts{
		cfg:       testConfig(),
		builder:   NewBroadcastBucketBuilder(2),
		nodes:     []string{"n1", "n2"},
		transport: transport,
		killer:    killer,
		registry:  registry,
		jobID:     jobID,
	})
	require.Equal(t, 1, registry.Size())

	acceptAll(t, c, Row{1})
	require.Equal(t, 1, registry.KillJob(jobID, "user cancelled"))
	c.Kill("duplicate kill")

	<-c.Done()
	require.True(t, errors.Is(c.Err(), ErrCancelled))
	assert.Equal(t, StateAborted, c.State())
	assert.Equal(t, c.Err(), c.Finish(context.Background()))

	require.Eventually(t, func() bool {
		return len(transport.abortsFor("n1")) == 1 && len(transport.abortsFor("n2")) == 1
	}, time.Second, time.Millisecond)
	assert.True(t, transport.abortsFor("n1")[0].Killed)

	// A kill is not broadcast again.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), killer.broadcasts.Load())
	require.Eventually(t, func() bool { return registry.Size() == 0 }, time.Second, time.Millisecond)
}

func TestDistributingConsumer_KilledBeforeCreation(t *testing.T) {
	registry := jobs.NewRegistry(time.Minute)
	jobID := jobs.NewJobID()
	registry.KillJob(jobID, "killed early")

	c := newTestConsumer(t, consumerOpts{
		cfg:       testConfig(),
		builder:   NewBroadcastBucketBuilder(1),
		nodes:     []string{"n1"},
		transport: newMockTransport(),
		registry:  registry,
		jobID:     jobID,
	})

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("consumer of a killed job kept running")
	}
	assert.True(t, errors.Is(c.Err(), ErrCancelled))
}

func TestDistributingConsumer_KillRacingFinish(t *testing.T) {
	for i := 0; i < 50; i++ {
		transport := newMockTransport()
		c := newTestConsumer(t, consumerOpts{
			cfg:       testConfig(),
			builder:   NewBroadcastBucketBuilder(2),
			nodes:     []string{"n1", "n2"},
			transport: transport,
		})
		acceptAll(t, c, Row{i})

		wg := sync.WaitGroup{}
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Finish(context.Background())
		}()
		go func() {
			defer wg.Done()
			c.Kill("race")
		}()
		wg.Wait()
		<-c.Done()

		switch c.State() {
		case StateDone:
			require.NoError(t, c.Err())
		case StateAborted:
			require.True(t, errors.Is(c.Err(), ErrCancelled))
		default:
			t.Fatalf("unexpected state %s", c.State())
		}
	}
}

func TestDistributingConsumer_RetriesTransientFailureOnce(t *testing.T) {
	tests := map[string]struct {
		failures    int
		expectedErr bool
	}{
		"succeeds on retry": {
			failures: 1,
		},
		"fails after one retry": {
			failures:    2,
			expectedErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			reg := prometheus.NewPedanticRegistry()
			transport := newMockTransport()
			transport.respond = func(_ context.Context, node string, attempt int, _ *Request) error {
				if attempt <= tc.failures {
					return NewTemporaryFailure(node, errors.New("connection reset"))
				}
				return nil
			}
			c := newTestConsumer(t, consumerOpts{
				cfg:       testConfig(),
				builder:   NewBroadcastBucketBuilder(1),
				nodes:     []string{"n1"},
				transport: transport,
				reg:       reg,
			})

			acceptAll(t, c, Row{1})
			err := c.Finish(context.Background())
			assert.Equal(t, 2, transport.callsTo("n1"))
			require.NoError(t, testutil.GatherAndCompare(reg, bytes.NewBufferString(`
				# HELP cortex_distribution_send_retries_total Total number of page sends retried after a transient failure.
				# TYPE cortex_distribution_send_retries_total counter
				cortex_distribution_send_retries_total 1
`), "cortex_distribution_send_retries_total"))

			if !tc.expectedErr {
				require.NoError(t, err)
				return
			}
			var tf *TransportFailure
			require.True(t, errors.As(err, &tf))
			assert.True(t, tf.Temporary)
		})
	}
}

func TestDistributingConsumer_SendTimeoutIsRetried(t *testing.T) {
	cfg := testConfig()
	cfg.SendTimeout = 20 * time.Millisecond

	transport := newMockTransport()
	transport.respond = func(ctx context.Context, _ string, attempt int, _ *Request) error {
		if attempt == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}
	c := newTestConsumer(t, consumerOpts{
		cfg:       cfg,
		builder:   NewBroadcastBucketBuilder(1),
		nodes:     []string{"n1"},
		transport: transport,
	})

	acceptAll(t, c, Row{1})
	require.NoError(t, c.Finish(context.Background()))
	assert.Equal(t, 2, transport.callsTo("n1"))
}

func TestDistributingConsumer_FinishTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.FinishTimeout = 20 * time.Millisecond

	transport := newMockTransport()
	transport.gate = make(chan struct{})
	killer := &mockKiller{}
	c := newTestConsumer(t, consumerOpts{
		cfg:       cfg,
		builder:   NewBroadcastBucketBuilder(1),
		nodes:     []string{"n1"},
		transport: transport,
		killer:    killer,
	})

	acceptAll(t, c, Row{1})
	assert.Equal(t, errFinishTimeout, c.Finish(context.Background()))
	assert.Equal(t, StateAborted, c.State())
	require.Eventually(t, func() bool { return killer.broadcasts.Load() == 1 }, time.Second, time.Millisecond)
}

func TestDistributingConsumer_ContextCancelledWhileSuspended(t *testing.T) {
	cfg := testConfig()
	cfg.PageSize = 1

	transport := newMockTransport()
	transport.gate = make(chan struct{})
	c := newTestConsumer(t, consumerOpts{
		cfg:       cfg,
		builder:   NewBroadcastBucketBuilder(1),
		nodes:     []string{"n1"},
		transport: transport,
	})

	acceptAll(t, c, Row{1})

	ctx, cancel := context.WithCancel(context.Background())
	accepted := make(chan error, 1)
	go func() {
		accepted <- c.Accept(ctx, Row{2})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	require.Equal(t, context.Canceled, <-accepted)
	assert.Equal(t, StateAborted, c.State())
	assert.Equal(t, context.Canceled, c.Err())
}

func TestDistributingConsumer_RowsArePartitioned(t *testing.T) {
	cfg := testConfig()
	cfg.PageSize = 7

	const numBuckets = 3
	nodes := []string{"n1", "n2", "n3"}
	transport := newMockTransport()
	c := newTestConsumer(t, consumerOpts{
		cfg:       cfg,
		builder:   NewModuloBucketBuilder(numBuckets, 1),
		nodes:     nodes,
		transport: transport,
	})

	var rows []Row
	expected := make([][]Row, numBuckets)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i%17)
		row := Row{i, key}
		rows = append(rows, row)
		b := int(HashValue(key) % numBuckets)
		expected[b] = append(expected[b], row)
	}
	acceptAll(t, c, rows...)
	require.NoError(t, c.Finish(context.Background()))

	total := 0
	for b, node := range nodes {
		got := transport.rowsFor(node)
		assert.Equal(t, expected[b], got, node)
		total += len(got)
		assert.Equal(t, 1, transport.maxInFlightTo(node))
	}
	assert.Equal(t, len(rows), total)
}

func TestDistributingConsumer_Metrics(t *testing.T) {
	cfg := testConfig()
	cfg.PageSize = 2

	reg := prometheus.NewPedanticRegistry()
	c := newTestConsumer(t, consumerOpts{
		cfg:       cfg,
		builder:   NewBroadcastBucketBuilder(1),
		nodes:     []string{"n1"},
		transport: newMockTransport(),
		reg:       reg,
	})

	acceptAll(t, c, Row{1}, Row{2}, Row{3})
	require.NoError(t, c.Finish(context.Background()))

	require.NoError(t, testutil.GatherAndCompare(reg, bytes.NewBufferString(`
		# HELP cortex_distribution_pages_sent_total Total number of result pages sent to downstream nodes, by outcome.
		# TYPE cortex_distribution_pages_sent_total counter
		cortex_distribution_pages_sent_total{outcome="ack"} 2
		# HELP cortex_distribution_rows_sent_total Total number of rows acknowledged by downstream nodes.
		# TYPE cortex_distribution_rows_sent_total counter
		cortex_distribution_rows_sent_total 3
		# HELP cortex_distribution_pages_in_flight Number of pages sent and not yet acknowledged.
		# TYPE cortex_distribution_pages_in_flight gauge
		cortex_distribution_pages_in_flight 0
		# HELP cortex_distribution_consumers_done_total Total number of distributing consumers whose downstream nodes acknowledged every page.
		# TYPE cortex_distribution_consumers_done_total counter
		cortex_distribution_consumers_done_total 1
`), "cortex_distribution_pages_sent_total", "cortex_distribution_rows_sent_total", "cortex_distribution_pages_in_flight", "cortex_distribution_consumers_done_total"))
}
