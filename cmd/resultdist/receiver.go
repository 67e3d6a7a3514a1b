package main

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/cortexproject/resultdist/pkg/distribution"
	"github.com/cortexproject/resultdist/pkg/jobs"
)

// bufferingReceiver keeps the rows of every phase running on this node until
// all of its upstreams are done or the job is aborted. Merge logic is
// plugged in by whatever embeds the node; this one only accounts for rows.
type bufferingReceiver struct {
	maxRows  int
	registry *jobs.Registry
	logger   log.Logger

	mtx    sync.Mutex
	phases map[jobs.PhaseKey]*phaseBuffer
}

type phaseBuffer struct {
	r   *bufferingReceiver
	key jobs.PhaseKey

	rows     []distribution.Row
	finished map[int]struct{}
}

// Kill implements jobs.Killable.
func (p *phaseBuffer) Kill(reason string) {
	p.r.release(p.key, "killed", reason)
}

func newBufferingReceiver(maxRows int, registry *jobs.Registry, logger log.Logger) *bufferingReceiver {
	return &bufferingReceiver{
		maxRows:  maxRows,
		registry: registry,
		logger:   logger,
		phases:   map[jobs.PhaseKey]*phaseBuffer{},
	}
}

// Receive implements transport.Receiver.
func (r *bufferingReceiver) Receive(_ context.Context, req *distribution.Request) error {
	key := req.Key()
	if req.IsAbort() {
		r.release(key, "aborted", req.Failure)
		return nil
	}

	r.mtx.Lock()
	p, ok := r.phases[key]
	if !ok {
		p = &phaseBuffer{r: r, key: key, finished: map[int]struct{}{}}
		r.phases[key] = p
	}
	if r.maxRows > 0 && len(p.rows)+len(req.Rows) > r.maxRows {
		r.mtx.Unlock()
		r.release(key, "rejected", "too many rows")
		return errors.Errorf("phase %s buffers more than %d rows", key, r.maxRows)
	}
	p.rows = append(p.rows, req.Rows...)
	if req.IsLast {
		p.finished[req.BucketIdx] = struct{}{}
	}
	upstreams := len(p.finished)
	r.mtx.Unlock()

	if !ok && r.registry != nil && !r.registry.Register(key, p) {
		return distribution.ErrCancelled
	}
	if req.IsLast {
		level.Debug(r.logger).Log("msg", "upstream finished", "phase", key, "bucket", req.BucketIdx, "finished_upstreams", upstreams)
	}
	return nil
}

// Rows returns the rows buffered for key.
func (r *bufferingReceiver) Rows(key jobs.PhaseKey) []distribution.Row {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	p, ok := r.phases[key]
	if !ok {
		return nil
	}
	return append([]distribution.Row(nil), p.rows...)
}

// FinishedUpstreams returns how many upstream nodes sent their last page to key.
func (r *bufferingReceiver) FinishedUpstreams(key jobs.PhaseKey) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	p, ok := r.phases[key]
	if !ok {
		return 0
	}
	return len(p.finished)
}

func (r *bufferingReceiver) release(key jobs.PhaseKey, why, detail string) {
	r.mtx.Lock()
	p, ok := r.phases[key]
	delete(r.phases, key)
	r.mtx.Unlock()

	if !ok {
		return
	}
	if r.registry != nil {
		r.registry.Unregister(key, p)
	}
	level.Info(r.logger).Log("msg", "released phase buffer", "phase", key, "why", why, "detail", detail, "rows", len(p.rows))
}
