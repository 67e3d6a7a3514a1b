package util

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// workerResetThreshold defines how often a worker's stack is reset. Every
// N tasks the worker is replaced by a fresh goroutine, so that large stacks
// don't live in memory forever.
const workerResetThreshold = 1 << 16

// AsyncExecutor runs tasks outside of the caller's goroutine.
// Submit must never block.
type AsyncExecutor interface {
	Submit(f func())
	Stop()
}

type goroutineExecutor struct{}

// NewGoroutineExecutor returns an AsyncExecutor spawning one goroutine per task.
func NewGoroutineExecutor() AsyncExecutor {
	return goroutineExecutor{}
}

func (goroutineExecutor) Submit(f func()) {
	go f()
}

func (goroutineExecutor) Stop() {}

type workerPoolExecutor struct {
	tasks chan func()

	// stopped is guarded by mtx; tasks is closed once it is set.
	mtx     sync.RWMutex
	stopped bool

	submittedTotal prometheus.Counter
	fallbackTotal  prometheus.Counter
}

// NewWorkerPool starts numWorkers goroutines serving submitted tasks. When
// every worker is busy the task runs on a new goroutine instead of waiting.
func NewWorkerPool(name string, numWorkers int, reg prometheus.Registerer) AsyncExecutor {
	wp := &workerPoolExecutor{
		tasks: make(chan func()),
		submittedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace:   "cortex",
			Name:        "worker_pool_submitted_total",
			Help:        "The total number of tasks submitted to the worker pool.",
			ConstLabels: prometheus.Labels{"name": name},
		}),
		fallbackTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace:   "cortex",
			Name:        "worker_pool_fallback_total",
			Help:        "The total number additional go routines that needed to be created to run jobs.",
			ConstLabels: prometheus.Labels{"name": name},
		}),
	}

	for i := 0; i < numWorkers; i++ {
		go wp.run()
	}

	return wp
}

// Stop releases the workers. Tasks submitted afterwards run on their own
// goroutine.
func (s *workerPoolExecutor) Stop() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.tasks)
}

func (s *workerPoolExecutor) Submit(f func()) {
	s.submittedTotal.Inc()

	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if !s.stopped {
		select {
		case s.tasks <- f:
			return
		default:
		}
	}
	s.fallbackTotal.Inc()
	go f()
}

func (s *workerPoolExecutor) run() {
	for completed := 0; completed < workerResetThreshold; completed++ {
		f, ok := <-s.tasks
		if !ok {
			return
		}
		f()
	}
	go s.run()
}
