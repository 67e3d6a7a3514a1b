package transport

import (
	"context"
	"flag"
	"io"
	"net/http"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cortexproject/resultdist/pkg/distribution"
	"github.com/cortexproject/resultdist/pkg/jobs"
	util_log "github.com/cortexproject/resultdist/pkg/util/log"
)

// ErrUnavailable can be returned by a Receiver that cannot take a page right
// now. The sender retries it.
var ErrUnavailable = errors.New("receiver temporarily unavailable")

// Receiver consumes the pages addressed to the phases running on this node.
// Abort notices (Request.IsAbort) must make it release whatever it holds for
// the phase.
type Receiver interface {
	// Receive handles a page. Any error but ErrUnavailable rejects the page
	// and ends the stream on the sending node.
	Receive(ctx context.Context, req *distribution.Request) error
}

// Config for the HTTP handler.
type Config struct {
	MaxRequestSize        int `yaml:"max_request_size"`
	MaxDecodedRequestSize int `yaml:"max_decoded_request_size"`
	KillConcurrency       int `yaml:"kill_concurrency"`
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&cfg.MaxRequestSize, "transport.max-request-size", 64<<20, "Maximum size in bytes of a compressed page.")
	f.IntVar(&cfg.MaxDecodedRequestSize, "transport.max-decoded-request-size", 256<<20, "Maximum size in bytes of a page once decompressed.")
	f.IntVar(&cfg.KillConcurrency, "transport.kill-concurrency", 16, "Maximum number of nodes a job kill is sent to in parallel. 0 sends to all of them at once.")
}

// Validate the config.
func (cfg *Config) Validate() error {
	if cfg.MaxRequestSize <= 0 {
		return errors.New("max request size must be positive")
	}
	if cfg.MaxDecodedRequestSize <= 0 {
		return errors.New("max decoded request size must be positive")
	}
	if cfg.KillConcurrency < 0 {
		return errors.New("kill concurrency must not be negative")
	}
	return nil
}

// Handler serves the page and kill endpoints.
type Handler struct {
	cfg      Config
	receiver Receiver
	registry *jobs.Registry
	logger   log.Logger

	// propagator, when set, forwards kills asked for with broadcast=true.
	propagator distribution.KillPropagator

	pagesReceived *prometheus.CounterVec
	killsReceived prometheus.Counter
}

// NewHandler makes a new Handler.
func NewHandler(cfg Config, receiver Receiver, registry *jobs.Registry, reg prometheus.Registerer, logger log.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		receiver: receiver,
		registry: registry,
		logger:   logger,
		pagesReceived: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "distribution_pages_received_total",
			Help:      "Total number of result pages received from upstream nodes, by outcome.",
		}, []string{"outcome"}),
		killsReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "cortex",
			Name:      "distribution_kills_received_total",
			Help:      "Total number of job kill messages received from other nodes.",
		}),
	}
}

// SetKillPropagator lets the kill endpoint kill a job on the whole cluster.
func (h *Handler) SetKillPropagator(p distribution.KillPropagator) {
	h.propagator = p
}

// RegisterRoutes adds the handler's endpoints to r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Path(pagePath).Methods(http.MethodPost).HandlerFunc(h.PageHandler)
	r.Path(killPath).Methods(http.MethodPost).HandlerFunc(h.KillHandler)
}

// PageHandler is a http.Handler which accepts pages. It answers 200 to
// acknowledge a page and 409 to reject it.
func (h *Handler) PageHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(h.cfg.MaxRequestSize)+1))
	if err != nil {
		h.pagesReceived.WithLabelValues("invalid").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > h.cfg.MaxRequestSize {
		h.pagesReceived.WithLabelValues("invalid").Inc()
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}

	req, err := decodeRequest(body, h.cfg.MaxDecodedRequestSize)
	if errors.Is(err, errDecodedTooLarge) {
		h.pagesReceived.WithLabelValues("invalid").Inc()
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		h.pagesReceived.WithLabelValues("invalid").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	vars := mux.Vars(r)
	phaseID, err := strconv.ParseInt(vars["phase"], 10, 32)
	if err != nil || vars["job"] != req.JobID.String() || jobs.PhaseID(phaseID) != req.PhaseID {
		h.pagesReceived.WithLabelValues("invalid").Inc()
		http.Error(w, "request does not match its path", http.StatusBadRequest)
		return
	}

	span, ctx := startServerSpan(r, "Handler.ReceivePage")
	defer span.Finish()
	span.SetTag("job", req.JobID.String())
	span.SetTag("phase", int32(req.PhaseID))
	span.SetTag("bucket", req.BucketIdx)

	logger := util_log.WithJob(h.logger, req.JobID, int32(req.PhaseID))

	if !req.IsAbort() && h.registry != nil && h.registry.IsKilled(req.JobID) {
		h.pagesReceived.WithLabelValues("rejected").Inc()
		http.Error(w, distribution.ErrCancelled.Error(), http.StatusConflict)
		return
	}

	if err := h.receiver.Receive(ctx, req); err != nil {
		ext.Error.Set(span, true)
		if errors.Is(err, ErrUnavailable) {
			h.pagesReceived.WithLabelValues("unavailable").Inc()
			level.Warn(logger).Log("msg", "receiver unavailable", "bucket", req.BucketIdx, "err", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		h.pagesReceived.WithLabelValues("rejected").Inc()
		level.Warn(logger).Log("msg", "page rejected", "bucket", req.BucketIdx, "err", err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	if req.IsAbort() {
		h.pagesReceived.WithLabelValues("abort").Inc()
	} else {
		h.pagesReceived.WithLabelValues("ack").Inc()
	}
	w.WriteHeader(http.StatusOK)
}

// startServerSpan continues the trace of the sending node. A span already
// set on the request context by a tracing middleware takes precedence over
// the one carried in the headers.
func startServerSpan(r *http.Request, operationName string) (opentracing.Span, context.Context) {
	ctx := r.Context()
	if opentracing.SpanFromContext(ctx) != nil {
		return opentracing.StartSpanFromContext(ctx, operationName)
	}

	tracer := opentracing.GlobalTracer()
	wireCtx, _ := tracer.Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(r.Header))
	span := tracer.StartSpan(operationName, ext.RPCServerOption(wireCtx))
	return span, opentracing.ContextWithSpan(ctx, span)
}

// KillHandler kills every local component of the job in the path. With
// broadcast=true the kill is also sent to every other active node; the kills
// sent by Client never set it, so they are not forwarded again.
func (h *Handler) KillHandler(w http.ResponseWriter, r *http.Request) {
	jobID := jobs.JobID(mux.Vars(r)["job"])
	reason := r.FormValue("reason")

	h.killsReceived.Inc()
	killed := h.registry.KillJob(jobID, reason)
	level.Debug(h.logger).Log("msg", "job killed", "job", jobID, "reason", reason, "components", killed)

	if h.propagator != nil && r.FormValue("broadcast") == "true" {
		h.propagator.BroadcastKill(r.Context(), jobID, reason)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(struct {
		Killed int `json:"killed"`
	}{killed}); err != nil {
		level.Error(h.logger).Log("msg", "error writing response", "err", err)
	}
}
