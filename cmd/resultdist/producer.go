package main

import (
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/cortexproject/resultdist/pkg/distribution"
	"github.com/cortexproject/resultdist/pkg/jobs"
	"github.com/cortexproject/resultdist/pkg/transport"
	util_log "github.com/cortexproject/resultdist/pkg/util/log"
)

const producePath = "/api/v1/jobs/{job}/produce"

var json = jsoniter.Config{
	EscapeHTML: false,
	UseNumber:  true,
}.Froze()

type phaseDesc struct {
	ID    int32    `json:"id"`
	Name  string   `json:"name"`
	Nodes []string `json:"nodes"`
}

func (p phaseDesc) executionPhase() jobs.ExecutionPhase {
	return jobs.ExecutionPhase{ID: jobs.PhaseID(p.ID), Name: p.Name, Nodes: p.Nodes}
}

// produceRequest carries the output of a phase computed outside of the node,
// to be distributed to the downstream phase as if this node had produced it.
type produceRequest struct {
	Phase           phaseDesc          `json:"phase"`
	Downstream      phaseDesc          `json:"downstream"`
	InputID         uint8              `json:"input_id"`
	Distribution    string             `json:"distribution"`
	PartitionColumn int                `json:"partition_column"`
	PageSize        int                `json:"page_size"`
	Rows            []distribution.Row `json:"rows"`
}

type produceResponse struct {
	Rows  int      `json:"rows"`
	Nodes []string `json:"nodes"`
}

// producer streams the rows posted to it through a DistributingConsumer.
type producer struct {
	factory *distribution.Factory
	logger  log.Logger
}

func (p *producer) RegisterRoutes(r *mux.Router) {
	r.Path(producePath).Methods(http.MethodPost).HandlerFunc(p.ProduceHandler)
}

// ProduceHandler answers 200 once every downstream node acknowledged the last
// page, 400 for a malformed request and 502 when the distribution failed.
func (p *producer) ProduceHandler(w http.ResponseWriter, r *http.Request) {
	jobID := jobs.JobID(mux.Vars(r)["job"])

	var req produceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, errors.Wrap(err, "unable to decode request").Error(), http.StatusBadRequest)
		return
	}
	kind, err := distribution.ParseKind(req.Distribution)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info := distribution.Info{Kind: kind, PartitionColumn: req.PartitionColumn}
	op := jobs.WithDownstream(req.Phase.executionPhase(), req.Downstream.executionPhase(), req.InputID)

	ctx := r.Context()
	c, err := p.factory.Create(ctx, op, info, jobID, req.PageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger := util_log.WithJob(p.logger, jobID, req.Phase.ID)
	accepted := 0
	for _, row := range req.Rows {
		transport.NormalizeRow(row)
		if err := c.Accept(ctx, row); err != nil {
			break
		}
		accepted++
	}
	if err := c.Finish(ctx); err != nil {
		level.Warn(logger).Log("msg", "distribution failed", "accepted_rows", accepted, "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	level.Debug(logger).Log("msg", "distribution done", "rows", accepted, "nodes", len(c.Nodes()))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(produceResponse{Rows: accepted, Nodes: c.Nodes()}); err != nil {
		level.Error(p.logger).Log("msg", "error writing response", "err", err)
	}
}
