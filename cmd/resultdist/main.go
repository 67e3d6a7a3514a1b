package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/server"
	"golang.org/x/sync/errgroup"

	"github.com/cortexproject/resultdist/pkg/distribution"
	"github.com/cortexproject/resultdist/pkg/jobs"
	"github.com/cortexproject/resultdist/pkg/topology"
	"github.com/cortexproject/resultdist/pkg/transport"
	util_log "github.com/cortexproject/resultdist/pkg/util/log"
)

const configFileOption = "config.file"

func main() {
	var cfg Config

	configFile := parseConfigFileParameter()

	// This sets default values from flags to the config.
	// It needs to be called before parsing the config file!
	cfg.RegisterFlags(flag.CommandLine)

	if configFile != "" {
		if err := LoadConfig(configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "error loading config from %s: %v\n", configFile, err)
			os.Exit(1)
		}
	}

	// Ignore -config.file here, since it was already parsed, but it's still present on command line.
	flag.String(configFileOption, "", "Configuration file to load.")
	flag.Parse()

	// Validate the config once both the config file has been loaded
	// and CLI flags parsed.
	if err := cfg.Validate(); err != nil {
		fmt.Printf("error validating config: %v\n", err)
		os.Exit(1)
	}

	util_log.InitLogger(&cfg.Server, prometheus.DefaultRegisterer)
	logger := util_log.Logger

	n := newNode(cfg, prometheus.DefaultRegisterer, logger)

	serv, err := server.New(cfg.Server)
	util_log.CheckFatal("initializing server", err)
	n.RegisterRoutes(serv.HTTP)

	level.Info(logger).Log("msg", "Starting resultdist", "node", cfg.NodeID, "http_port", cfg.Server.HTTPListenPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Run returns once a termination signal was handled.
		defer cancel()
		return serv.Run()
	})
	g.Go(func() error {
		n.cleanExpiredLoop(ctx)
		return nil
	})
	err = g.Wait()

	n.stop()
	serv.Shutdown()
	util_log.CheckFatal("running resultdist", err)
}

// node holds the components of a resultdist process.
type node struct {
	registry   *jobs.Registry
	membership *topology.Membership
	client     *transport.Client
	killer     *transport.KillBroadcaster
	factory    *distribution.Factory
	receiver   *bufferingReceiver
	handler    *transport.Handler
	producer   *producer
	logger     log.Logger
}

func newNode(cfg Config, reg prometheus.Registerer, logger log.Logger) *node {
	n := &node{logger: logger}
	n.registry = jobs.NewRegistry(jobs.DefaultTTL)
	n.membership = topology.NewMembership(cfg.Topology)
	n.client = transport.NewClient(n.membership)
	n.killer = transport.NewKillBroadcaster(cfg.NodeID, n.membership, n.client, n.registry, cfg.Transport.KillConcurrency, reg, logger)
	n.factory = distribution.NewFactory(cfg.Distribution, cfg.NodeID, n.membership, n.client, n.killer, n.registry, reg, logger)
	n.receiver = newBufferingReceiver(cfg.MaxBufferedRows, n.registry, logger)

	n.handler = transport.NewHandler(cfg.Transport, n.receiver, n.registry, reg, logger)
	n.handler.SetKillPropagator(n.killer)
	n.producer = &producer{factory: n.factory, logger: logger}
	return n
}

// RegisterRoutes adds the node's endpoints to r.
func (n *node) RegisterRoutes(r *mux.Router) {
	n.handler.RegisterRoutes(r)
	n.producer.RegisterRoutes(r)
	r.Path("/ready").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ready\n")
	})
}

func (n *node) cleanExpiredLoop(ctx context.Context) {
	ticker := time.NewTicker(jobs.DefaultTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.registry.CleanExpired()
		case <-ctx.Done():
			return
		}
	}
}

// stop kills whatever still runs on the node and releases the send workers.
func (n *node) stop() {
	killed := n.registry.KillAll("node shutting down")
	n.factory.Stop()
	level.Info(n.logger).Log("msg", "shutting down", "killed_components", killed)
}

// Parse -config.file option via separate flag set, to avoid polluting default one and calling flag.Parse on it twice.
func parseConfigFileParameter() string {
	var configFile = ""
	// ignore errors and any output here. Any flag errors will be reported by main flag.Parse() call.
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "") // usage not used in this function.

	// Try to find -config.file option in the flags. As Parsing stops on the first error, eg. unknown flag, we simply
	// try remaining parameters until we find config flag, or there are no params left.
	args := os.Args[1:]
	for len(args) > 0 {
		_ = fs.Parse(args)
		if configFile != "" {
			break
		}
		args = args[1:]
	}

	return configFile
}
