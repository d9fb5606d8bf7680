package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/pinus"
	"github.com/vango-dev/pinus/internal/config"
	"github.com/vango-dev/pinus/pkg/telemetry"
)

// options holds the persistent flags shared by every command.
type options struct {
	configFile  string
	url         string
	host        string
	port        int
	timeout     time.Duration
	metricsAddr string
	verbose     bool
	jsonErrors  bool
}

func (o *options) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configFile, "config", "c", "", "Path to pinus.toml (default ./pinus.toml)")
	f.StringVarP(&o.url, "url", "u", "", "Server URL, e.g. ws://127.0.0.1:3010")
	f.StringVarP(&o.host, "host", "H", "", "Server host (default from pinus.toml)")
	f.IntVarP(&o.port, "port", "p", 0, "Server port (default from pinus.toml)")
	f.DurationVarP(&o.timeout, "timeout", "t", 0, "Connect and request timeout")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Log protocol activity to stderr")
	f.BoolVar(&o.jsonErrors, "json-errors", false, "Print errors as JSON")
}

// loadConfig reads pinus.toml and applies command-line overrides.
func (o *options) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configFile != "" {
		cfg, err = config.LoadFile(o.configFile)
	} else {
		cfg, err = config.LoadFromWorkingDir()
	}
	if err != nil {
		return nil, err
	}

	if o.host != "" {
		cfg.Server.Host = o.host
		cfg.Server.URL = ""
	}
	if o.port > 0 {
		cfg.Server.Port = o.port
		cfg.Server.URL = ""
	}
	if o.url != "" {
		cfg.Server.URL = o.url
	}
	if o.timeout > 0 {
		cfg.Client.ConnectTimeout = o.timeout.String()
		cfg.Client.RequestTimeout = o.timeout.String()
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// conn is a connected client plus its optional metrics endpoint.
type conn struct {
	client      *pinus.Client
	user        map[string]any
	stopMetrics func()
}

// Close closes the client and the metrics endpoint.
func (c *conn) Close() {
	c.client.Close()
	c.stopMetrics()
}

// connect builds a client from the configuration and connects it. setup
// runs before Connect so handlers see every push.
func (o *options) connect(ctx context.Context, stderr io.Writer, setup func(*pinus.Client)) (*conn, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := o.logger(stderr)

	cc := cfg.ClientConfig()
	cc.Logger = logger

	var reg *prometheus.Registry
	if cfg.Metrics.Addr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		cc.Metrics = telemetry.NewMetrics(
			telemetry.WithNamespace(cfg.Metrics.Namespace),
			telemetry.WithRegistry(reg),
		)
	}

	c := &conn{client: pinus.New(cc), stopMetrics: func() {}}
	if setup != nil {
		setup(c.client)
	}
	if reg != nil {
		stop, err := serveMetrics(cfg.Metrics.Addr, newMetricsRouter(reg, c.client), logger)
		if err != nil {
			return nil, err
		}
		c.stopMetrics = stop
	}

	addr, _ := cc.Address()
	if o.verbose {
		info("connecting to %s", addr)
	}
	c.user, err = c.client.Connect(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	if o.verbose {
		success("connected to %s", addr)
	}
	return c, nil
}
