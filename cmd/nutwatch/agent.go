package main

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/nutwatch/internal/api"
	"github.com/Guliveer/nutwatch/internal/config"
	"github.com/Guliveer/nutwatch/internal/hostinfo"
	"github.com/Guliveer/nutwatch/internal/metrics"
	"github.com/Guliveer/nutwatch/internal/models"
	"github.com/Guliveer/nutwatch/internal/nut"
	"github.com/Guliveer/nutwatch/internal/plugin"
	"github.com/Guliveer/nutwatch/internal/poller"
	"github.com/Guliveer/nutwatch/internal/schema"
)

// wiring holds what newAgent takes from the outside world.
type wiring struct {
	Lookup  func(namespace string) schema.Raw
	Catalog *plugin.Catalog
	Source  func(cfg nut.Config, logger *zap.Logger) poller.Source
	Exit    func(code int)
}

func defaultWiring() wiring {
	return wiring{
		Lookup:  schema.Lookup,
		Catalog: defaultCatalog(),
		Source: func(cfg nut.Config, logger *zap.Logger) poller.Source {
			return nut.NewClient(cfg, logger)
		},
		Exit: os.Exit,
	}
}

// agent is one configured poller with its sinks.
type agent struct {
	cfg        *config.Config
	nut        nut.Config
	logger     *zap.Logger
	dispatcher *plugin.Dispatcher
	poller     *poller.Poller
	admin      *api.Server
	exit       func(int)
	closeOnce  sync.Once
}

// newAgent validates the reading source and every configured sink. All
// configuration problems are reported together.
func newAgent(cfg *config.Config, w wiring, logger *zap.Logger) (*agent, error) {
	nutCfg, nutErr := nut.LoadConfig(w.Lookup(nut.Namespace))

	host := hostinfo.New().Get(context.Background())
	deps := plugin.Deps{
		Logger: logger,
		Agent: models.Agent{
			Version:  version,
			Hostname: host.Hostname,
			OS:       host.OS,
			Platform: host.Platform,
		},
		DispatchTimeout: cfg.Dispatch.Timeout.Duration,
	}
	sinks, buildErr := w.Catalog.Build(cfg.Sinks, w.Lookup, deps)

	if err := multierr.Append(nutErr, buildErr); err != nil {
		for _, s := range sinks {
			if cerr := s.Close(); cerr != nil {
				logger.Warn("Failed to close sink", zap.String("sink", s.Name()), zap.Error(cerr))
			}
		}
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	d := plugin.NewDispatcher(logger.Named("dispatch"), m, cfg.Dispatch.Timeout.Duration)
	for _, s := range sinks {
		d.Register(s)
	}

	a := &agent{
		cfg:        cfg,
		nut:        nutCfg,
		logger:     logger,
		dispatcher: d,
		exit:       w.Exit,
	}
	a.poller = poller.New(w.Source(nutCfg, logger.Named("nut")), poller.Options{
		Interval: nutCfg.Interval,
		Retries:  nutCfg.Retries,
		Timeout:  nutCfg.Timeout,
		Exit:     a.fatal,
	}, logger.Named("poller"), m)
	a.admin = api.New(a.poller, reg, logger)

	return a, nil
}

// fatal flushes the sinks before the process exits.
func (a *agent) fatal(code int) {
	a.closeSinks()
	a.logger.Sync()
	a.exit(code)
}

func (a *agent) closeSinks() {
	a.closeOnce.Do(func() {
		if err := a.dispatcher.CloseAll(); err != nil {
			a.logger.Warn("Some sinks failed to close", zap.Error(err))
		}
	})
}

// run polls until ctx is cancelled or the retry budget runs out.
func (a *agent) run(ctx context.Context) {
	if a.cfg.Admin.Enabled {
		if err := a.admin.Start(a.cfg.Admin.Addr); err != nil {
			a.logger.Error("Failed to start admin endpoint", zap.Error(err))
		}
	}

	h := a.poller.Start(ctx, func(r *models.Reading) {
		a.admin.Observe(r)
		a.dispatcher.Dispatch(ctx, r)
	}, 0)
	<-h.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.admin.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("Admin endpoint shutdown failed", zap.Error(err))
	}
	a.closeSinks()
}

// runOnce performs a single poll, delivers the reading to the sinks and
// prints it to out. It returns the process exit code.
func (a *agent) runOnce(ctx context.Context, out io.Writer) int {
	defer a.closeSinks()

	r, err := a.poller.PollOnce(ctx)
	if err != nil {
		a.logger.Error("Unable to read UPS data", zap.Error(err))
		return 1
	}
	a.dispatcher.Dispatch(ctx, r)

	if err := printReading(out, r.UPS, r.Tree()); err != nil {
		a.logger.Error("Failed to print reading", zap.Error(err))
		return 1
	}
	return 0
}
