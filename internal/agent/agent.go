package agent

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"securevpn/internal/api"
	"securevpn/internal/config"
	"securevpn/internal/logger"
	"securevpn/internal/metrics"
	"securevpn/internal/model"
	"securevpn/internal/netprobe"
	"securevpn/internal/session"
)

const telemetryBuffer = 256

// Agent is the long-running client: it keeps the directory fresh, lets
// auto-connect open a session, exports metrics and follows config edits.
type Agent struct {
	cfg        config.Config
	configPath string
	log        zerolog.Logger

	ctrl      *session.Controller
	metrics   *metrics.Client
	registry  *prometheus.Registry
	events    chan session.Event
	telemetry chan model.SampleRecord

	preferred        string
	preferredApplied bool
}

// New builds an agent for cfg. configPath, when set, is watched for
// changes. opts are passed to the session controller after the options
// derived from cfg.
func New(cfg config.Config, configPath string, opts ...session.Option) (*Agent, error) {
	if err := config.ValidateClient(cfg); err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:        cfg,
		configPath: configPath,
		log:        log.Logger.With().Str("component", "agent").Logger(),
		registry:   prometheus.NewRegistry(),
		events:     make(chan session.Event, 64),
		preferred:  cfg.Client.PreferredServer,
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewClient(a.registry)
	if cfg.Client.TelemetryPath != "" {
		a.telemetry = make(chan model.SampleRecord, telemetryBuffer)
	}

	base := []session.Option{
		session.WithLogger(logger.Component("session")),
		session.WithRequestTimeout(cfg.Client.RequestTimeout()),
		session.WithSampleInterval(cfg.Client.SampleInterval()),
		session.WithAutoConnectDelay(cfg.Client.AutoConnectDelay()),
		session.WithAutoConnect(cfg.Client.AutoConnect),
		session.WithSampleHook(a.onSample),
	}
	client := api.NewClient(cfg.Client.ServiceURL, cfg.Client.RequestTimeout())
	notifier := session.Fanout(session.NotifierFunc(a.logEvent), a.metrics, session.NotifierFunc(a.forward))
	a.ctrl = session.New(client, notifier, append(base, opts...)...)
	return a, nil
}

// Handler serves /metrics and /healthz.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler(a.ctrl))
	return mux
}

// Run drives the agent until ctx is done, then closes the open session
// and returns ctx.Err().
func (a *Agent) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	if a.telemetry != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.writeTelemetry()
		}()
	}

	var srv *http.Server
	if a.cfg.Client.MetricsListen != "" {
		srv = &http.Server{
			Addr:              a.cfg.Client.MetricsListen,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.log.Info().Str("listen", srv.Addr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	if len(a.cfg.Client.STUNServers) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.probe(ctx)
		}()
	}

	reloads := make(chan config.Config, 1)
	if a.configPath != "" {
		err := config.Watch(ctx, a.configPath, func(c config.Config, err error) {
			if err != nil {
				a.log.Warn().Err(err).Msg("config reload failed")
				return
			}
			select {
			case reloads <- c:
			default:
			}
		})
		if err != nil {
			a.log.Warn().Err(err).Msg("config watch disabled")
		}
	}

	refreshTicker := time.NewTicker(a.cfg.Client.RefreshInterval())
	defer refreshTicker.Stop()

	a.refresh()
	for {
		select {
		case <-ctx.Done():
			a.shutdown(srv)
			return ctx.Err()
		case <-refreshTicker.C:
			a.refresh()
		case ev := <-a.events:
			if ev.Kind == session.EventDirectoryRefreshed {
				a.applyPreferred()
			}
		case c := <-reloads:
			a.reload(c)
		}
	}
}

// Run builds an agent for cfg and runs it until ctx is done.
func Run(ctx context.Context, cfg config.Config, configPath string) error {
	a, err := New(cfg, configPath)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func (a *Agent) refresh() {
	if err := a.ctrl.Refresh(); err != nil {
		a.log.Warn().Err(err).Msg("refresh not queued")
	}
}

// applyPreferred selects the configured server once it shows up in the
// directory. A session in progress keeps the request pending.
func (a *Agent) applyPreferred() {
	if a.preferred == "" || a.preferredApplied {
		return
	}
	err := a.ctrl.Select(a.preferred)
	switch {
	case err == nil:
		a.preferredApplied = true
		a.log.Info().Str("server", a.preferred).Msg("preferred server selected")
	case errors.Is(err, session.ErrSelectionRejected):
		a.log.Debug().Err(err).Str("server", a.preferred).Msg("preferred server not selectable yet")
	default:
		a.log.Warn().Err(err).Msg("select preferred server")
	}
}

func (a *Agent) reload(c config.Config) {
	zerolog.SetGlobalLevel(logger.ParseLevel(c.Logging.Level))

	if c.Client.AutoConnect != a.cfg.Client.AutoConnect {
		if err := a.ctrl.SetAutoConnect(c.Client.AutoConnect); err != nil {
			a.log.Warn().Err(err).Msg("apply auto_connect")
		} else {
			a.log.Info().Bool("auto_connect", c.Client.AutoConnect).Msg("auto-connect toggled")
		}
	}
	if c.Client.PreferredServer != a.cfg.Client.PreferredServer {
		a.preferred = c.Client.PreferredServer
		a.preferredApplied = false
		a.applyPreferred()
	}
	a.cfg.Client.AutoConnect = c.Client.AutoConnect
	a.cfg.Client.PreferredServer = c.Client.PreferredServer
	a.cfg.Logging = c.Logging
}

func (a *Agent) probe(ctx context.Context) {
	res, err := netprobe.New(a.cfg.Client.STUNServers, 0).Probe(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("STUN probe failed")
		return
	}
	a.log.Info().Str("public_addr", res.PublicAddr).Str("nat_type", res.NATType).Msg("STUN probe")
}

func (a *Agent) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*a.cfg.Client.RequestTimeout())
	defer cancel()

	if err := a.ctrl.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("session shutdown incomplete")
	}
	if a.telemetry != nil {
		close(a.telemetry)
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
}

func (a *Agent) logEvent(e session.Event) {
	ev := a.log.Info()
	if e.Err != nil {
		ev = a.log.Warn().Err(e.Err)
	}
	ev.Str("event", e.Kind.String()).
		Str("endpoint", e.Endpoint.ID).
		Str("session", e.SessionID).
		Msg("session event")
}

// forward hands events to the Run loop without blocking the controller.
func (a *Agent) forward(e session.Event) {
	select {
	case a.events <- e:
	default:
		a.log.Debug().Str("event", e.Kind.String()).Msg("event dropped")
	}
}

func (a *Agent) onSample(r model.SampleRecord) {
	a.metrics.ObserveSample(r)
	if a.telemetry == nil {
		return
	}
	select {
	case a.telemetry <- r:
	default:
		a.log.Warn().Msg("telemetry buffer full, sample dropped")
	}
}

func (a *Agent) writeTelemetry() {
	for r := range a.telemetry {
		batch := []model.SampleRecord{r}
	drain:
		for {
			select {
			case more, ok := <-a.telemetry:
				if !ok {
					break drain
				}
				batch = append(batch, more)
			default:
				break drain
			}
		}
		if err := metrics.AppendCSV(a.cfg.Client.TelemetryPath, batch); err != nil {
			a.log.Error().Err(err).Msg("append telemetry failed")
		}
	}
}
