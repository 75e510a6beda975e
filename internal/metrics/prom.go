package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"securevpn/internal/model"
	"securevpn/internal/session"
)

const namespace = "securevpn"

// Relay holds the relay directory service collectors.
type Relay struct {
	Opened   *prometheus.CounterVec
	Closed   prometheus.Counter
	Active   prometheus.Gauge
	Rejected *prometheus.CounterVec
}

// NewRelay creates the relay collectors and registers them with reg.
func NewRelay(reg prometheus.Registerer) *Relay {
	m := &Relay{
		Opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "sessions_opened_total",
			Help:      "Sessions issued, by server id",
		}, []string{"server"}),
		Closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "sessions_closed_total",
			Help:      "Sessions closed by clients",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "sessions_active",
			Help:      "Sessions currently recorded as connected",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "requests_rejected_total",
			Help:      "Requests answered without effect, by reason",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.Opened, m.Closed, m.Active, m.Rejected)
	return m
}

// Client holds the session controller collectors. It implements
// session.Notifier.
type Client struct {
	State        *prometheus.GaugeVec
	Events       *prometheus.CounterVec
	DownloadMbps prometheus.Gauge
	UploadMbps   prometheus.Gauge
	DataGB       prometheus.Gauge
	Elapsed      prometheus.Gauge
}

// NewClient creates the client collectors and registers them with reg.
func NewClient(reg prometheus.Registerer) *Client {
	m := &Client{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "state",
			Help:      "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "events_total",
			Help:      "Controller notifications, by kind",
		}, []string{"kind"}),
		DownloadMbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "download_mbps",
			Help:      "Last sampled download rate",
		}),
		UploadMbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "upload_mbps",
			Help:      "Last sampled upload rate",
		}),
		DataGB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "session_data_gb",
			Help:      "Data transferred in the current session",
		}),
		Elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "session_elapsed_seconds",
			Help:      "Elapsed time of the current session",
		}),
	}
	reg.MustRegister(m.State, m.Events, m.DownloadMbps, m.UploadMbps, m.DataGB, m.Elapsed)
	m.SetState(session.Disconnected)
	return m
}

// SetState marks st as the current state.
func (m *Client) SetState(st session.State) {
	for _, s := range []session.State{session.Disconnected, session.Connecting, session.Connected, session.Disconnecting} {
		v := 0.0
		if s == st {
			v = 1
		}
		m.State.WithLabelValues(s.String()).Set(v)
	}
}

// Notify counts the event and tracks the resulting state.
func (m *Client) Notify(e session.Event) {
	m.Events.WithLabelValues(e.Kind.String()).Inc()
	switch e.Kind {
	case session.EventConnected:
		m.SetState(session.Connected)
	case session.EventConnectFailed, session.EventDisconnected, session.EventDisconnectFailed:
		m.SetState(session.Disconnected)
		m.DownloadMbps.Set(0)
		m.UploadMbps.Set(0)
	}
}

// ObserveSample records the latest telemetry values.
func (m *Client) ObserveSample(r model.SampleRecord) {
	m.DownloadMbps.Set(r.DownloadMbps)
	m.UploadMbps.Set(r.UploadMbps)
	m.DataGB.Set(r.DataGB)
	m.Elapsed.Set(float64(r.ElapsedSeconds))
}
