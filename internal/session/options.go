package session

import (
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"securevpn/internal/clock"
	"securevpn/internal/model"
)

const (
	DefaultRequestTimeout   = 10 * time.Second
	DefaultSampleInterval   = time.Second
	DefaultAutoConnectDelay = 2 * time.Second
)

type options struct {
	clock            clock.Clock
	logger           zerolog.Logger
	requestTimeout   time.Duration
	sampleInterval   time.Duration
	autoConnectDelay time.Duration
	autoConnect      bool
	rng              *rand.Rand
	onSample         func(model.SampleRecord)
}

// Option configures a Controller.
type Option func(*options)

// WithClock replaces the real clock, typically with clock.Fake in tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRequestTimeout bounds each remote call.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithSampleInterval sets the telemetry tick period.
func WithSampleInterval(d time.Duration) Option {
	return func(o *options) { o.sampleInterval = d }
}

// WithAutoConnectDelay sets how long the auto-connect guard must hold
// before connect is invoked.
func WithAutoConnectDelay(d time.Duration) Option {
	return func(o *options) { o.autoConnectDelay = d }
}

// WithAutoConnect sets the initial auto-connect toggle.
func WithAutoConnect(on bool) Option {
	return func(o *options) { o.autoConnect = on }
}

// WithRand sets the random source for fabricated telemetry.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithSampleHook registers fn to receive every telemetry sample. fn runs on
// the event loop and must not block.
func WithSampleHook(fn func(model.SampleRecord)) Option {
	return func(o *options) { o.onSample = fn }
}

func defaultOptions() options {
	return options{
		clock:            clock.Real(),
		logger:           log.Logger.With().Str("component", "session").Logger(),
		requestTimeout:   DefaultRequestTimeout,
		sampleInterval:   DefaultSampleInterval,
		autoConnectDelay: DefaultAutoConnectDelay,
	}
}

func (o *options) normalize() {
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.requestTimeout <= 0 {
		o.requestTimeout = DefaultRequestTimeout
	}
	if o.sampleInterval <= 0 {
		o.sampleInterval = DefaultSampleInterval
	}
	if o.autoConnectDelay <= 0 {
		o.autoConnectDelay = DefaultAutoConnectDelay
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
}
