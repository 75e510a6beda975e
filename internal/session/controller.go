package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"securevpn/internal/clock"
	"securevpn/internal/model"
)

// Controller is the connection session state machine for one client.
type Controller struct {
	svc      Service
	notifier Notifier
	clock    clock.Clock
	log      zerolog.Logger
	timeout  time.Duration
	onSample func(model.SampleRecord)

	events    chan event
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	// Everything below is owned by the event loop.
	state      State
	session    *model.Session
	bound      model.Endpoint
	dir        *Directory
	sampler    *Sampler
	auto       *AutoConnect
	refreshing bool
	shutdown   bool
	settled    []chan struct{}
}

type event struct {
	fn   func()
	done chan struct{}
}

// Snapshot is a consistent view of the controller at one point of its loop.
type Snapshot struct {
	State            State
	Endpoints        []model.Endpoint
	Selected         model.Endpoint
	HasSelection     bool
	Session          *model.Session
	Sample           model.Sample
	AutoConnect      bool
	AutoConnectArmed bool
}

// New starts a controller in the Disconnected state with an empty
// directory. Call Refresh to populate it and Close to release it.
func New(svc Service, notifier Notifier, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.normalize()
	if notifier == nil {
		notifier = NotifierFunc(func(Event) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		svc:      svc,
		notifier: notifier,
		clock:    o.clock,
		log:      o.logger,
		timeout:  o.requestTimeout,
		onSample: o.onSample,
		events:   make(chan event, 16),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		dir:      NewDirectory(),
	}
	c.sampler = NewSampler(o.sampleInterval, o.rng, c.after, c.sampled)
	c.auto = NewAutoConnect(o.autoConnectDelay, o.autoConnect, c.after, c.autoConnect)

	go c.run()
	return c
}

// Refresh fetches the endpoint list. A refresh already in flight absorbs
// the call.
func (c *Controller) Refresh() error { return c.call(c.refresh) }

// Connect opens a session to the selected endpoint. It is a no-op unless
// the controller is Disconnected with a selection.
func (c *Controller) Connect() error { return c.call(c.connect) }

// Disconnect closes the open session. It is a no-op unless Connected.
func (c *Controller) Disconnect() error { return c.call(c.disconnect) }

// Select changes the selected endpoint. It returns an error wrapping
// ErrSelectionRejected outside the Disconnected state or for unknown ids.
func (c *Controller) Select(endpointID string) error {
	var err error
	if cerr := c.call(func() {
		err = c.dir.Select(endpointID, c.state != Disconnected)
	}); cerr != nil {
		return cerr
	}
	if err != nil {
		c.log.Debug().Err(err).Str("endpoint", endpointID).Msg("selection rejected")
	}
	return err
}

// SetAutoConnect flips the auto-connect toggle.
func (c *Controller) SetAutoConnect(on bool) error {
	return c.call(func() { c.auto.SetEnabled(on) })
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := c.call(func() {
		sel, has := c.dir.Selected()
		snap = Snapshot{
			State:            c.state,
			Endpoints:        c.dir.Endpoints(),
			Selected:         sel,
			HasSelection:     has,
			Sample:           c.sampler.Sample(),
			AutoConnect:      c.auto.Enabled(),
			AutoConnectArmed: c.auto.Armed(),
		}
		if c.session != nil {
			s := *c.session
			snap.Session = &s
		}
	})
	return snap, err
}

// State returns the current state, or Disconnected after Close.
func (c *Controller) State() State {
	snap, err := c.Snapshot()
	if err != nil {
		return Disconnected
	}
	return snap.State
}

// Shutdown stops auto-connect, closes any open session (waiting for an
// in-flight connect to settle first) and then closes the controller. If ctx
// ends first the controller is closed without waiting further.
func (c *Controller) Shutdown(ctx context.Context) error {
	settled := make(chan struct{})
	if err := c.call(func() {
		c.shutdown = true
		c.settled = append(c.settled, settled)
	}); err != nil {
		return err
	}

	var err error
	select {
	case <-settled:
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.Close()
	return err
}

// Close tears the controller down at once: timers are cancelled, in-flight
// requests are abandoned and the local session is dropped without telling
// the service.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.stopped
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			c.teardown()
			return
		case ev := <-c.events:
			ev.fn()
			c.reconcile()
			if ev.done != nil {
				close(ev.done)
			}
		}
	}
}

// post queues fn on the loop without waiting for it.
func (c *Controller) post(fn func()) bool {
	select {
	case c.events <- event{fn: fn}:
		return true
	case <-c.done:
		return false
	}
}

// call queues fn and waits until it and the reconcile pass after it ran.
func (c *Controller) call(fn func()) error {
	done := make(chan struct{})
	select {
	case c.events <- event{fn: fn, done: done}:
	case <-c.done:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// after schedules fn onto the loop once d has elapsed.
func (c *Controller) after(d time.Duration, fn func()) *clock.Timer {
	return c.clock.AfterFunc(d, func() { c.post(fn) })
}

func (c *Controller) reconcile() {
	if c.shutdown {
		c.auto.Disarm()
		if c.state == Connected {
			c.disconnect()
		}
		if c.state == Disconnected {
			for _, ch := range c.settled {
				close(ch)
			}
			c.settled = nil
		}
		return
	}
	if c.state == Disconnected {
		c.dir.Release()
	}
	_, selected := c.dir.Selected()
	c.auto.Evaluate(c.state == Disconnected && selected)
}

func (c *Controller) teardown() {
	c.cancel()
	c.sampler.Stop()
	c.auto.Disarm()
	c.session = nil
	c.bound = model.Endpoint{}
	c.state = Disconnected
	for _, ch := range c.settled {
		close(ch)
	}
	c.settled = nil
}

func (c *Controller) notify(e Event) {
	e.At = c.clock.Now()
	c.notifier.Notify(e)
}

func (c *Controller) refresh() {
	if c.refreshing {
		return
	}
	c.refreshing = true

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	go func() {
		defer cancel()
		endpoints, err := c.svc.ListServers(ctx)
		c.post(func() { c.refreshDone(endpoints, err) })
	}()
}

func (c *Controller) refreshDone(endpoints []model.Endpoint, err error) {
	c.refreshing = false
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
		c.log.Warn().Err(err).Msg("directory refresh failed")
		c.notify(Event{Kind: EventDirectoryUnavailable, Err: err})
		return
	}

	c.dir.Replace(endpoints, c.state != Disconnected)
	sel, _ := c.dir.Selected()
	c.log.Debug().Int("endpoints", len(endpoints)).Str("selected", sel.ID).Msg("directory refreshed")
	c.notify(Event{Kind: EventDirectoryRefreshed, Endpoint: sel})
}

func (c *Controller) connect() {
	if c.state != Disconnected || c.shutdown {
		c.log.Debug().Stringer("state", c.state).Msg("connect ignored")
		return
	}
	ep, ok := c.dir.Selected()
	if !ok {
		c.log.Debug().Msg("connect ignored: no endpoint selected")
		return
	}

	c.state = Connecting
	c.bound = ep
	c.log.Debug().Str("endpoint", ep.ID).Msg("opening session")

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	go func() {
		defer cancel()
		res, err := c.svc.OpenSession(ctx, ep.ID)
		c.post(func() { c.connectDone(ep, res, err) })
	}()
}

func (c *Controller) connectDone(ep model.Endpoint, res model.OpenResult, err error) {
	if c.state != Connecting {
		return
	}
	if err == nil && (!res.Success || res.SessionID == "") {
		err = refusal(res.Message, "open session refused")
	}
	if err != nil {
		c.state = Disconnected
		c.bound = model.Endpoint{}
		err = fmt.Errorf("%w: endpoint %s: %v", ErrConnectFailed, ep.ID, err)
		c.log.Warn().Err(err).Msg("connect failed")
		c.notify(Event{Kind: EventConnectFailed, Endpoint: ep, Err: err})
		return
	}

	addr := res.EndpointAddress
	if addr == "" {
		addr = ep.Address
	}
	c.session = &model.Session{
		ID:              res.SessionID,
		EndpointID:      ep.ID,
		EndpointAddress: addr,
		StartedAt:       c.clock.Now(),
	}
	c.state = Connected
	c.sampler.Start()
	c.log.Info().Str("endpoint", ep.ID).Str("session", res.SessionID).Msg("connected")
	c.notify(Event{Kind: EventConnected, Endpoint: ep, SessionID: res.SessionID})
}

func (c *Controller) disconnect() {
	if c.state != Connected {
		c.log.Debug().Stringer("state", c.state).Msg("disconnect ignored")
		return
	}

	c.state = Disconnecting
	c.sampler.Stop()
	sess := *c.session
	ep := c.bound
	c.log.Debug().Str("session", sess.ID).Msg("closing session")

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	go func() {
		defer cancel()
		res, err := c.svc.CloseSession(ctx, sess.ID)
		c.post(func() { c.disconnectDone(ep, sess, res, err) })
	}()
}

func (c *Controller) disconnectDone(ep model.Endpoint, sess model.Session, res model.CloseResult, err error) {
	if c.state != Disconnecting {
		return
	}
	c.sampler.Stop()
	c.session = nil
	c.bound = model.Endpoint{}
	c.state = Disconnected

	if err == nil && !res.Success {
		err = refusal(res.Message, "close session refused")
	}
	if err != nil {
		err = fmt.Errorf("%w: session %s: %v", ErrDisconnectFailed, sess.ID, err)
		c.log.Warn().Err(err).Msg("disconnect failed, session dropped locally")
		c.notify(Event{Kind: EventDisconnectFailed, Endpoint: ep, SessionID: sess.ID, Err: err})
		return
	}
	c.log.Info().Str("endpoint", ep.ID).Str("session", sess.ID).Msg("disconnected")
	c.notify(Event{Kind: EventDisconnected, Endpoint: ep, SessionID: sess.ID})
}

func (c *Controller) autoConnect() {
	c.log.Debug().Msg("auto-connect firing")
	c.connect()
}

func (c *Controller) sampled(s model.Sample) {
	if c.onSample == nil || c.session == nil {
		return
	}
	c.onSample(model.SampleRecord{
		Timestamp:  c.clock.Now(),
		SessionID:  c.session.ID,
		EndpointID: c.session.EndpointID,
		Sample:     s,
	})
}
