package session

import (
	"time"

	"securevpn/internal/clock"
)

// AutoConnect arms a single delayed connect whenever it is enabled and the
// controller reports it is ready (disconnected with a selection), and
// disarms as soon as either stops holding.
type AutoConnect struct {
	delay    time.Duration
	schedule scheduleFunc
	fire     func()

	enabled bool
	armed   bool
	gen     uint64
	timer   *clock.Timer
}

// NewAutoConnect returns a disarmed policy that calls fire when it expires.
func NewAutoConnect(delay time.Duration, enabled bool, schedule scheduleFunc, fire func()) *AutoConnect {
	return &AutoConnect{
		delay:    delay,
		schedule: schedule,
		fire:     fire,
		enabled:  enabled,
	}
}

// SetEnabled flips the toggle. The caller re-evaluates afterwards.
func (a *AutoConnect) SetEnabled(on bool) { a.enabled = on }

// Enabled reports the toggle.
func (a *AutoConnect) Enabled() bool { return a.enabled }

// Armed reports whether a deferred connect is pending.
func (a *AutoConnect) Armed() bool { return a.armed }

// Evaluate arms on a false-to-true edge of the guard and disarms on a
// true-to-false edge. A guard that stays true keeps the pending arming.
func (a *AutoConnect) Evaluate(ready bool) {
	guard := a.enabled && ready
	switch {
	case guard && !a.armed:
		a.arm()
	case !guard && a.armed:
		a.Disarm()
	}
}

// Disarm cancels a pending connect.
func (a *AutoConnect) Disarm() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.armed = false
	a.gen++
}

func (a *AutoConnect) arm() {
	a.armed = true
	gen := a.gen
	a.timer = a.schedule(a.delay, func() { a.expire(gen) })
}

func (a *AutoConnect) expire(gen uint64) {
	if !a.armed || gen != a.gen {
		return
	}
	a.armed = false
	a.timer = nil
	a.gen++
	a.fire()
}
