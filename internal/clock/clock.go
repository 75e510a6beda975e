// Package clock lets the session controller schedule its timers against
// an injectable time source. Production code uses Real; tests use Fake and
// move time forward explicitly with Advance.
package clock

import "time"

// Clock is the subset of the time package the controller depends on.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f once d has elapsed unless the returned Timer is
	// stopped first. d must be positive.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop cancels the pending call. It reports whether the call was still
// pending; false means it already fired or was stopped before.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}
