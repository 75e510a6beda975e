package session

import (
	"testing"
	"time"

	"securevpn/internal/clock"
)

func TestAutoConnect_FiresOnceAfterDelay(t *testing.T) {
	t.Parallel()

	c := clock.Fake(epoch)
	fired := 0
	a := NewAutoConnect(2*time.Second, true, c.AfterFunc, func() { fired++ })

	a.Evaluate(true)
	if !a.Armed() {
		t.Fatalf("not armed")
	}
	c.Advance(1999 * time.Millisecond)
	if fired != 0 {
		t.Fatalf("fired early")
	}
	a.Evaluate(true)
	c.Advance(time.Millisecond)
	if fired != 1 {
		t.Fatalf("fired=%d", fired)
	}
	if a.Armed() {
		t.Fatalf("still armed after firing")
	}
	c.Advance(time.Minute)
	if fired != 1 {
		t.Fatalf("fired=%d", fired)
	}
}

func TestAutoConnect_DisabledNeverArms(t *testing.T) {
	t.Parallel()

	c := clock.Fake(epoch)
	a := NewAutoConnect(2*time.Second, false, c.AfterFunc, func() { t.Errorf("fired while disabled") })
	a.Evaluate(true)
	if a.Armed() || c.Pending() != 0 {
		t.Fatalf("armed while disabled")
	}
	c.Advance(time.Minute)
}

func TestAutoConnect_DisarmsWhenGuardDrops(t *testing.T) {
	t.Parallel()

	c := clock.Fake(epoch)
	fired := 0
	a := NewAutoConnect(2*time.Second, true, c.AfterFunc, func() { fired++ })

	a.Evaluate(true)
	c.Advance(time.Second)
	a.SetEnabled(false)
	a.Evaluate(true)
	if a.Armed() || c.Pending() != 0 {
		t.Fatalf("still armed after toggle off")
	}
	c.Advance(time.Minute)
	if fired != 0 {
		t.Fatalf("fired=%d", fired)
	}

	// Re-arming starts a fresh delay.
	a.SetEnabled(true)
	a.Evaluate(true)
	c.Advance(time.Second)
	if fired != 0 {
		t.Fatalf("re-armed timer reused old deadline")
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired=%d", fired)
	}
}

func TestAutoConnect_QueuedFireAfterDisarmIgnored(t *testing.T) {
	t.Parallel()

	var queued []func()
	schedule := func(d time.Duration, fn func()) *clock.Timer {
		queued = append(queued, fn)
		return nil
	}
	fired := 0
	a := NewAutoConnect(2*time.Second, true, schedule, func() { fired++ })

	a.Evaluate(true)
	a.Evaluate(false)
	for _, fn := range queued {
		fn()
	}
	if fired != 0 {
		t.Fatalf("stale arming fired")
	}
}
