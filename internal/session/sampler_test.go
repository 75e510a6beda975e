package session

import (
	"math/rand/v2"
	"testing"
	"time"

	"securevpn/internal/clock"
	"securevpn/internal/model"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestSampler(c *clock.FakeClock, hook func(model.Sample)) *Sampler {
	rng := rand.New(rand.NewPCG(1, 2))
	return NewSampler(time.Second, rng, c.AfterFunc, hook)
}

func TestSampler_TicksWithinRanges(t *testing.T) {
	t.Parallel()

	c := clock.Fake(epoch)
	var prev model.Sample
	s := newTestSampler(c, func(got model.Sample) {
		if got.ElapsedSeconds != prev.ElapsedSeconds+1 {
			t.Errorf("elapsed %d after %d", got.ElapsedSeconds, prev.ElapsedSeconds)
		}
		if got.DataGB < prev.DataGB || got.DataGB-prev.DataGB >= 0.5 {
			t.Errorf("data step %.4f -> %.4f", prev.DataGB, got.DataGB)
		}
		if got.DownloadMbps < 80 || got.DownloadMbps >= 100 {
			t.Errorf("download=%.2f", got.DownloadMbps)
		}
		if got.UploadMbps < 40 || got.UploadMbps >= 50 {
			t.Errorf("upload=%.2f", got.UploadMbps)
		}
		prev = got
	})

	s.Start()
	c.Advance(200 * time.Second)
	if got := s.Sample().ElapsedSeconds; got != 200 {
		t.Fatalf("elapsed=%d", got)
	}
}

func TestSampler_StopKeepsLastSample(t *testing.T) {
	t.Parallel()

	c := clock.Fake(epoch)
	s := newTestSampler(c, nil)
	s.Start()
	c.Advance(3 * time.Second)
	s.Stop()

	last := s.Sample()
	c.Advance(10 * time.Second)
	if s.Sample() != last {
		t.Fatalf("sample changed after stop: %+v -> %+v", last, s.Sample())
	}
	if last.ElapsedSeconds != 3 {
		t.Fatalf("elapsed=%d", last.ElapsedSeconds)
	}
	if s.Running() {
		t.Fatalf("still running")
	}
	if c.Pending() != 0 {
		t.Fatalf("timer left pending: %d", c.Pending())
	}
}

func TestSampler_StartResets(t *testing.T) {
	t.Parallel()

	c := clock.Fake(epoch)
	s := newTestSampler(c, nil)
	s.Start()
	c.Advance(5 * time.Second)
	s.Stop()

	s.Start()
	if got := s.Sample(); got != (model.Sample{}) {
		t.Fatalf("not reset: %+v", got)
	}
	c.Advance(time.Second)
	if got := s.Sample().ElapsedSeconds; got != 1 {
		t.Fatalf("elapsed=%d", got)
	}
}

func TestSampler_StaleTickIgnored(t *testing.T) {
	t.Parallel()

	var queued []func()
	schedule := func(d time.Duration, fn func()) *clock.Timer {
		queued = append(queued, fn)
		return nil
	}
	s := NewSampler(time.Second, rand.New(rand.NewPCG(3, 4)), schedule, nil)

	s.Start()
	s.Stop()
	for _, fn := range queued {
		fn()
	}
	if got := s.Sample().ElapsedSeconds; got != 0 {
		t.Fatalf("stale tick counted: elapsed=%d", got)
	}
}
