package session

import (
	"math/rand/v2"
	"time"

	"securevpn/internal/clock"
	"securevpn/internal/model"
)

// scheduleFunc arranges for fn to run after d on the owner's goroutine.
type scheduleFunc func(d time.Duration, fn func()) *clock.Timer

const (
	downloadFloorMbps = 80
	downloadSpanMbps  = 20
	uploadFloorMbps   = 40
	uploadSpanMbps    = 10
	maxDataStepGB     = 0.5
)

// Sampler fabricates telemetry for the open session, one sample per period.
type Sampler struct {
	period   time.Duration
	rng      *rand.Rand
	schedule scheduleFunc
	onSample func(model.Sample)

	sample  model.Sample
	running bool
	gen     uint64
	timer   *clock.Timer
}

// NewSampler returns a stopped sampler. onSample may be nil.
func NewSampler(period time.Duration, rng *rand.Rand, schedule scheduleFunc, onSample func(model.Sample)) *Sampler {
	return &Sampler{
		period:   period,
		rng:      rng,
		schedule: schedule,
		onSample: onSample,
	}
}

// Start resets the sample to zero and begins ticking.
func (s *Sampler) Start() {
	s.Stop()
	s.sample = model.Sample{}
	s.running = true
	s.arm()
}

// Stop cancels the pending tick. The last sample is kept.
func (s *Sampler) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.running = false
	// A tick already queued by the old timer carries the old generation.
	s.gen++
}

// Running reports whether the sampler is ticking.
func (s *Sampler) Running() bool { return s.running }

// Sample returns the latest sample.
func (s *Sampler) Sample() model.Sample { return s.sample }

func (s *Sampler) arm() {
	gen := s.gen
	s.timer = s.schedule(s.period, func() { s.tick(gen) })
}

func (s *Sampler) tick(gen uint64) {
	if !s.running || gen != s.gen {
		return
	}
	s.sample.ElapsedSeconds++
	s.sample.DownloadMbps = downloadFloorMbps + s.rng.Float64()*downloadSpanMbps
	s.sample.UploadMbps = uploadFloorMbps + s.rng.Float64()*uploadSpanMbps
	s.sample.DataGB += s.rng.Float64() * maxDataStepGB
	if s.onSample != nil {
		s.onSample(s.sample)
	}
	s.arm()
}
