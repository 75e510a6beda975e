package metrics

import (
	"math"
	"sort"
	"time"

	"securevpn/internal/model"
)

// Summary is a basic statistics snapshot over telemetry records.
type Summary struct {
	Count           int
	Sessions        int
	From            time.Time
	To              time.Time
	AvgDownloadMbps float64
	P95DownloadMbps float64
	MinDownloadMbps float64
	MaxDownloadMbps float64
	AvgUploadMbps   float64
	// TotalDataGB adds the last reported counter of every session.
	TotalDataGB       float64
	LongestSessionSec int
}

// Summarize computes summary metrics for items in a time window.
func Summarize(items []model.SampleRecord, since time.Time) Summary {
	filtered := make([]model.SampleRecord, 0, len(items))
	for _, m := range items {
		if m.Timestamp.After(since) || m.Timestamp.Equal(since) {
			filtered = append(filtered, m)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	values := make([]float64, 0, len(filtered))
	var sumDown, sumUp float64
	minDown := math.MaxFloat64
	maxDown := 0.0
	from := filtered[0].Timestamp
	to := filtered[0].Timestamp
	perSession := make(map[string]model.Sample)

	for _, m := range filtered {
		values = append(values, m.DownloadMbps)
		sumDown += m.DownloadMbps
		sumUp += m.UploadMbps
		if m.DownloadMbps < minDown {
			minDown = m.DownloadMbps
		}
		if m.DownloadMbps > maxDown {
			maxDown = m.DownloadMbps
		}
		if m.Timestamp.Before(from) {
			from = m.Timestamp
		}
		if m.Timestamp.After(to) {
			to = m.Timestamp
		}
		if last, ok := perSession[m.SessionID]; !ok || m.ElapsedSeconds >= last.ElapsedSeconds {
			perSession[m.SessionID] = m.Sample
		}
	}

	var totalData float64
	longest := 0
	for _, s := range perSession {
		totalData += s.DataGB
		if s.ElapsedSeconds > longest {
			longest = s.ElapsedSeconds
		}
	}

	sort.Float64s(values)
	count := float64(len(filtered))

	return Summary{
		Count:             len(filtered),
		Sessions:          len(perSession),
		From:              from,
		To:                to,
		AvgDownloadMbps:   sumDown / count,
		P95DownloadMbps:   percentile(values, 0.95),
		MinDownloadMbps:   minDown,
		MaxDownloadMbps:   maxDown,
		AvgUploadMbps:     sumUp / count,
		TotalDataGB:       totalData,
		LongestSessionSec: longest,
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
