// Package profile accumulates per-section timings reported by trace spans.
package profile

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Stat is the accumulated timing of one section.
type Stat struct {
	Section string        `json:"section"`
	Total   time.Duration `json:"total_ns"`
	Calls   int           `json:"calls"`
}

// Avg returns the mean duration per call.
func (s Stat) Avg() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Calls)
}

// Recorder is a concurrency-safe timing sink.
type Recorder struct {
	mu    sync.Mutex
	stats map[string]*Stat
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{stats: make(map[string]*Stat)}
}

// Observe adds one sample to section.
func (r *Recorder) Observe(section string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[section]
	if !ok {
		s = &Stat{Section: section}
		r.stats[section] = s
	}
	s.Total += d
	s.Calls++
}

// Snapshot returns a copy of all stats, largest total first.
func (r *Recorder) Snapshot() []Stat {
	r.mu.Lock()
	out := make([]Stat, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Section < out[j].Section
	})
	return out
}

// Get returns the stat for one section.
func (r *Recorder) Get(section string) (Stat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[section]
	if !ok {
		return Stat{}, false
	}
	return *s, true
}

// Report logs one line per section with its share of the summed time.
func (r *Recorder) Report(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	stats := r.Snapshot()
	if len(stats) == 0 {
		logger.Info("profile: no samples")
		return
	}

	var sum time.Duration
	for _, s := range stats {
		sum += s.Total
	}
	for _, s := range stats {
		share := 0.0
		if sum > 0 {
			share = float64(s.Total) / float64(sum) * 100
		}
		logger.Info("profile",
			"section", s.Section,
			"total", s.Total.Round(time.Microsecond),
			"calls", s.Calls,
			"avg", s.Avg().Round(time.Microsecond),
			"share_pct", int(share+0.5),
		)
	}
}

// Reset discards all samples.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.stats = make(map[string]*Stat)
	r.mu.Unlock()
}
