// Package scan runs detection cycles: capture once, then visit monitors,
// templates and tiles until the first match.
package scan

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/respawnwatch/internal/display"
	"github.com/GriffinCanCode/respawnwatch/internal/match"
	"github.com/GriffinCanCode/respawnwatch/internal/screen"
	"github.com/GriffinCanCode/respawnwatch/internal/templates"
	"github.com/GriffinCanCode/respawnwatch/internal/trace"
)

// State is the scheduler's position within a cycle.
type State int32

const (
	Idle State = iota
	Capturing
	Scanning
	Matched
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Scanning:
		return "scanning"
	case Matched:
		return "matched"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Timing sections reported to the Sink.
const (
	SectionCycle         = "cycle"
	SectionCapture       = "capture"
	SectionTileInference = "tile_inference"
	SectionMatchPrefix   = "match/"
)

// Sink receives timing samples keyed by section.
type Sink interface {
	Observe(section string, d time.Duration)
}

// Registry provides display snapshots.
type Registry interface {
	Current() (display.Snapshot, error)
	Refresh() (display.Snapshot, error)
}

// Capturer produces per-monitor frames for one cycle.
type Capturer interface {
	CaptureAll(ctx context.Context, snap display.Snapshot, scale float64, include []int) ([]screen.MonitorFrame, error)
}

// Templates provides the current template set.
type Templates interface {
	Loaded() []*templates.Template
	MaxExtent() image.Point
}

// Hit is passed to OnMatch while the frame is still valid.
type Hit struct {
	Frame    screen.MonitorFrame
	Scene    *image.RGBA // the frame or the tile that matched
	Template *templates.Template
	Result   match.Result
}

// Options tune a Scheduler.
type Options struct {
	Threshold   float64
	Scale       float64
	Include     []int // 0-based registry indices, empty = all
	TileRows    int
	TileCols    int
	TileOverlap int

	// OnMatch runs inside the cycle, before the frame is released.
	OnMatch func(ctx context.Context, hit Hit)
}

// Scheduler runs one cycle at a time and remembers the last matching monitor.
type Scheduler struct {
	registry  Registry
	capturer  Capturer
	templates Templates
	matcher   match.Matcher
	sink      Sink
	opts      Options

	state atomic.Int32

	mu          sync.Mutex // serializes cycles and guards the fields below
	lastMatched int
	layout      []display.Monitor
	seen        bool
}

// New creates a scheduler. sink may be nil.
func New(reg Registry, c Capturer, t Templates, m match.Matcher, sink Sink, opts Options) *Scheduler {
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	opts.TileRows = max(opts.TileRows, 1)
	opts.TileCols = max(opts.TileCols, 1)
	return &Scheduler{registry: reg, capturer: c, templates: t, matcher: m, sink: sink, opts: opts}
}

// State returns the current cycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Matcher returns the matcher in use.
func (s *Scheduler) Matcher() match.Matcher {
	return s.matcher
}

// LastMatchedMonitor returns the registry index visited first in the next cycle.
func (s *Scheduler) LastMatchedMonitor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMatched
}

// Refresh re-enumerates displays. The next cycle resets the hint if the layout changed.
func (s *Scheduler) Refresh() (display.Snapshot, error) {
	return s.registry.Refresh()
}

// Cycle captures once and scans until the first match. A miss is a result with
// Matched=false and a nil error; capture and display failures are returned.
// ctx is only checked before the cycle starts.
func (s *Scheduler) Cycle(ctx context.Context) (match.Result, error) {
	if err := ctx.Err(); err != nil {
		return match.Result{Tile: -1}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = trace.WithObserver(ctx, s.sink)
	ctx, span := trace.StartSpan(ctx, SectionCycle)
	defer span.End()
	log := trace.Logger(ctx)

	snap, err := s.registry.Current()
	if err != nil {
		return match.Result{Tile: -1}, err
	}
	s.checkShape(ctx, snap)

	s.transition(Capturing)
	frames, err := s.capturer.CaptureAll(ctx, snap, s.opts.Scale, s.opts.Include)
	if err != nil {
		s.transition(Idle)
		return match.Result{Tile: -1}, err
	}

	s.transition(Scanning)
	res, ok := s.scan(ctx, frames)
	if ok {
		s.lastMatched = res.Monitor
		s.transition(Matched)
		span.SetAttr("monitor", res.Monitor)
		span.SetAttr("template", res.Template)
		log.Debug("cycle matched", "span", span, "score", res.Score, "tile", res.Tile)
	} else {
		s.transition(Exhausted)
	}
	s.transition(Idle)
	return res, nil
}

func (s *Scheduler) scan(ctx context.Context, frames []screen.MonitorFrame) (match.Result, bool) {
	tmpls := s.templates.Loaded()
	tiling := match.IsAreaBounded(s.matcher) && s.opts.TileRows*s.opts.TileCols > 1
	overlap := s.opts.TileOverlap
	if tiling {
		ext := s.templates.MaxExtent()
		overlap = max(overlap, ext.X, ext.Y)
	}

	for _, f := range VisitOrder(frames, s.lastMatched) {
		regions := []image.Rectangle{f.Image.Bounds()}
		if tiling {
			regions = Tiles(f.Image.Bounds(), s.opts.TileRows, s.opts.TileCols, overlap)
		}
		for _, t := range tmpls {
			for i, r := range regions {
				scene := f.Image.SubImage(r).(*image.RGBA)
				tile := -1
				if tiling {
					tile = i
				}
				res := s.matchOne(ctx, scene, t, tiling)
				res.Monitor = f.Monitor.Index
				res.Tile = tile
				if !res.Matched {
					continue
				}
				if s.opts.OnMatch != nil {
					s.opts.OnMatch(ctx, Hit{Frame: f, Scene: scene, Template: t, Result: res})
				}
				return res, true
			}
		}
	}
	return match.Result{Tile: -1, Strategy: s.matcher.Name()}, false
}

func (s *Scheduler) matchOne(ctx context.Context, scene *image.RGBA, t *templates.Template, tiled bool) match.Result {
	ctx, span := trace.StartSpan(ctx, SectionMatchPrefix+t.Name)
	defer span.End()
	if tiled {
		var tileSpan *trace.Span
		ctx, tileSpan = trace.StartSpan(ctx, SectionTileInference)
		defer tileSpan.End()
	}
	return s.matcher.Match(ctx, scene, t, s.opts.Threshold)
}

// checkShape resets the hint when the display layout changed since the last
// cycle. A refresh that yields the same monitors keeps it.
func (s *Scheduler) checkShape(ctx context.Context, snap display.Snapshot) {
	changed := s.seen && !sameLayout(s.layout, snap.Monitors)
	if changed && s.lastMatched != 0 {
		trace.Logger(ctx).Info("display layout changed, resetting monitor hint",
			"previous", s.lastMatched, "monitors", len(snap.Monitors), "generation", snap.Generation)
	}
	if changed {
		s.lastMatched = 0
	}
	s.seen = true
	s.layout = append(s.layout[:0], snap.Monitors...)
}

func sameLayout(a, b []display.Monitor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Index != b[i].Index || a[i].Bounds != b[i].Bounds {
			return false
		}
	}
	return true
}

func (s *Scheduler) transition(to State) {
	s.state.Store(int32(to))
}

// VisitOrder puts the frame of the last matched monitor first and keeps the
// rest in registry order.
func VisitOrder(frames []screen.MonitorFrame, last int) []screen.MonitorFrame {
	out := make([]screen.MonitorFrame, 0, len(frames))
	for _, f := range frames {
		if f.Monitor.Index == last {
			out = append(out, f)
		}
	}
	for _, f := range frames {
		if f.Monitor.Index != last {
			out = append(out, f)
		}
	}
	return out
}

// Tiles splits bounds into rows x cols regions, each extended right and down by
// overlap and clipped to bounds. Tiles are numbered row-major.
func Tiles(bounds image.Rectangle, rows, cols, overlap int) []image.Rectangle {
	rows, cols = max(rows, 1), max(cols, 1)
	if rows == 1 && cols == 1 {
		return []image.Rectangle{bounds}
	}
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]image.Rectangle, 0, rows*cols)
	for r := 0; r < rows; r++ {
		y0 := r * h / rows
		y1 := min(h, (r+1)*h/rows+overlap)
		for c := 0; c < cols; c++ {
			x0 := c * w / cols
			x1 := min(w, (c+1)*w/cols+overlap)
			out = append(out, image.Rect(x0, y0, x1, y1).Add(bounds.Min))
		}
	}
	return out
}
