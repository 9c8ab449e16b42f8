// Package orchestrator runs the detection loop and publishes its results.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/GriffinCanCode/respawnwatch/internal/config"
	"github.com/GriffinCanCode/respawnwatch/internal/display"
	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
	"github.com/GriffinCanCode/respawnwatch/internal/match"
	"github.com/GriffinCanCode/respawnwatch/internal/scan"
	"github.com/GriffinCanCode/respawnwatch/internal/templates"
	"github.com/GriffinCanCode/respawnwatch/internal/trace"
)

// Event types
const (
	EventMatch      = "match"
	EventMiss       = "miss"
	EventCycleError = "cycle_error"
)

// Event is published after every cycle.
type Event struct {
	Type   string       `json:"type"`
	Cycle  uint64       `json:"cycle"`
	Time   time.Time    `json:"time"`
	Result match.Result `json:"result"`
	Error  string       `json:"error,omitempty"`
	Err    error        `json:"-"`
}

// Scanner runs detection cycles. Implemented by *scan.Scheduler.
type Scanner interface {
	Cycle(ctx context.Context) (match.Result, error)
	Refresh() (display.Snapshot, error)
	State() scan.State
	LastMatchedMonitor() int
	Matcher() match.Matcher
}

// TemplateLoader reloads the template set. Implemented by *templates.Store.
type TemplateLoader interface {
	LoadAll(dir string, exts []string) ([]*templates.Template, error)
	Clear()
}

// Reporter summarizes and resets timing stats. Implemented by *profile.Recorder.
type Reporter interface {
	Report(logger *slog.Logger)
	Reset()
}

// cacheClearer is implemented by matchers that cache per-template state.
type cacheClearer interface {
	ClearCache()
}

// scorerStater is implemented by matchers that may score remotely.
type scorerStater interface {
	ScorerState() string
}

// Status is a point-in-time view of the loop.
type Status struct {
	State              string  `json:"state"`
	Strategy           string  `json:"strategy"`
	MatcherAvailable   bool    `json:"matcher_available"`
	ScorerBreaker      string  `json:"scorer_breaker,omitempty"`
	Cycles             uint64  `json:"cycles"`
	Matches            uint64  `json:"matches"`
	Errors             uint64  `json:"errors"`
	Dropped            uint64  `json:"dropped"`
	LastMatchedMonitor int     `json:"last_matched_monitor"`
	FPS                float64 `json:"fps"`
	Latest             *Event  `json:"latest,omitempty"`
	LastMatch          *Event  `json:"last_match,omitempty"`
}

// Manager drives the scanner in a loop
type Manager struct {
	cfg       *config.Config
	scanner   Scanner
	templates TemplateLoader
	reporter  Reporter

	events chan Event

	mu        sync.RWMutex
	cycles    uint64
	matches   uint64
	errs      uint64
	dropped   uint64
	fps       float64
	latest    *Event
	lastMatch *Event

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a manager. tmpls and rep may be nil.
func New(cfg *config.Config, sc Scanner, tmpls TemplateLoader, rep Reporter) *Manager {
	return &Manager{
		cfg:       cfg,
		scanner:   sc,
		templates: tmpls,
		reporter:  rep,
		events:    make(chan Event, EventBuffer),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Events returns the channel of cycle events. Events are dropped when it is full.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Start runs the loop in the background until ctx ends or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			trace.Logger(ctx).Error("watch loop stopped", "error", err)
		}
	}()
}

// Stop ends the loop started by Start and waits for the current cycle to finish.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

// Run cycles until ctx is cancelled or Stop is called. A running cycle is never
// interrupted.
func (m *Manager) Run(ctx context.Context) error {
	log := trace.Logger(ctx)
	log.Info("watch loop started", "strategy", m.scanner.Matcher().Name(), "poll", m.cfg.Poll())
	defer log.Info("watch loop stopped")

	window := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return nil
		default:
		}

		ev := m.runOnce(ctx)
		if ev.Err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		wait := m.cfg.Poll()
		if ev.Err != nil && apperrors.IsFatalToCycle(ev.Err) {
			m.recoverDisplays(ctx)
			wait = max(m.cfg.DisplayRetry(), MinDisplayRetry)
		}

		if n := m.cfg.ReportEvery; n > 0 && ev.Cycle%uint64(n) == 0 {
			m.report(ctx, n, time.Since(window))
			window = time.Now()
		}

		if !m.sleep(ctx, wait) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		}
	}
}

// runOnce runs a single cycle and publishes its event.
func (m *Manager) runOnce(ctx context.Context) Event {
	res, err := m.scanner.Cycle(ctx)

	m.mu.Lock()
	m.cycles++
	ev := Event{Type: EventMiss, Cycle: m.cycles, Time: time.Now(), Result: res, Err: err}
	switch {
	case err != nil:
		ev.Type = EventCycleError
		ev.Error = err.Error()
		m.errs++
	case res.Matched:
		ev.Type = EventMatch
		m.matches++
		m.lastMatch = &ev
	}
	m.latest = &ev
	m.mu.Unlock()

	log := trace.Logger(ctx)
	switch ev.Type {
	case EventMatch:
		log.Info("trigger screen found", "cycle", ev.Cycle, "monitor", res.Monitor,
			"template", res.Template, "score", res.Score, "tile", res.Tile)
	case EventCycleError:
		if ctx.Err() == nil {
			log.Warn("cycle failed", "cycle", ev.Cycle, "code", apperrors.CodeOf(err), "error", err)
		}
	}

	m.publish(ev)
	return ev
}

func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
}

// recoverDisplays re-enumerates displays after a capture or display failure.
func (m *Manager) recoverDisplays(ctx context.Context) {
	snap, err := m.scanner.Refresh()
	if err != nil {
		trace.Logger(ctx).Warn("display refresh failed", "error", err, "retry_in", m.cfg.DisplayRetry())
		return
	}
	trace.Logger(ctx).Info("displays refreshed", "monitors", len(snap.Monitors), "generation", snap.Generation)
}

func (m *Manager) report(ctx context.Context, cycles int, elapsed time.Duration) {
	var fps float64
	if elapsed > 0 {
		fps = float64(cycles) / elapsed.Seconds()
	}
	m.mu.Lock()
	m.fps = fps
	m.mu.Unlock()

	log := trace.Logger(ctx)
	log.Info("scan rate", "fps", fps, "cycles", cycles, "elapsed", elapsed)
	if m.reporter != nil {
		m.reporter.Report(log)
		m.reporter.Reset()
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-m.stopCh:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.stopCh:
		return false
	case <-t.C:
		return true
	}
}

// Latest returns the most recent event, if any.
func (m *Manager) Latest() (Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Event{}, false
	}
	return *m.latest, true
}

// Status returns loop counters and the latest events.
func (m *Manager) Status() Status {
	matcher := m.scanner.Matcher()
	st := Status{
		State:              m.scanner.State().String(),
		Strategy:           matcher.Name(),
		MatcherAvailable:   matcher.Available(),
		LastMatchedMonitor: m.scanner.LastMatchedMonitor(),
	}
	if ss, ok := matcher.(scorerStater); ok {
		st.ScorerBreaker = ss.ScorerState()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	st.Cycles = m.cycles
	st.Matches = m.matches
	st.Errors = m.errs
	st.Dropped = m.dropped
	st.FPS = m.fps
	if m.latest != nil {
		ev := *m.latest
		st.Latest = &ev
	}
	if m.lastMatch != nil {
		ev := *m.lastMatch
		st.LastMatch = &ev
	}
	return st
}

// RefreshDisplays re-enumerates monitors. The next cycle resets the monitor hint
// if the layout changed.
func (m *Manager) RefreshDisplays(ctx context.Context) (display.Snapshot, error) {
	ctx, span := trace.StartSpan(ctx, "refresh_displays")
	defer span.End()

	snap, err := m.scanner.Refresh()
	if err != nil {
		span.SetAttr("error", err.Error())
		return display.Snapshot{}, err
	}
	span.SetAttr("monitors", len(snap.Monitors))
	trace.Logger(ctx).Info("displays refreshed on request", "span", span, "generation", snap.Generation)
	return snap, nil
}

// ReloadTemplates drops cached templates and matcher state and reloads the
// template directory.
func (m *Manager) ReloadTemplates(ctx context.Context) (int, error) {
	if m.templates == nil {
		return 0, apperrors.New(apperrors.CodeUnavailable, "template reload not configured")
	}
	ctx, span := trace.StartSpan(ctx, "reload_templates")
	defer span.End()

	m.templates.Clear()
	if cc, ok := m.scanner.Matcher().(cacheClearer); ok {
		cc.ClearCache()
	}
	loaded, err := m.templates.LoadAll(m.cfg.TemplateDir, m.cfg.TemplateExtensions)
	if err != nil {
		span.SetAttr("error", err.Error())
		return 0, err
	}
	span.SetAttr("templates", len(loaded))
	trace.Logger(ctx).Info("templates reloaded", "span", span, "count", len(loaded))
	return len(loaded), nil
}
