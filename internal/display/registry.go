// Package display enumerates physical monitors and the virtual desktop that bounds them.
package display

import (
	"fmt"
	"image"
	"sync"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
)

// Monitor is one physical display in virtual-desktop coordinates.
type Monitor struct {
	Index   int
	Bounds  image.Rectangle
	Primary bool
}

func (m Monitor) String() string {
	return fmt.Sprintf("monitor %d %dx%d@(%d,%d)", m.Index, m.Bounds.Dx(), m.Bounds.Dy(), m.Bounds.Min.X, m.Bounds.Min.Y)
}

// Snapshot is an immutable view of the display layout.
// Generation increases on every successful refresh.
type Snapshot struct {
	Monitors   []Monitor
	Virtual    image.Rectangle
	Generation uint64
}

// Monitor returns the monitor with the given registry index.
func (s Snapshot) Monitor(index int) (Monitor, bool) {
	for _, m := range s.Monitors {
		if m.Index == index {
			return m, true
		}
	}
	return Monitor{}, false
}

// Backend enumerates displays.
type Backend interface {
	NumDisplays() int
	DisplayBounds(i int) image.Rectangle
}

// Registry caches the last enumerated snapshot.
type Registry struct {
	backend Backend

	mu         sync.RWMutex
	snap       Snapshot
	loaded     bool
	generation uint64
}

// NewRegistry creates a registry. Nothing is enumerated until Refresh or Current.
func NewRegistry(b Backend) *Registry {
	return &Registry{backend: b}
}

// Refresh re-enumerates displays. With no displays the previous snapshot is kept.
func (r *Registry) Refresh() (Snapshot, error) {
	n := r.backend.NumDisplays()
	if n <= 0 {
		return Snapshot{}, apperrors.New(apperrors.CodeNoDisplaysFound, "no active displays")
	}

	monitors := make([]Monitor, 0, n)
	var virtual image.Rectangle
	primary := -1
	for i := 0; i < n; i++ {
		b := r.backend.DisplayBounds(i)
		if b.Empty() {
			continue
		}
		if primary < 0 && image.Pt(0, 0).In(b) {
			primary = len(monitors)
		}
		monitors = append(monitors, Monitor{Index: i, Bounds: b})
		virtual = virtual.Union(b)
	}
	if len(monitors) == 0 {
		return Snapshot{}, apperrors.New(apperrors.CodeNoDisplaysFound, "all displays report empty bounds")
	}
	if primary < 0 {
		primary = 0
	}
	monitors[primary].Primary = true

	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.snap = Snapshot{Monitors: monitors, Virtual: virtual, Generation: r.generation}
	r.loaded = true
	return r.snap, nil
}

// Current returns the last snapshot, refreshing first if none exists yet.
func (r *Registry) Current() (Snapshot, error) {
	r.mu.RLock()
	snap, ok := r.snap, r.loaded
	r.mu.RUnlock()
	if ok {
		return snap, nil
	}
	return r.Refresh()
}
