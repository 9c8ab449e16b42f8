package bench

import (
	"bytes"
	"context"
	"image"
	"strings"
	"sync"
	"testing"

	"github.com/GriffinCanCode/respawnwatch/internal/match"
	"github.com/GriffinCanCode/respawnwatch/internal/templates"
)

type mockMatcher struct {
	mu     sync.Mutex
	calls  int
	scenes []image.Point
}

func (m *mockMatcher) Match(_ context.Context, scene *image.RGBA, _ *templates.Template, threshold float64) match.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.scenes = append(m.scenes, scene.Bounds().Size())
	return match.Result{Matched: threshold < 1, Tile: -1}
}

func (m *mockMatcher) Name() string    { return "mock" }
func (m *mockMatcher) Available() bool { return true }

func TestRunScoresEveryTile(t *testing.T) {
	tests := []struct {
		grid      Grid
		wantTiles int
		wantScene image.Point
	}{
		{Grid{1, 1, 1.0}, 1, image.Pt(800, 600)},
		{Grid{1, 1, 0.5}, 1, image.Pt(400, 300)},
		{Grid{2, 2, 1.0}, 4, image.Pt(500, 400)},
		{Grid{4, 3, 1.0}, 12, image.Pt(366, 250)},
	}
	for _, tt := range tests {
		t.Run(tt.grid.String(), func(t *testing.T) {
			m := &mockMatcher{}
			r := Runner{Matcher: m, Template: &templates.Template{Name: "t"}, Iterations: 3, Overlap: 100}

			res := r.Run(context.Background(), image.NewRGBA(image.Rect(0, 0, 800, 600)), tt.grid)

			if res.Tiles != tt.wantTiles || m.calls != 3*tt.wantTiles {
				t.Errorf("tiles = %d, calls = %d, want %d tiles", res.Tiles, m.calls, tt.wantTiles)
			}
			if m.scenes[0] != tt.wantScene {
				t.Errorf("first scene = %v, want %v", m.scenes[0], tt.wantScene)
			}
			if res.NeverFound <= 0 || res.BestCase < res.NeverFound {
				t.Errorf("fps = %+v", res)
			}
		})
	}
}

func TestBalanceAndBest(t *testing.T) {
	results := []Result{
		{Grid: Grid{1, 1, 1.0}, NeverFound: 10, BestCase: 10},
		{Grid: Grid{2, 2, 1.0}, NeverFound: 8, BestCase: 30},
		{Grid: Grid{1, 1, 0.5}, NeverFound: 20, BestCase: 20},
	}

	if got := results[1].Balance(); got != 8*0.6+30*0.4 {
		t.Errorf("Balance = %v", got)
	}
	if best := Best(results, func(r Result) float64 { return r.NeverFound }); best.Grid != results[2].Grid {
		t.Errorf("most stable = %v", best.Grid)
	}
	if best := Best(results, func(r Result) float64 { return r.BestCase }); best.Grid != results[1].Grid {
		t.Errorf("fastest = %v", best.Grid)
	}
	if best := Best(results, Result.Balance); best.Grid != results[1].Grid {
		t.Errorf("balanced = %v", best.Grid)
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	results := []Result{
		{Grid: Grid{1, 1, 1.0}, Tiles: 1, NeverFound: 10, BestCase: 10},
		{Grid: Grid{3, 2, 1.0}, Tiles: 6, NeverFound: 9, BestCase: 40},
	}
	if err := Report(&buf, results); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"NEVER FOUND FPS", "3x2 (x1.0)", "most stable: 1x1 (x1.0)", "tile_rows=3 tile_cols=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestDefaultGrids(t *testing.T) {
	if len(DefaultGrids) != 7 || DefaultGrids[1].Scale != 0.5 || DefaultGrids[6] != (Grid{4, 3, 1.0}) {
		t.Errorf("DefaultGrids = %v", DefaultGrids)
	}
}
