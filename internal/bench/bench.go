// Package bench measures scan throughput for different tiling grids and scales.
package bench

import (
	"context"
	"fmt"
	"image"
	"io"
	"text/tabwriter"
	"time"

	"github.com/GriffinCanCode/respawnwatch/internal/match"
	"github.com/GriffinCanCode/respawnwatch/internal/scan"
	"github.com/GriffinCanCode/respawnwatch/internal/screen"
	"github.com/GriffinCanCode/respawnwatch/internal/templates"
)

// Balance weights: stability when nothing is on screen matters more than the
// best-case latency.
const (
	NeverFoundWeight = 0.6
	BestCaseWeight   = 0.4
)

// Defaults
const (
	DefaultIterations = 50
	DefaultOverlap    = 100
)

// unreachable keeps every attempt a miss so all tiles are scored.
const unreachable = 2.0

// Grid is one benchmark configuration.
type Grid struct {
	Rows, Cols int
	Scale      float64
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d (x%.1f)", g.Rows, g.Cols, g.Scale)
}

// DefaultGrids are the configurations compared by default.
var DefaultGrids = []Grid{
	{1, 1, 1.0},
	{1, 1, 0.5},
	{2, 1, 1.0},
	{2, 2, 1.0},
	{3, 2, 1.0},
	{3, 3, 1.0},
	{4, 3, 1.0},
}

// Result is the measured throughput of one grid.
type Result struct {
	Grid       Grid
	Tiles      int
	NeverFound float64 // cycles/s when every tile is scored
	BestCase   float64 // cycles/s when the first tile matches
}

// Balance weighs both scenarios into one score.
func (r Result) Balance() float64 {
	return r.NeverFound*NeverFoundWeight + r.BestCase*BestCaseWeight
}

// Runner scores every tile of a scene against one template.
type Runner struct {
	Matcher    match.Matcher
	Template   *templates.Template
	Iterations int
	Overlap    int
}

// Run benchmarks g. Slicing is part of the measured time; the downscale is not.
func (r Runner) Run(ctx context.Context, scene *image.RGBA, g Grid) Result {
	iterations := max(r.Iterations, 1)
	if g.Scale > 0 && g.Scale != 1 {
		scene = screen.Downscale(scene, g.Scale)
	}

	var scored int
	start := time.Now()
	for i := 0; i < iterations; i++ {
		for _, rect := range scan.Tiles(scene.Bounds(), g.Rows, g.Cols, r.Overlap) {
			r.Matcher.Match(ctx, scene.SubImage(rect).(*image.RGBA), r.Template, unreachable)
			scored++
		}
	}
	total := time.Since(start).Seconds()

	res := Result{Grid: g, Tiles: scored / iterations}
	if total > 0 {
		res.NeverFound = float64(iterations) / total
		res.BestCase = float64(scored) / total
	}
	return res
}

// Best returns the result with the highest score.
func Best(results []Result, score func(Result) float64) Result {
	var best Result
	for i, res := range results {
		if i == 0 || score(res) > score(best) {
			best = res
		}
	}
	return best
}

// Report writes the comparison table and the recommendations.
func Report(w io.Writer, results []Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GRID\tTILES\tNEVER FOUND FPS\tBEST CASE FPS\tBALANCE")
	for _, res := range results {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\n", res.Grid, res.Tiles, res.NeverFound, res.BestCase, res.Balance())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}

	stable := Best(results, func(r Result) float64 { return r.NeverFound })
	fast := Best(results, func(r Result) float64 { return r.BestCase })
	balanced := Best(results, Result.Balance)
	_, err := fmt.Fprintf(w, "\nmost stable: %s (%.2f fps)\nfastest hit: %s (%.2f fps)\nbalanced:    %s (tile_rows=%d tile_cols=%d scale_factor=%.1f)\n",
		stable.Grid, stable.NeverFound, fast.Grid, fast.BestCase,
		balanced.Grid, balanced.Grid.Rows, balanced.Grid.Cols, balanced.Grid.Scale)
	return err
}
