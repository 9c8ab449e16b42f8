// Package screen captures the virtual desktop and slices it into per-monitor frames.
package screen

import (
	"context"
	"image"
	"log/slog"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"

	"github.com/GriffinCanCode/respawnwatch/internal/display"
	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
	"github.com/GriffinCanCode/respawnwatch/internal/trace"
)

// Backend grabs raw pixels of a rectangle in virtual-desktop coordinates.
// Areas not covered by any monitor come back black.
type Backend interface {
	Capture(rect image.Rectangle) (*image.RGBA, error)
}

// MonitorFrame is a view into the captured canvas for one monitor.
type MonitorFrame struct {
	Monitor display.Monitor
	Image   *image.RGBA
}

// Capturer takes one screenshot per cycle and splits it per monitor.
type Capturer struct {
	backend Backend
}

// New creates a capturer on top of the given backend.
func New(b Backend) *Capturer {
	return &Capturer{backend: b}
}

// CaptureAll grabs the whole virtual desktop exactly once, optionally downscales it,
// then returns cropped frames for the included monitors in registry order.
// An empty include list selects every monitor; unknown indices are ignored.
func (c *Capturer) CaptureAll(ctx context.Context, snap display.Snapshot, scale float64, include []int) ([]MonitorFrame, error) {
	ctx, span := trace.StartSpan(ctx, "capture")
	defer span.End()

	if len(snap.Monitors) == 0 {
		return nil, apperrors.New(apperrors.CodeNoDisplaysFound, "snapshot has no monitors")
	}
	if scale <= 0 {
		scale = 1
	}

	canvas, err := c.backend.Capture(snap.Virtual)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "capture virtual desktop").
			WithMetadata("rect", snap.Virtual.String())
	}
	if canvas == nil || canvas.Bounds().Empty() {
		return nil, apperrors.New(apperrors.CodeCaptureFailed, "backend returned an empty canvas")
	}
	if scale != 1 {
		canvas = Downscale(canvas, scale)
	}
	span.SetAttr("canvas", canvas.Bounds().Size().String())

	frames := make([]MonitorFrame, 0, len(snap.Monitors))
	for _, m := range snap.Monitors {
		if !included(m.Index, include) {
			continue
		}
		rect := sliceRect(canvas.Bounds(), snap.Virtual.Min, m.Bounds, scale)
		if rect.Empty() {
			trace.Logger(ctx).Debug("monitor outside captured canvas", "monitor", m.Index, "bounds", m.Bounds)
			continue
		}
		view := canvas.SubImage(rect).(*image.RGBA)
		frames = append(frames, MonitorFrame{Monitor: m, Image: CropBorders(view)})
	}
	return frames, nil
}

// Downscale resizes the whole canvas once with bilinear filtering.
func Downscale(src *image.RGBA, scale float64) *image.RGBA {
	b := src.Bounds()
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// sliceRect maps monitor bounds into canvas coordinates and clips to the canvas.
func sliceRect(canvas image.Rectangle, origin image.Point, bounds image.Rectangle, scale float64) image.Rectangle {
	x := int(float64(bounds.Min.X-origin.X) * scale)
	y := int(float64(bounds.Min.Y-origin.Y) * scale)
	w := int(float64(bounds.Dx()) * scale)
	h := int(float64(bounds.Dy()) * scale)
	r := image.Rect(x, y, x+w, y+h).Add(canvas.Min)
	return r.Intersect(canvas)
}

func included(index int, include []int) bool {
	if len(include) == 0 {
		return true
	}
	for _, i := range include {
		if i == index {
			return true
		}
	}
	return false
}

// Screenshot captures through github.com/kbinani/screenshot.
type Screenshot struct{}

func (Screenshot) Capture(rect image.Rectangle) (*image.RGBA, error) {
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		slog.Debug("screenshot capture failed", "rect", rect, "error", err)
		return nil, err
	}
	return img, nil
}
