package orchestrator

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
	"github.com/GriffinCanCode/respawnwatch/internal/scan"
	"github.com/GriffinCanCode/respawnwatch/internal/templates"
	"github.com/GriffinCanCode/respawnwatch/internal/trace"
)

var (
	labelYes = color.RGBA{G: 255, A: 255}
	labelNo  = color.RGBA{R: 255, A: 255}
	black    = color.RGBA{A: 255}
)

// DebugWriter saves an annotated PNG of every matched scene.
type DebugWriter struct {
	dir string
	seq atomic.Uint64
}

// NewDebugWriter creates dir if needed.
func NewDebugWriter(dir string) (*DebugWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "create debug dir %s", dir)
	}
	return &DebugWriter{dir: dir}, nil
}

// OnMatch is a scan hook; failures are logged and never affect the cycle.
func (d *DebugWriter) OnMatch(ctx context.Context, hit scan.Hit) {
	log := trace.Logger(ctx)
	path, err := d.Write(hit)
	if err != nil {
		log.Warn("debug dump failed", "template", hit.Template.Name, "error", err)
		return
	}
	log.Debug("debug dump written", "path", path)
}

// Write renders the hit and returns the file path.
func (d *DebugWriter) Write(hit scan.Hit) (string, error) {
	view, err := gocv.ImageToMatRGB(templates.ToRGBA(hit.Scene))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "scene to mat")
	}
	defer view.Close()

	gocv.Rectangle(&view, image.Rect(0, 0, DebugHeaderWidth, DebugHeaderHeight), black, -1)
	textColor := labelNo
	if hit.Result.Matched {
		textColor = labelYes
	}
	gocv.PutText(&view, Label(hit), image.Pt(10, 25), gocv.FontHersheySimplex, DebugFontScale, textColor, DebugFontWeight)

	if err := pasteThumb(&view, hit.Template.Image); err != nil {
		return "", err
	}

	out := view
	if view.Rows() > DebugMaxHeight {
		out = gocv.NewMat()
		defer out.Close()
		f := float64(DebugMaxHeight) / float64(view.Rows())
		gocv.Resize(view, &out, image.Point{}, f, f, gocv.InterpolationArea)
	}

	name := fmt.Sprintf("%s_m%d_%s_%04d.png", time.Now().Format("20060102-150405"),
		hit.Result.Monitor, hit.Template.Name, d.seq.Add(1))
	path := filepath.Join(d.dir, name)
	if !gocv.IMWrite(path, out) {
		return "", apperrors.New(apperrors.CodeInternal, "write debug image").WithMetadata("path", path)
	}
	return path, nil
}

// pasteThumb draws the template, scaled to at most DebugThumbMax rows, below
// the header when it fits.
func pasteThumb(view *gocv.Mat, tmpl *image.RGBA) error {
	thumb, err := gocv.ImageToMatRGB(templates.ToRGBA(tmpl))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "template to mat")
	}
	defer thumb.Close()

	src := thumb
	if thumb.Rows() > DebugThumbMax {
		small := gocv.NewMat()
		defer small.Close()
		f := float64(DebugThumbMax) / float64(thumb.Rows())
		gocv.Resize(thumb, &small, image.Point{}, f, f, gocv.InterpolationArea)
		src = small
	}

	if DebugThumbY+src.Rows() >= view.Rows() || DebugThumbX+src.Cols() >= view.Cols() {
		return nil
	}
	roi := view.Region(image.Rect(DebugThumbX, DebugThumbY, DebugThumbX+src.Cols(), DebugThumbY+src.Rows()))
	defer roi.Close()
	src.CopyTo(&roi)
	return nil
}

// Label is the header text: monitor, template, score and verdict.
func Label(hit scan.Hit) string {
	verdict := "NO"
	if hit.Result.Matched {
		verdict = "YES"
	}
	return fmt.Sprintf("M%d:%s | %.2f | %s", hit.Result.Monitor, hit.Template.Name, hit.Result.Score, verdict)
}
