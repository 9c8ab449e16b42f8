package match

import (
	"context"
	"image"
	"time"

	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
	"github.com/GriffinCanCode/respawnwatch/internal/templates"
	"github.com/GriffinCanCode/respawnwatch/internal/trace"
)

// DefaultConfidence is the classical similarity threshold.
const DefaultConfidence = 0.7

// scoreFunc returns the best similarity in [0,1] and its top-left location
// relative to the scene origin.
type scoreFunc func(scene, tmpl *image.RGBA) (float64, image.Point, error)

// Classical matches with OpenCV normalized squared-difference correlation.
// Similarity is 1 - min normalized difference, so a uniform brightness shift lowers it.
type Classical struct {
	score scoreFunc
}

// NewClassical creates a classical matcher. It is always available.
func NewClassical() *Classical {
	return &Classical{score: sqdiffScore}
}

func (c *Classical) Name() string    { return StrategyClassical }
func (c *Classical) Available() bool { return true }

func (c *Classical) Match(ctx context.Context, scene *image.RGBA, tmpl *templates.Template, threshold float64) Result {
	start := time.Now()
	res := miss(StrategyClassical, tmpl)
	if oversize(scene.Bounds().Size(), tmpl.Size()) {
		return res
	}

	sim, loc, err := c.score(scene, tmpl.Image)
	res.Duration = time.Since(start)
	if err != nil {
		trace.Logger(ctx).Debug("classical match failed", "template", tmpl.Name, "error", err)
		return res
	}
	res.Score = sim
	res.Location = loc.Add(scene.Bounds().Min)
	res.Matched = sim > threshold
	return res
}

func sqdiffScore(scene, tmpl *image.RGBA) (float64, image.Point, error) {
	sceneMat, err := gocv.ImageToMatRGB(templates.ToRGBA(scene))
	if err != nil {
		return 0, image.Point{}, apperrors.Wrap(err, apperrors.CodeInferenceFailed, "scene to mat")
	}
	defer sceneMat.Close()

	tmplMat, err := gocv.ImageToMatRGB(templates.ToRGBA(tmpl))
	if err != nil {
		return 0, image.Point{}, apperrors.Wrap(err, apperrors.CodeInferenceFailed, "template to mat")
	}
	defer tmplMat.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(sceneMat, tmplMat, &result, gocv.TmSqdiffNormed, mask)
	if result.Empty() {
		return 0, image.Point{}, apperrors.New(apperrors.CodeInferenceFailed, "empty correlation map")
	}
	minVal, _, minLoc, _ := gocv.MinMaxLoc(result)
	return 1 - float64(minVal), minLoc, nil
}
