package match

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/GriffinCanCode/respawnwatch/internal/resilience"
	"github.com/GriffinCanCode/respawnwatch/internal/scorer"
	"github.com/GriffinCanCode/respawnwatch/internal/templates"
	"github.com/GriffinCanCode/respawnwatch/internal/trace"
)

// Neural model constants.
const (
	DefaultNeuralThreshold = 0.9
	Stride                 = 32
)

var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// remoteReadyTimeout bounds the startup check of a remote scorer.
var remoteReadyTimeout = scorer.DefaultReadyTimeout

// Neural scores scene/template pairs with a learned similarity model.
type Neural struct {
	scorer scorer.Scorer

	mu    sync.RWMutex
	cache map[string]scorer.Tensor // template path -> preprocessed tensor
}

// NewNeural wraps a scorer. A nil scorer yields an unavailable matcher.
func NewNeural(sc scorer.Scorer) *Neural {
	return &Neural{scorer: sc, cache: make(map[string]scorer.Tensor)}
}

// OpenNeural loads the local model, or connects to a remote scorer when addr is set.
// A remote scorer must answer within remoteReadyTimeout. On failure it logs once
// and returns an unavailable matcher.
func OpenNeural(modelPath, sceneInput, templateInput, addr string) *Neural {
	var (
		sc  scorer.Scorer
		err error
	)
	if addr != "" {
		sc, err = dialRemote(addr)
	} else {
		sc, err = openLocal(modelPath, sceneInput, templateInput)
	}
	if err != nil {
		slog.Warn("neural matcher unavailable", "model", modelPath, "scorer_addr", addr, "error", err)
		return NewNeural(nil)
	}
	slog.Info("neural matcher ready", "model", modelPath, "scorer_addr", addr)
	return NewNeural(sc)
}

// Indirections keep nil concrete pointers out of the Scorer interface.
func dialRemote(addr string) (scorer.Scorer, error) {
	r, err := scorer.Dial(addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteReadyTimeout)
	defer cancel()
	if err := r.WaitReady(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func openLocal(path, sceneInput, templateInput string) (scorer.Scorer, error) {
	o, err := scorer.OpenONNX(path, sceneInput, templateInput)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (n *Neural) Name() string      { return StrategyNeural }
func (n *Neural) Available() bool   { return n.scorer != nil }
func (n *Neural) AreaBounded() bool { return true }

func (n *Neural) Match(ctx context.Context, scene *image.RGBA, tmpl *templates.Template, threshold float64) Result {
	start := time.Now()
	res := miss(StrategyNeural, tmpl)
	if !n.Available() {
		return res
	}
	if oversize(scene.Bounds().Size(), tmpl.Size()) {
		return res
	}
	if oversize(padded(scene.Bounds().Size()), padded(tmpl.Size())) {
		return res
	}

	sceneT := Preprocess(scene)
	tmplT := n.templateTensor(tmpl)

	score, err := n.scorer.Score(ctx, sceneT, tmplT)
	res.Duration = time.Since(start)
	if err != nil {
		trace.Logger(ctx).Debug("neural match failed", "template", tmpl.Name, "error", err)
		return res
	}
	res.Score = float64(score)
	res.Location = scene.Bounds().Min
	res.Matched = res.Score > threshold
	return res
}

// Close releases the scorer.
func (n *Neural) Close() error {
	if n.scorer == nil {
		return nil
	}
	return n.scorer.Close()
}

// ClearCache drops preprocessed template tensors; call it after reloading templates.
func (n *Neural) ClearCache() {
	n.mu.Lock()
	n.cache = make(map[string]scorer.Tensor)
	n.mu.Unlock()
}

// ScorerState returns the breaker state of a remote scorer, or "" when
// scoring is local or unavailable.
func (n *Neural) ScorerState() string {
	if r, ok := n.scorer.(interface{ BreakerState() resilience.State }); ok {
		return r.BreakerState().String()
	}
	return ""
}

func (n *Neural) templateTensor(tmpl *templates.Template) scorer.Tensor {
	n.mu.RLock()
	t, ok := n.cache[tmpl.Path]
	n.mu.RUnlock()
	if ok {
		return t
	}

	t = Preprocess(tmpl.Image)
	n.mu.Lock()
	if cached, ok := n.cache[tmpl.Path]; ok {
		t = cached
	} else {
		n.cache[tmpl.Path] = t
	}
	n.mu.Unlock()
	return t
}

// padded rounds both dimensions up to a multiple of Stride.
func padded(p image.Point) image.Point {
	return image.Pt(roundUp(p.X), roundUp(p.Y))
}

func roundUp(v int) int {
	return (v + Stride - 1) / Stride * Stride
}

// Preprocess zero-pads img to the stride on the bottom and right, then
// normalizes each channel as (v/255 - mean)/std into an NCHW [1,3,H,W] tensor.
func Preprocess(img *image.RGBA) scorer.Tensor {
	b := img.Bounds()
	size := padded(b.Size())
	h, w := size.Y, size.X
	plane := h * w
	data := make([]float32, 3*plane)

	// Padding pixels are black before normalization.
	for c := 0; c < 3; c++ {
		fill := -channelMean[c] / channelStd[c]
		p := data[c*plane : (c+1)*plane]
		for i := range p {
			p[i] = fill
		}
	}

	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < b.Dx(); x++ {
			px := row[x*4 : x*4+3]
			i := y*w + x
			for c := 0; c < 3; c++ {
				data[c*plane+i] = (float32(px[c])/255 - channelMean[c]) / channelStd[c]
			}
		}
	}
	return scorer.Tensor{Shape: []int{1, 3, h, w}, Data: data}
}
