// Package scorer provides the similarity model behind the neural matcher:
// score(scene, template) -> float32, evaluated locally with OpenCV DNN or
// remotely over gRPC.
package scorer

import (
	"context"
	"fmt"
)

// Scorer evaluates a two-input similarity model.
type Scorer interface {
	Score(ctx context.Context, scene, tmpl Tensor) (float32, error)
	Close() error
}

// Tensor is a dense float32 tensor in row-major order, NCHW for images.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Len returns the element count implied by the shape.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks that the data length matches the shape.
func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor has no shape")
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor shape %v has non-positive dim", t.Shape)
		}
	}
	if t.Len() != len(t.Data) {
		return fmt.Errorf("tensor shape %v wants %d values, has %d", t.Shape, t.Len(), len(t.Data))
	}
	return nil
}

// HW returns height and width of an NCHW tensor.
func (t Tensor) HW() (h, w int) {
	if len(t.Shape) != 4 {
		return 0, 0
	}
	return t.Shape[2], t.Shape[3]
}
