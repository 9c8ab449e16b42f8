package scorer

import (
	"context"
	"os"
	"runtime"
	"sync"

	"gocv.io/x/gocv"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
)

// ONNX runs a two-input similarity graph through OpenCV DNN.
// A gocv.Net is not safe for concurrent use, so calls are serialized.
type ONNX struct {
	path          string
	sceneInput    string
	templateInput string

	mu  sync.Mutex
	net gocv.Net
}

// OpenONNX loads the model at path once. A missing or unreadable model yields
// MODEL_LOAD_FAILED.
func OpenONNX(path, sceneInput, templateInput string) (*ONNX, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeModelLoadFailed, "model not found").WithMetadata("path", path)
	}
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		_ = net.Close()
		return nil, apperrors.New(apperrors.CodeModelLoadFailed, "model could not be parsed").WithMetadata("path", path)
	}
	return &ONNX{path: path, sceneInput: sceneInput, templateInput: templateInput, net: net}, nil
}

// Score runs one forward pass and returns the first output value.
func (o *ONNX) Score(_ context.Context, scene, tmpl Tensor) (float32, error) {
	sceneBytes := Float32ToBytes(scene.Data)
	sceneBlob, err := gocv.NewMatWithSizesFromBytes(scene.Shape, gocv.MatTypeCV32F, sceneBytes)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInferenceFailed, "scene blob")
	}
	defer sceneBlob.Close()

	tmplBytes := Float32ToBytes(tmpl.Data)
	tmplBlob, err := gocv.NewMatWithSizesFromBytes(tmpl.Shape, gocv.MatTypeCV32F, tmplBytes)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInferenceFailed, "template blob")
	}
	defer tmplBlob.Close()

	o.mu.Lock()
	defer o.mu.Unlock()

	o.net.SetInput(sceneBlob, o.sceneInput)
	o.net.SetInput(tmplBlob, o.templateInput)
	out := o.net.Forward("")
	defer out.Close()
	// The blobs borrow these buffers until Forward returns.
	runtime.KeepAlive(sceneBytes)
	runtime.KeepAlive(tmplBytes)

	if out.Empty() {
		return 0, apperrors.New(apperrors.CodeInferenceFailed, "model produced no output").WithMetadata("path", o.path)
	}
	values, err := out.DataPtrFloat32()
	if err != nil || len(values) == 0 {
		return 0, apperrors.Wrap(err, apperrors.CodeInferenceFailed, "read model output").WithMetadata("path", o.path)
	}
	return values[0], nil
}

// Close releases the network.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.net.Close()
}
