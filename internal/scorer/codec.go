package scorer

import (
	"encoding/binary"
	"fmt"
	"math"
)

// maxDims bounds the rank accepted from the wire.
const maxDims = 8

// EncodePair serializes the scene then the template tensor. Each tensor is
// little-endian: uint32 ndim, ndim uint32 dims, then float32 values.
func EncodePair(scene, tmpl Tensor) []byte {
	buf := make([]byte, 0, encodedLen(scene)+encodedLen(tmpl))
	buf = appendTensor(buf, scene)
	return appendTensor(buf, tmpl)
}

// DecodePair is the inverse of EncodePair.
func DecodePair(b []byte) (scene, tmpl Tensor, err error) {
	scene, rest, err := readTensor(b)
	if err != nil {
		return Tensor{}, Tensor{}, fmt.Errorf("scene: %w", err)
	}
	tmpl, rest, err = readTensor(rest)
	if err != nil {
		return Tensor{}, Tensor{}, fmt.Errorf("template: %w", err)
	}
	if len(rest) != 0 {
		return Tensor{}, Tensor{}, fmt.Errorf("%d trailing bytes", len(rest))
	}
	return scene, tmpl, nil
}

// Float32ToBytes converts float32 values to little-endian bytes.
func Float32ToBytes(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func encodedLen(t Tensor) int {
	return 4 + 4*len(t.Shape) + 4*len(t.Data)
}

func appendTensor(buf []byte, t Tensor) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Shape)))
	for _, d := range t.Shape {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(d))
	}
	for _, v := range t.Data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

func readTensor(b []byte) (Tensor, []byte, error) {
	if len(b) < 4 {
		return Tensor{}, nil, fmt.Errorf("short header")
	}
	ndim := int(binary.LittleEndian.Uint32(b))
	b = b[4:]
	if ndim == 0 || ndim > maxDims {
		return Tensor{}, nil, fmt.Errorf("bad rank %d", ndim)
	}
	if len(b) < 4*ndim {
		return Tensor{}, nil, fmt.Errorf("short shape")
	}

	t := Tensor{Shape: make([]int, ndim)}
	n := 1
	for i := range t.Shape {
		d := int(binary.LittleEndian.Uint32(b[i*4:]))
		if d <= 0 || n > math.MaxInt32/d {
			return Tensor{}, nil, fmt.Errorf("bad dim %d", d)
		}
		t.Shape[i] = d
		n *= d
	}
	b = b[4*ndim:]
	if len(b) < 4*n {
		return Tensor{}, nil, fmt.Errorf("want %d values, have %d bytes", n, len(b))
	}

	t.Data = make([]float32, n)
	for i := range t.Data {
		t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return t, b[4*n:], nil
}
