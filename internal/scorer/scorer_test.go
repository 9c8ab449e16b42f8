package scorer

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
	"github.com/GriffinCanCode/respawnwatch/internal/resilience"
	"github.com/GriffinCanCode/respawnwatch/internal/trace"
)

type mockScorer struct {
	mu      sync.Mutex
	score   float32
	err     error
	calls   int
	scene   Tensor
	tmpl    Tensor
	traceID string
}

func (m *mockScorer) Score(ctx context.Context, scene, tmpl Tensor) (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.scene, m.tmpl = scene, tmpl
	if tc, ok := trace.FromContext(ctx); ok {
		m.traceID = tc.TraceID
	}
	return m.score, m.err
}

func (m *mockScorer) Close() error { return nil }

func (m *mockScorer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func tensor(shape []int, start float32) Tensor {
	t := Tensor{Shape: shape}
	t.Data = make([]float32, t.Len())
	for i := range t.Data {
		t.Data[i] = start + float32(i)*0.5
	}
	return t
}

// startServer serves sc over an in-memory listener and returns a connected client.
func startServer(t *testing.T, sc Scorer) *Remote {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := NewServer(sc)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	r, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestTensorValidate(t *testing.T) {
	tests := []struct {
		name string
		t    Tensor
		ok   bool
	}{
		{"nchw", tensor([]int{1, 3, 4, 4}, 0), true},
		{"no shape", Tensor{}, false},
		{"zero dim", Tensor{Shape: []int{1, 0}}, false},
		{"short data", Tensor{Shape: []int{2, 2}, Data: []float32{1}}, false},
	}
	for _, tt := range tests {
		if err := tt.t.Validate(); (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v", tt.name, err)
		}
	}
	if h, w := tensor([]int{1, 3, 32, 64}, 0).HW(); h != 32 || w != 64 {
		t.Errorf("HW() = %d,%d", h, w)
	}
}

func TestCodecPair(t *testing.T) {
	scene := tensor([]int{1, 3, 2, 4}, -1)
	tmpl := tensor([]int{1, 3, 2, 2}, 7)

	b := EncodePair(scene, tmpl)
	if len(b) != encodedLen(scene)+encodedLen(tmpl) {
		t.Fatalf("encoded %d bytes", len(b))
	}
	gotScene, gotTmpl, err := DecodePair(b)
	if err != nil {
		t.Fatal(err)
	}
	if gotScene.Len() != scene.Len() || gotScene.Data[5] != scene.Data[5] {
		t.Errorf("scene = %+v", gotScene.Shape)
	}
	if gotTmpl.Shape[3] != 2 || gotTmpl.Data[0] != 7 {
		t.Errorf("template = %+v", gotTmpl)
	}
}

func TestDecodePairRejectsGarbage(t *testing.T) {
	good := EncodePair(tensor([]int{1, 2}, 0), tensor([]int{1, 1}, 0))
	tests := map[string][]byte{
		"empty":     nil,
		"truncated": good[:len(good)-2],
		"trailing":  append(append([]byte{}, good...), 0),
		"zero rank": {0, 0, 0, 0},
		"huge rank": {0xff, 0, 0, 0},
		"huge dims": {2, 0, 0, 0, 0xff, 0xff, 0xff, 0x7f, 0xff, 0xff, 0xff, 0x7f},
	}
	for name, b := range tests {
		if _, _, err := DecodePair(b); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestFloat32ToBytes(t *testing.T) {
	b := Float32ToBytes([]float32{1, -2})
	if len(b) != 8 {
		t.Fatalf("len = %d", len(b))
	}
	// 1.0 = 0x3f800000 little-endian
	if b[2] != 0x80 || b[3] != 0x3f {
		t.Errorf("bytes = %x", b[:4])
	}
}

func TestRemoteScore(t *testing.T) {
	mock := &mockScorer{score: 0.93}
	r := startServer(t, mock)

	tc := trace.New()
	ctx := trace.WithContext(context.Background(), tc)
	scene := tensor([]int{1, 3, 32, 64}, 0)
	tmpl := tensor([]int{1, 3, 32, 32}, 1)

	got, err := r.Score(ctx, scene, tmpl)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0.93 {
		t.Errorf("score = %v, want 0.93", got)
	}
	if mock.scene.Shape[3] != 64 || mock.tmpl.Data[1] != tmpl.Data[1] {
		t.Error("server received different tensors")
	}
	if mock.traceID != tc.TraceID {
		t.Errorf("server trace = %q, want %q", mock.traceID, tc.TraceID)
	}
}

func TestRemoteErrorMappingAndBreaker(t *testing.T) {
	mock := &mockScorer{err: apperrors.New(apperrors.CodeInferenceFailed, "forward failed")}
	r := startServer(t, mock)
	scene := tensor([]int{1, 3, 2, 2}, 0)

	for i := 1; i <= resilience.ScorerThreshold; i++ {
		_, err := r.Score(context.Background(), scene, scene)
		if !apperrors.IsCode(err, apperrors.CodeInferenceFailed) {
			t.Fatalf("call %d: error = %v, want INFERENCE_FAILED", i, err)
		}
		if n := mock.callCount(); n != i {
			t.Fatalf("server calls = %d after %d scores, inference failures must not be retried", n, i)
		}
	}
	if r.BreakerState() != resilience.Open {
		t.Fatalf("breaker = %v, want open", r.BreakerState())
	}

	_, err := r.Score(context.Background(), scene, scene)
	if !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("error = %v, want ErrOpen", err)
	}
	if n := mock.callCount(); n != resilience.ScorerThreshold {
		t.Errorf("open breaker still reached the server: %d calls", n)
	}
}

func TestWaitReady(t *testing.T) {
	r := startServer(t, &mockScorer{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.WaitReady(ctx); err != nil {
		t.Errorf("WaitReady() = %v with a live server", err)
	}
}

func TestWaitReadyUnreachable(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	_ = lis.Close()
	r, err := Dial("passthrough:///dead", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Dial() = %v, connections are lazy", err)
	}
	defer func() { _ = r.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := r.WaitReady(ctx); !apperrors.IsCode(err, apperrors.CodeUnavailable) {
		t.Errorf("WaitReady() = %v, want UNAVAILABLE", err)
	}
}

func TestServerRejectsMalformedPayload(t *testing.T) {
	mock := &mockScorer{}
	r := startServer(t, mock)

	err := r.conn.Invoke(context.Background(), ScoreMethod, wrapperspb.Bytes([]byte{1, 2, 3}), &wrapperspb.FloatValue{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", status.Code(err))
	}
	if app := apperrors.FromGRPCError(err); app.Code != apperrors.CodeInvalidArgument {
		t.Errorf("app code = %v", app.Code)
	}
	if mock.callCount() != 0 {
		t.Error("scorer should not run on malformed input")
	}
}

func TestOpenONNXMissingModel(t *testing.T) {
	_, err := OpenONNX(t.TempDir()+"/absent.onnx", "scene", "template")
	if !apperrors.IsCode(err, apperrors.CodeModelLoadFailed) {
		t.Errorf("OpenONNX() = %v, want MODEL_LOAD_FAILED", err)
	}
}
