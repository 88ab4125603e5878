package agentclient

import (
	"context"
	"errors"
	"math"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"k8s.io/examples/AI/edgeagent/pkg/agent/agenttest"
	"k8s.io/examples/AI/edgeagent/pkg/shm"
	"k8s.io/examples/AI/edgeagent/pkg/shm/shmtest"
	"k8s.io/examples/AI/edgeagent/pkg/tensor"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type harness struct {
	client   *Client
	server   *agenttest.Server
	fake     *shmtest.OS
	recorder *shmtest.Recorder
	states   []State
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	rec := &shmtest.Recorder{}
	fake := shmtest.New(rec)
	srv := agenttest.NewServer(fake)
	srv.Events = rec

	dir, err := os.MkdirTemp("", "agent")
	if err != nil {
		t.Fatalf("creating socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "agent.sock")

	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeListener(ctx, lis)
	}()

	client, err := Dial(socketPath)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		cancel()
		if err := <-done; err != nil {
			t.Errorf("server exited: %v", err)
		}
	})

	m := shm.NewManager()
	m.OS = fake
	m.Keys = shm.NewFixedKeys("AAAAAAAAAA", "BBBBBBBBBB", "CCCCCCCCCC")
	client.Selector = &tensor.Selector{Segments: m}
	client.Timeout = 5 * time.Second

	h := &harness{client: client, server: srv, fake: fake, recorder: rec}
	client.Observer = func(model string, state State) {
		h.states = append(h.states, state)
	}
	return h
}

func TestModelLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	models, err := h.client.ListModels(ctx)
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 0 {
		t.Fatalf("expected no models, got %d", len(models))
	}

	if _, err := h.client.LoadModel(ctx, "/models/resnet18", "resnet"); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	found, err := h.client.FindModel(ctx, "resnet")
	if err != nil || !found {
		t.Fatalf("FindModel = %v, %v", found, err)
	}
	model, err := h.client.DescribeModel(ctx, "resnet")
	if err != nil {
		t.Fatalf("DescribeModel: %v", err)
	}
	if model.Name != "resnet" || model.URL != "/models/resnet18" {
		t.Errorf("unexpected model %+v", model)
	}

	if _, err := h.client.LoadModel(ctx, "/models/other", "resnet"); !errors.Is(err, ErrAliasInUse) {
		t.Errorf("expected ErrAliasInUse, got %v", err)
	}

	if err := h.client.UnloadModel(ctx, "resnet"); err != nil {
		t.Fatalf("UnloadModel: %v", err)
	}
	if err := h.client.UnloadModel(ctx, "resnet"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
	if _, err := h.client.DescribeModel(ctx, "resnet"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestPredictInlineWithCapture(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.server.AddModel("resnet", "/models/resnet18")
	h.client.Captures = NewCaptureIDs(fixedClock(time.Unix(1700000000, 0)))

	values := []float32{1, 2, 3}
	result, err := h.client.Predict(ctx, PredictInput{
		Model:     "resnet",
		Input:     tensor.Float32Input("data", []int64{1, 3}, values),
		Transport: tensor.Inline,
		Capture:   true,
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	outputs, err := OutputFloat32(result)
	if err != nil {
		t.Fatalf("OutputFloat32: %v", err)
	}
	expected := []float32{0.46290955, 0.9258191, 1.3887286}
	if len(outputs) != 1 || !floatingPointEqual(outputs[0], expected) {
		t.Errorf("expected %v, got %v", expected, outputs)
	}

	if result.CaptureID != "capture1700000000" {
		t.Errorf("unexpected capture id %q", result.CaptureID)
	}
	captures := h.server.Captures()
	if len(captures) != 1 {
		t.Fatalf("expected 1 capture, got %d", len(captures))
	}
	c := captures[0]
	if c.ModelName != "resnet" || c.CaptureID != "capture1700000000" || c.InferenceTimestamp != 1700000000 {
		t.Errorf("unexpected capture %+v", c)
	}
	if len(c.InputTensors) != 1 || len(c.OutputTensors) != 1 {
		t.Errorf("capture carries %d inputs and %d outputs", len(c.InputTensors), len(c.OutputTensors))
	}

	wantStates := []State{StateIdle, StateModelResolved, StatePayloadPrepared, StateRequestSent, StateReplyReceived, StateCaptureSent, StateDone}
	if !slices.Equal(h.states, wantStates) {
		t.Errorf("states = %v, want %v", h.states, wantStates)
	}
	if h.fake.Live() != 0 {
		t.Errorf("inline predict allocated shared memory")
	}
}

func TestPredictSharedMemoryOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.server.AddModel("resnet", "/models/resnet18")
	h.client.Captures = NewCaptureIDs(fixedClock(time.Unix(1700000000, 0)))

	values := []float32{1, 2, 3, 4}
	result, err := h.client.Predict(ctx, PredictInput{
		Model:     "resnet",
		Input:     tensor.Float32Input("data", []int64{1, 4}, values),
		Transport: tensor.SharedMemory,
		Capture:   true,
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if result.CaptureID != "captureshm1700000000" {
		t.Errorf("unexpected capture id %q", result.CaptureID)
	}

	inputs := h.server.Inputs()
	if len(inputs) != 1 || !slices.Equal(inputs[0], values) {
		t.Errorf("agent read %v, want %v", inputs, values)
	}

	want := []string{
		"create 1 size=16",
		"attach 1 rw",
		"detach 1",
		"setmode 1 0400",
		"predict data shm 1 mode=0400",
		"attach 1 ro",
		"detach 1",
		"capture captureshm1700000000",
	}
	if got := h.recorder.Events(); !slices.Equal(got, want) {
		t.Errorf("events =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}

	stats := h.client.Selector.Segments.Stats()
	if stats.Transferred != 1 || stats.Released != 0 {
		t.Errorf("expected the segment to be transferred to the agent, stats %+v", stats)
	}
}

func TestPredictUnknownModelAllocatesNothing(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.Predict(context.Background(), PredictInput{
		Model:     "missing",
		Input:     tensor.Float32Input("data", []int64{2}, []float32{1, 2}),
		Transport: tensor.SharedMemory,
	})
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if len(h.recorder.Events()) != 0 {
		t.Errorf("expected no shared memory activity, got %q", h.recorder.Events())
	}
	if got := h.client.Selector.Segments.Stats(); got.Allocated != 0 {
		t.Errorf("allocated %d segments for a doomed call", got.Allocated)
	}
}

func TestPredictSealFailureIsNotPublished(t *testing.T) {
	h := newHarness(t)
	h.server.AddModel("resnet", "/models/resnet18")
	h.fake.FailSetMode = errors.New("operation not permitted")

	_, err := h.client.Predict(context.Background(), PredictInput{
		Model:     "resnet",
		Input:     tensor.Float32Input("data", []int64{2}, []float32{1, 2}),
		Transport: tensor.SharedMemory,
	})
	if !errors.Is(err, ErrPermissionChange) {
		t.Fatalf("expected ErrPermissionChange, got %v", err)
	}
	if !KindOf(err).TransportFailure() {
		t.Errorf("expected a transport failure kind, got %v", KindOf(err))
	}
	for _, e := range h.recorder.Events() {
		if strings.HasPrefix(e, "predict") {
			t.Errorf("handle was published despite seal failure: %q", e)
		}
	}
	if h.fake.Live() != 0 {
		t.Errorf("expected unsealed segment to be released, %d live", h.fake.Live())
	}
}

func TestPredictAllocationFailure(t *testing.T) {
	h := newHarness(t)
	h.server.AddModel("resnet", "/models/resnet18")
	h.fake.FailCreate = errors.New("no space left on device")

	_, err := h.client.Predict(context.Background(), PredictInput{
		Model:     "resnet",
		Input:     tensor.Float32Input("data", []int64{2}, []float32{1, 2}),
		Transport: tensor.SharedMemory,
	})
	if KindOf(err) != AllocationError {
		t.Fatalf("expected AllocationError, got %v", err)
	}
}

func TestPredictRemoteFailure(t *testing.T) {
	h := newHarness(t)
	h.server.AddModel("resnet", "/models/resnet18")
	h.server.FailPredict = status.Error(codes.Internal, "model crashed")

	_, err := h.client.Predict(context.Background(), PredictInput{
		Model:     "resnet",
		Input:     tensor.Float32Input("data", []int64{2}, []float32{1, 2}),
		Transport: tensor.Inline,
		Capture:   true,
	})
	if !errors.Is(err, ErrRemoteCall) {
		t.Fatalf("expected ErrRemoteCall, got %v", err)
	}
	if status.Code(errors.Unwrap(err)) != codes.Internal {
		t.Errorf("expected the agent status to be preserved, got %v", err)
	}
	if len(h.server.Captures()) != 0 {
		t.Errorf("capture sent after a failed predict")
	}
}

func TestPredictRejectedReleasesSegment(t *testing.T) {
	h := newHarness(t)
	h.server.AddModel("resnet", "/models/resnet18")
	h.server.RemoveSegments = true
	h.server.FailPredict = status.Error(codes.Unavailable, "agent busy")

	_, err := h.client.Predict(context.Background(), PredictInput{
		Model:     "resnet",
		Input:     tensor.Float32Input("data", []int64{2}, []float32{1, 2}),
		Transport: tensor.SharedMemory,
	})
	if !errors.Is(err, ErrRemoteCall) {
		t.Fatalf("expected ErrRemoteCall, got %v", err)
	}
	if h.fake.Live() != 0 {
		t.Errorf("expected rejected segment to be removed, %d live", h.fake.Live())
	}
	stats := h.client.Selector.Segments.Stats()
	if stats.Transferred != 0 || stats.Released != 1 {
		t.Errorf("expected the segment to stay with the client and be released, stats %+v", stats)
	}
}

func TestCaptureFailureDoesNotFailPredict(t *testing.T) {
	h := newHarness(t)
	h.server.AddModel("resnet", "/models/resnet18")
	h.server.FailCapture = status.Error(codes.Unavailable, "capture disabled")

	result, err := h.client.Predict(context.Background(), PredictInput{
		Model:     "resnet",
		Input:     tensor.Float32Input("data", []int64{2}, []float32{1, 2}),
		Transport: tensor.Inline,
		Capture:   true,
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if !errors.Is(result.CaptureErr, ErrRemoteCall) {
		t.Errorf("expected capture error to be reported, got %v", result.CaptureErr)
	}
	if len(result.Outputs) != 1 {
		t.Errorf("expected outputs despite capture failure")
	}
}

func TestReleaseAfterReply(t *testing.T) {
	h := newHarness(t)
	h.server.AddModel("resnet", "/models/resnet18")
	h.client.Selector.Ownership = tensor.ReleaseAfterReply

	if _, err := h.client.Predict(context.Background(), PredictInput{
		Model:     "resnet",
		Input:     tensor.Float32Input("data", []int64{2}, []float32{1, 2}),
		Transport: tensor.SharedMemory,
	}); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if h.fake.Live() != 0 {
		t.Errorf("expected segment to be released after the reply, %d live", h.fake.Live())
	}
}

func floatingPointEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, value := range a {
		if math.Abs(float64(value-b[i])) > 0.00001 {
			return false
		}
	}
	return true
}
