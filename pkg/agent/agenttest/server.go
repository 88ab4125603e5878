// Package agenttest is an in-process stand-in for the edge agent. It keeps
// loaded models in memory and answers Predict by RMS-normalising the input.
package agenttest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/edgeagent/api/v1alpha1"
	"k8s.io/examples/AI/edgeagent/pkg/shm"
	"k8s.io/examples/AI/edgeagent/pkg/shm/shmtest"
	"k8s.io/examples/AI/edgeagent/pkg/tensor"
)

type Server struct {
	api.UnimplementedAgentServer

	// SharedMemory is used to read shared memory tensors.
	SharedMemory shm.OS
	// Events, if set, records "predict" and "capture" calls alongside the
	// segment events of a shmtest.OS sharing the recorder.
	Events *shmtest.Recorder
	// FailPredict makes Predict return this status error.
	FailPredict error
	// FailCapture makes CaptureData return this status error.
	FailCapture error
	// RemoveSegments marks shared memory segments for removal once read,
	// taking ownership the way the real agent does for transferred inputs.
	RemoveSegments bool

	mu       sync.Mutex
	models   map[string]*api.Model
	captures []*api.CaptureDataRequest
	inputs   [][]float32
}

var _ api.AgentServer = (*Server)(nil)

func NewServer(sharedMemory shm.OS) *Server {
	return &Server{
		SharedMemory: sharedMemory,
		models:       make(map[string]*api.Model),
	}
}

// Serve listens on socketPath until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %q: %w", socketPath, err)
	}
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", socketPath, err)
	}
	defer os.Remove(socketPath)
	return s.ServeListener(ctx, lis)
}

func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	log := klog.FromContext(ctx)

	grpcServer := grpc.NewServer()
	api.RegisterAgentServer(grpcServer, s)

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	log.Info("serving agent", "listen", lis.Addr().String())
	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving GRPC: %w", err)
	}
	return nil
}

// AddModel registers a model directly, bypassing LoadModel.
func (s *Server) AddModel(name, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[name] = &api.Model{Name: name, URL: url}
}

func (s *Server) Captures() []*api.CaptureDataRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*api.CaptureDataRequest(nil), s.captures...)
}

// Inputs returns the decoded input of every successful Predict.
func (s *Server) Inputs() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]float32(nil), s.inputs...)
}

func (s *Server) ListModels(ctx context.Context, req *api.ListModelsRequest) (*api.ListModelsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &api.ListModelsResponse{}
	for _, m := range s.models {
		resp.Models = append(resp.Models, m)
	}
	return resp, nil
}

func (s *Server) DescribeModel(ctx context.Context, req *api.DescribeModelRequest) (*api.DescribeModelResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[req.Name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "model %q not loaded", req.Name)
	}
	return &api.DescribeModelResponse{Model: m}, nil
}

func (s *Server) LoadModel(ctx context.Context, req *api.LoadModelRequest) (*api.LoadModelResponse, error) {
	if req.Name == "" || req.URL == "" {
		return nil, status.Errorf(codes.InvalidArgument, "name and url are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[req.Name]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "model %q already loaded", req.Name)
	}
	m := &api.Model{Name: req.Name, URL: req.URL}
	s.models[req.Name] = m
	return &api.LoadModelResponse{Model: m}, nil
}

func (s *Server) UnloadModel(ctx context.Context, req *api.UnloadModelRequest) (*api.UnloadModelResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[req.Name]; !ok {
		return nil, status.Errorf(codes.NotFound, "model %q not loaded", req.Name)
	}
	delete(s.models, req.Name)
	return &api.UnloadModelResponse{}, nil
}

func (s *Server) Predict(ctx context.Context, req *api.PredictRequest) (*api.PredictResponse, error) {
	s.mu.Lock()
	_, ok := s.models[req.Name]
	s.mu.Unlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "model %q not loaded", req.Name)
	}
	if s.FailPredict != nil {
		return nil, s.FailPredict
	}
	if len(req.GetTensors()) != 1 {
		return nil, status.Errorf(codes.InvalidArgument, "expected 1 input tensor, got %d", len(req.GetTensors()))
	}

	input := req.Tensors[0]
	data, err := s.readTensor(input)
	if err != nil {
		return nil, err
	}
	values, err := tensor.DecodeFloat32(data)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding input: %v", err)
	}

	s.mu.Lock()
	s.inputs = append(s.inputs, append([]float32(nil), values...))
	s.mu.Unlock()

	output, err := tensor.BuildInline("output", input.GetMetadata().GetShape(), api.DataTypeFloat32, tensor.EncodeFloat32(rmsNorm(values, 1e-5)))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "building output: %v", err)
	}
	return &api.PredictResponse{Tensors: []*api.Tensor{output}}, nil
}

// readTensor returns the payload of t, reading shared memory read-only.
func (s *Server) readTensor(t *api.Tensor) ([]byte, error) {
	meta := t.GetMetadata()
	if meta.GetDataType() != api.DataTypeFloat32 {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported data type %v", meta.GetDataType())
	}
	want, err := tensor.ByteLength(meta.GetShape(), meta.GetDataType())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "tensor %q: %v", meta.GetName(), err)
	}

	handle := t.GetSharedMemoryHandle()
	if handle == nil {
		s.Events.Record("predict %s inline", meta.GetName())
		if int64(len(t.GetByteData())) != want {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %q has %d bytes, want %d", meta.GetName(), len(t.GetByteData()), want)
		}
		return t.GetByteData(), nil
	}

	if s.SharedMemory == nil {
		return nil, status.Errorf(codes.Unimplemented, "shared memory not supported")
	}
	id := int(handle.SegmentID)
	info, err := s.SharedMemory.Stat(id)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "segment %d: %v", id, err)
	}
	s.Events.Record("predict %s shm %d mode=%#o", meta.GetName(), id, info.Mode)
	if info.Mode&0o222 != 0 {
		return nil, status.Errorf(codes.FailedPrecondition, "segment %d is still writable (mode %#o)", id, info.Mode)
	}

	view, err := shm.AttachReadOnly(s.SharedMemory, id)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	defer view.Close()
	if s.RemoveSegments {
		defer func() {
			if err := s.SharedMemory.Remove(id); err != nil {
				klog.Background().Error(err, "removing segment", "id", id)
			}
		}()
	}

	mem := view.Bytes()
	size := uint64(len(mem))
	if handle.Offset > size || uint64(want) > size-handle.Offset {
		return nil, status.Errorf(codes.InvalidArgument, "segment %d has %d bytes, tensor needs %d from offset %d", id, len(mem), want, handle.Offset)
	}
	return append([]byte(nil), mem[handle.Offset:handle.Offset+uint64(want)]...), nil
}

func (s *Server) CaptureData(ctx context.Context, req *api.CaptureDataRequest) (*api.CaptureDataResponse, error) {
	if s.FailCapture != nil {
		return nil, s.FailCapture
	}
	s.Events.Record("capture %s", req.CaptureID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures = append(s.captures, req)
	return &api.CaptureDataResponse{}, nil
}

func rmsNorm(values []float32, epsilon float32) []float32 {
	out := make([]float32, len(values))
	if len(values) == 0 {
		return out
	}
	sumX2 := float32(0)
	for _, v := range values {
		sumX2 += v * v
	}
	mean := sumX2 / float32(len(values))
	rms := float32(1.0 / math.Sqrt(float64(mean)+float64(epsilon)))
	for i, v := range values {
		out[i] = v * rms
	}
	return out
}
