package v1alpha1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	Agent_ListModels_FullMethodName    = "/edgeagent.v1alpha1.Agent/ListModels"
	Agent_DescribeModel_FullMethodName = "/edgeagent.v1alpha1.Agent/DescribeModel"
	Agent_LoadModel_FullMethodName     = "/edgeagent.v1alpha1.Agent/LoadModel"
	Agent_UnloadModel_FullMethodName   = "/edgeagent.v1alpha1.Agent/UnloadModel"
	Agent_Predict_FullMethodName       = "/edgeagent.v1alpha1.Agent/Predict"
	Agent_CaptureData_FullMethodName   = "/edgeagent.v1alpha1.Agent/CaptureData"
)

// AgentClient is the client API for the edge agent.
type AgentClient interface {
	ListModels(ctx context.Context, in *ListModelsRequest, opts ...grpc.CallOption) (*ListModelsResponse, error)
	DescribeModel(ctx context.Context, in *DescribeModelRequest, opts ...grpc.CallOption) (*DescribeModelResponse, error)
	LoadModel(ctx context.Context, in *LoadModelRequest, opts ...grpc.CallOption) (*LoadModelResponse, error)
	UnloadModel(ctx context.Context, in *UnloadModelRequest, opts ...grpc.CallOption) (*UnloadModelResponse, error)
	Predict(ctx context.Context, in *PredictRequest, opts ...grpc.CallOption) (*PredictResponse, error)
	CaptureData(ctx context.Context, in *CaptureDataRequest, opts ...grpc.CallOption) (*CaptureDataResponse, error)
}

type agentClient struct {
	cc grpc.ClientConnInterface
}

func NewAgentClient(cc grpc.ClientConnInterface) AgentClient {
	return &agentClient{cc}
}

// callOptions prepends the CBOR content-subtype so callers never have to
// remember it.
func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *agentClient) ListModels(ctx context.Context, in *ListModelsRequest, opts ...grpc.CallOption) (*ListModelsResponse, error) {
	out := new(ListModelsResponse)
	if err := c.cc.Invoke(ctx, Agent_ListModels_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentClient) DescribeModel(ctx context.Context, in *DescribeModelRequest, opts ...grpc.CallOption) (*DescribeModelResponse, error) {
	out := new(DescribeModelResponse)
	if err := c.cc.Invoke(ctx, Agent_DescribeModel_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentClient) LoadModel(ctx context.Context, in *LoadModelRequest, opts ...grpc.CallOption) (*LoadModelResponse, error) {
	out := new(LoadModelResponse)
	if err := c.cc.Invoke(ctx, Agent_LoadModel_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentClient) UnloadModel(ctx context.Context, in *UnloadModelRequest, opts ...grpc.CallOption) (*UnloadModelResponse, error) {
	out := new(UnloadModelResponse)
	if err := c.cc.Invoke(ctx, Agent_UnloadModel_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentClient) Predict(ctx context.Context, in *PredictRequest, opts ...grpc.CallOption) (*PredictResponse, error) {
	out := new(PredictResponse)
	if err := c.cc.Invoke(ctx, Agent_Predict_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentClient) CaptureData(ctx context.Context, in *CaptureDataRequest, opts ...grpc.CallOption) (*CaptureDataResponse, error) {
	out := new(CaptureDataResponse)
	if err := c.cc.Invoke(ctx, Agent_CaptureData_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// AgentServer is the server API for the edge agent.
type AgentServer interface {
	ListModels(context.Context, *ListModelsRequest) (*ListModelsResponse, error)
	DescribeModel(context.Context, *DescribeModelRequest) (*DescribeModelResponse, error)
	LoadModel(context.Context, *LoadModelRequest) (*LoadModelResponse, error)
	UnloadModel(context.Context, *UnloadModelRequest) (*UnloadModelResponse, error)
	Predict(context.Context, *PredictRequest) (*PredictResponse, error)
	CaptureData(context.Context, *CaptureDataRequest) (*CaptureDataResponse, error)
}

// UnimplementedAgentServer can be embedded to have forward compatible
// implementations.
type UnimplementedAgentServer struct{}

func (UnimplementedAgentServer) ListModels(context.Context, *ListModelsRequest) (*ListModelsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListModels not implemented")
}
func (UnimplementedAgentServer) DescribeModel(context.Context, *DescribeModelRequest) (*DescribeModelResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method DescribeModel not implemented")
}
func (UnimplementedAgentServer) LoadModel(context.Context, *LoadModelRequest) (*LoadModelResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method LoadModel not implemented")
}
func (UnimplementedAgentServer) UnloadModel(context.Context, *UnloadModelRequest) (*UnloadModelResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method UnloadModel not implemented")
}
func (UnimplementedAgentServer) Predict(context.Context, *PredictRequest) (*PredictResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Predict not implemented")
}
func (UnimplementedAgentServer) CaptureData(context.Context, *CaptureDataRequest) (*CaptureDataResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CaptureData not implemented")
}

func RegisterAgentServer(s grpc.ServiceRegistrar, srv AgentServer) {
	s.RegisterService(&Agent_ServiceDesc, srv)
}

func _Agent_ListModels_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListModelsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).ListModels(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Agent_ListModels_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServer).ListModels(ctx, req.(*ListModelsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Agent_DescribeModel_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DescribeModelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).DescribeModel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Agent_DescribeModel_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServer).DescribeModel(ctx, req.(*DescribeModelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Agent_LoadModel_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LoadModelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).LoadModel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Agent_LoadModel_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServer).LoadModel(ctx, req.(*LoadModelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Agent_UnloadModel_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UnloadModelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).UnloadModel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Agent_UnloadModel_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServer).UnloadModel(ctx, req.(*UnloadModelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Agent_Predict_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PredictRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Agent_Predict_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServer).Predict(ctx, req.(*PredictRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Agent_CaptureData_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CaptureDataRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).CaptureData(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Agent_CaptureData_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServer).CaptureData(ctx, req.(*CaptureDataRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Agent_ServiceDesc is the grpc.ServiceDesc for the Agent service.
var Agent_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "edgeagent.v1alpha1.Agent",
	HandlerType: (*AgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListModels", Handler: _Agent_ListModels_Handler},
		{MethodName: "DescribeModel", Handler: _Agent_DescribeModel_Handler},
		{MethodName: "LoadModel", Handler: _Agent_LoadModel_Handler},
		{MethodName: "UnloadModel", Handler: _Agent_UnloadModel_Handler},
		{MethodName: "Predict", Handler: _Agent_Predict_Handler},
		{MethodName: "CaptureData", Handler: _Agent_CaptureData_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "edgeagent/v1alpha1/agent",
}
