package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// AgentServer is the Remote Agent's side of the Manager↔Remote RPC: the
// single operation(resource, op, args) -> result method of §6.
type AgentServer interface {
	Operate(ctx context.Context, req *OperationRequest) (*OperationResponse, error)
}

// agentOperateHandler adapts an AgentServer.Operate call to the
// grpc methodHandler signature, decoding the request with grpc's configured
// codec (our jsonCodec) rather than a generated unmarshal method.
func agentOperateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(OperationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).Operate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentServiceName + "/Operate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServer).Operate(ctx, req.(*OperationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

const AgentServiceName = "halo.RemoteAgent"

// AgentServiceDesc is the hand-declared stand-in for what a .proto-generated
// ServiceDesc would provide: there is no schema or generator in scope (see
// package doc), so the method table is wired by hand to the same
// grpc.ServiceDesc shape grpc.NewServer's RegisterService expects.
var AgentServiceDesc = grpc.ServiceDesc{
	ServiceName: AgentServiceName,
	HandlerType: (*AgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Operate", Handler: agentOperateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "halo/agent.proto",
}

// RegisterAgentServer registers an AgentServer implementation with a gRPC
// server, mirroring the generated Register<Service>Server functions.
func RegisterAgentServer(s grpc.ServiceRegistrar, srv AgentServer) {
	s.RegisterService(&AgentServiceDesc, srv)
}

// AgentClient is a thin typed wrapper around grpc.ClientConn.Invoke, the
// manual equivalent of a generated client stub.
type AgentClient struct {
	cc *grpc.ClientConn
}

func NewAgentClient(cc *grpc.ClientConn) *AgentClient {
	return &AgentClient{cc: cc}
}

func (c *AgentClient) Operate(ctx context.Context, req *OperationRequest) (*OperationResponse, error) {
	out := new(OperationResponse)
	if err := c.cc.Invoke(ctx, AgentServiceName+"/Operate", req, out); err != nil {
		return nil, err
	}
	return out, nil
}
