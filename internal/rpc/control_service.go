package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ControlServer is the Manager↔CLI surface of §6: a read-only snapshot plus
// the three power-control verbs.
type ControlServer interface {
	Monitor(ctx context.Context, req *MonitorRequest) (*ClusterSnapshot, error)
	PowerStatus(ctx context.Context, req *PowerRequest) (*PowerResponse, error)
	PowerOff(ctx context.Context, req *PowerRequest) (*PowerResponse, error)
	PowerOn(ctx context.Context, req *PowerRequest) (*PowerResponse, error)
}

const ControlServiceName = "halo.Control"

func controlMonitorHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(MonitorRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Monitor(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ControlServiceName + "/Monitor"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Monitor(ctx, req.(*MonitorRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlPowerStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PowerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).PowerStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ControlServiceName + "/PowerStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).PowerStatus(ctx, req.(*PowerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlPowerOffHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PowerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).PowerOff(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ControlServiceName + "/PowerOff"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).PowerOff(ctx, req.(*PowerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlPowerOnHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PowerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).PowerOn(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ControlServiceName + "/PowerOn"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).PowerOn(ctx, req.(*PowerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Monitor", Handler: controlMonitorHandler},
		{MethodName: "PowerStatus", Handler: controlPowerStatusHandler},
		{MethodName: "PowerOff", Handler: controlPowerOffHandler},
		{MethodName: "PowerOn", Handler: controlPowerOnHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "halo/control.proto",
}

func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

// ControlClient is the CLI's typed handle onto the Control service.
type ControlClient struct {
	cc *grpc.ClientConn
}

func NewControlClient(cc *grpc.ClientConn) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) Monitor(ctx context.Context) (*ClusterSnapshot, error) {
	out := new(ClusterSnapshot)
	if err := c.cc.Invoke(ctx, ControlServiceName+"/Monitor", &MonitorRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) PowerStatus(ctx context.Context, hostID string) (*PowerResponse, error) {
	out := new(PowerResponse)
	if err := c.cc.Invoke(ctx, ControlServiceName+"/PowerStatus", &PowerRequest{HostID: hostID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) PowerOff(ctx context.Context, hostID string) (*PowerResponse, error) {
	out := new(PowerResponse)
	if err := c.cc.Invoke(ctx, ControlServiceName+"/PowerOff", &PowerRequest{HostID: hostID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) PowerOn(ctx context.Context, hostID string) (*PowerResponse, error) {
	out := new(PowerResponse)
	if err := c.cc.Invoke(ctx, ControlServiceName+"/PowerOn", &PowerRequest{HostID: hostID}, out); err != nil {
		return nil, err
	}
	return out, nil
}
