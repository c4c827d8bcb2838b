package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestJSONCodec_RoundTrips(t *testing.T) {
	c := jsonCodec{}
	in := &OperationRequest{Resource: "res1", Op: "start", Args: []KV{{Key: "device", Value: "/dev/sdb"}}}

	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(OperationRequest)
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, in.Resource, out.Resource)
	assert.Equal(t, in.Op, out.Op)
	assert.Equal(t, in.Args, out.Args)
}

// fakeAgentServer is a minimal in-test AgentServer implementation used to
// exercise the hand-declared ServiceDesc end to end over a real listener.
type fakeAgentServer struct {
	lastReq *OperationRequest
}

func (f *fakeAgentServer) Operate(ctx context.Context, req *OperationRequest) (*OperationResponse, error) {
	f.lastReq = req
	if req.Op == "fail" {
		return &OperationResponse{Err: "simulated failure"}, nil
	}
	return &OperationResponse{Ok: 7}, nil
}

func startAgentServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gs := grpc.NewServer()
	RegisterAgentServer(gs, &fakeAgentServer{})

	go gs.Serve(lis)
	return lis.Addr().String(), gs.Stop
}

func TestAgentClient_OperateRoundTrip(t *testing.T) {
	addr, stop := startAgentServer(t)
	defer stop()

	cc, err := Dial(addr, insecure.NewCredentials())
	require.NoError(t, err)
	defer cc.Close()

	client := NewAgentClient(cc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Operate(ctx, &OperationRequest{
		Resource: "res1",
		Op:       "monitor",
		Args:     []KV{{Key: "ocf_type", Value: "heartbeat/lustre"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(7), resp.Ok)
	assert.Empty(t, resp.Err)
}

func TestAgentClient_OperateSurfacesAppError(t *testing.T) {
	addr, stop := startAgentServer(t)
	defer stop()

	cc, err := Dial(addr, insecure.NewCredentials())
	require.NoError(t, err)
	defer cc.Close()

	client := NewAgentClient(cc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Operate(ctx, &OperationRequest{Resource: "res1", Op: "fail"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Err)
}
