package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc/credentials"

	"github.com/noahj-LANL/halo/internal/haloerr"
	"github.com/noahj-LANL/halo/internal/resourcegroup"
)

var opNames = map[resourcegroup.Op]string{
	resourcegroup.OpMonitor: "monitor",
	resourcegroup.OpStart:   "start",
	resourcegroup.OpStop:    "stop",
}

// Operator implements resourcegroup.RemoteOperator over real gRPC
// connections to remote agents, dialing lazily and caching one ClientConn
// per host address for the engine's lifetime.
type Operator struct {
	creds credentials.TransportCredentials

	mu      sync.Mutex
	clients map[string]*AgentClient
}

func NewOperator(creds credentials.TransportCredentials) *Operator {
	return &Operator{creds: creds, clients: make(map[string]*AgentClient)}
}

func (o *Operator) clientFor(hostAddr string) (*AgentClient, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if c, ok := o.clients[hostAddr]; ok {
		return c, nil
	}
	cc, err := Dial(hostAddr, o.creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", haloerr.ErrTransport, err)
	}
	client := NewAgentClient(cc)
	o.clients[hostAddr] = client
	return client, nil
}

// Operate satisfies resourcegroup.RemoteOperator: it translates an engine Op
// and ordered Param list into an OperationRequest and issues it against the
// remote agent at hostAddr. kind names the resource's OCF script and is
// carried as the ocf_type locator parameter the Remote Agent uses to
// resolve ${OCF_ROOT}/resource.d/<provider>/<type>, per §4.2.
func (o *Operator) Operate(ctx context.Context, hostAddr, resourceID, kind string, op resourcegroup.Op, params []resourcegroup.Param) (int, error) {
	client, err := o.clientFor(hostAddr)
	if err != nil {
		return 0, err
	}

	args := make([]KV, 0, len(params)+1)
	args = append(args, KV{Key: "ocf_type", Value: kind})
	for _, p := range params {
		args = append(args, KV{Key: p.Key, Value: p.Value})
	}

	req := &OperationRequest{RequestID: uuid.New().String(), Resource: resourceID, Op: opNames[op], Args: args}
	resp, err := client.Operate(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("%w: operate %s on %s (request %s): %v", haloerr.ErrTransport, resourceID, hostAddr, req.RequestID, err)
	}
	if resp.Err != "" {
		return 0, fmt.Errorf("%w: %s", haloerr.ErrTransport, resp.Err)
	}
	return int(resp.Ok), nil
}
