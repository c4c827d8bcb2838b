// Package agent implements the Remote Agent (spec §4.2): the per-host RPC
// endpoint that receives operation requests from the manager, resolves them
// to an OCF resource-agent script, and dispatches through the OCF Invoker —
// serializing operations that share a resource identifier while letting
// operations on distinct resources proceed concurrently.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/noahj-LANL/halo/internal/ocf"
	"github.com/noahj-LANL/halo/internal/rpc"
	"github.com/noahj-LANL/halo/pkg/log"
)

const ocfTypeParam = "ocf_type"

// defaultProvider is used when a caller's ocf_type value names only a
// script (e.g. "IPaddr2") rather than "<provider>/<type>".
const defaultProvider = "heartbeat"

// job is one queued operation awaiting its turn on a resource's serial
// worker.
type job struct {
	ctx    context.Context
	req    *rpc.OperationRequest
	result chan jobResult
}

type jobResult struct {
	resp *rpc.OperationResponse
	err  error
}

// queue is a single resource's FIFO worker: one goroutine drains it in
// arrival order, giving the strict per-resource serialization the contract
// requires while other resources' queues run independently.
type queue struct {
	jobs chan job
}

func newQueue(run func(job)) *queue {
	q := &queue{jobs: make(chan job, 32)}
	go func() {
		for j := range q.jobs {
			run(j)
		}
	}()
	return q
}

// Agent is one process's Remote Agent: it owns the per-resource queue table
// and the OCF Invoker queued jobs are dispatched through.
type Agent struct {
	AgentID string
	OCFRoot string
	TestDir string // HALO_TEST_DIRECTORY; empty outside the test environment

	invoker *ocf.Invoker

	mu     sync.Mutex
	queues map[string]*queue
}

func New(agentID, ocfRoot, testDir string) *Agent {
	return &Agent{
		AgentID: agentID,
		OCFRoot: ocfRoot,
		TestDir: testDir,
		invoker: ocf.New(ocfRoot),
		queues:  make(map[string]*queue),
	}
}

// AdvertiseIdentity writes this agent's PID to <TestDir>/<AgentID>.pid so an
// external fence_off in the test environment can find and kill it. A no-op
// outside the test environment.
func (a *Agent) AdvertiseIdentity() error {
	if a.TestDir == "" {
		return nil
	}
	path := filepath.Join(a.TestDir, a.AgentID+".pid")
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0644); err != nil {
		return fmt.Errorf("write pid file %s: %w", path, err)
	}
	return nil
}

func (a *Agent) queueFor(resourceID string) *queue {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.queues[resourceID]
	if !ok {
		q = newQueue(a.runJob)
		a.queues[resourceID] = q
	}
	return q
}

// Operate implements rpc.AgentServer: it enqueues req on its resource's
// serial worker and blocks until that worker processes it or ctx is
// cancelled.
func (a *Agent) Operate(ctx context.Context, req *rpc.OperationRequest) (*rpc.OperationResponse, error) {
	q := a.queueFor(req.Resource)
	j := job{ctx: ctx, req: req, result: make(chan jobResult, 1)}

	select {
	case q.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-j.result:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runJob executes one queued operation against the OCF Invoker. A script's
// non-zero exit surfaces as an OCF code in the response, not as an RPC
// error; a locator fault, an unknown op, or an Invoker error (spawn failure
// or timeout) returns a non-nil error instead.
func (a *Agent) runJob(j job) {
	logger := log.WithResource(j.req.Resource).With().Str("request_id", j.req.RequestID).Logger()

	scriptPath, params, err := resolveLocator(a.OCFRoot, j.req.Args)
	if err != nil {
		j.result <- jobResult{err: fmt.Errorf("resolve locator: %w", err)}
		return
	}

	action, err := actionFor(j.req.Op)
	if err != nil {
		j.result <- jobResult{err: err}
		return
	}

	result, err := a.invoker.Invoke(j.ctx, scriptPath, action, params)
	if err != nil {
		logger.Warn().Err(err).Str("op", j.req.Op).Msg("ocf invocation failed")
		j.result <- jobResult{err: err}
		return
	}

	j.result <- jobResult{resp: &rpc.OperationResponse{Ok: int32(result.Code)}}
}

func actionFor(op string) (ocf.Action, error) {
	switch op {
	case "monitor":
		return ocf.ActionMonitor, nil
	case "start":
		return ocf.ActionStart, nil
	case "stop":
		return ocf.ActionStop, nil
	default:
		return "", fmt.Errorf("unknown operation %q", op)
	}
}

// resolveLocator extracts ocf_type from args to build the resource-agent
// script path ${OCF_ROOT}/resource.d/<provider>/<type>, and returns the
// remaining args as ordered OCF parameters, per §4.2's resource locator
// contract.
func resolveLocator(ocfRoot string, args []rpc.KV) (string, []ocf.Param, error) {
	var ocfType string
	params := make([]ocf.Param, 0, len(args))
	for _, kv := range args {
		if kv.Key == ocfTypeParam {
			ocfType = kv.Value
			continue
		}
		params = append(params, ocf.Param{Key: kv.Key, Value: kv.Value})
	}
	if ocfType == "" {
		return "", nil, fmt.Errorf("missing %s parameter", ocfTypeParam)
	}

	provider, typ := defaultProvider, ocfType
	if i := strings.Index(ocfType, "/"); i >= 0 {
		provider, typ = ocfType[:i], ocfType[i+1:]
	}

	return filepath.Join(ocfRoot, "resource.d", provider, typ), params, nil
}
