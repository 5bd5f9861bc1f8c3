// Package orchestrator ties the Agent Loop, the sandbox's recursive
// llm_query primitive, and session memory together into one top-level
// run, per spec.md §4.3. It generalizes the teacher's Orchestrator —
// which drove one Claude CLI subprocess per workflow step through a
// state machine — into recursion: each llm_query call spawns a nested
// Agent Loop on a sibling goroutine instead of shelling out, with depth
// and deadline enforced before the spawn and a semaphore bounding how
// many children may be in flight across the process at once.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rlmrun/rlmrun/internal/agentloop"
	"github.com/rlmrun/rlmrun/internal/config"
	"github.com/rlmrun/rlmrun/internal/eventbus"
	"github.com/rlmrun/rlmrun/internal/llmclient"
	"github.com/rlmrun/rlmrun/internal/orcherr"
	"github.com/rlmrun/rlmrun/internal/sandbox"
	"github.com/rlmrun/rlmrun/internal/session"
	"github.com/rlmrun/rlmrun/internal/storage"
	"github.com/rlmrun/rlmrun/internal/trace"
)

// maxConcurrentChildren bounds how many nested Agent Loop invocations
// may be in flight at once across every Run of one Orchestrator, through
// the semaphore.Weighted that New creates.
const maxConcurrentChildren = 8

// Request is one top-level run, per spec.md §4.3's "(query, context,
// session_id?, model?)".
type Request struct {
	Query     string
	Context   string
	SessionID string
	Model     string
}

// Orchestrator runs top-level executions against one LM client, one
// config, and one session repository, shared across every Run call.
type Orchestrator struct {
	Client   llmclient.Client
	Config   *config.Config
	Sessions session.Repository
	// Storage, if set, persists the execution and every terminal node
	// transition, per spec.md §6's "Persistence layout" and SPEC_FULL.md
	// §11's "write-through on terminal node transitions only". Nil is a
	// valid, fully-functional configuration (in-memory only).
	Storage storage.Repository

	sem *semaphore.Weighted
}

func New(client llmclient.Client, cfg *config.Config, sessions session.Repository) *Orchestrator {
	return &Orchestrator{
		Client:   client,
		Config:   cfg,
		Sessions: sessions,
		sem:      semaphore.NewWeighted(maxConcurrentChildren),
	}
}

// Run executes req to completion and returns the finished tree. bus may
// be nil, in which case a fresh one is created; pass a caller-owned bus
// to subscribe to live events before or during the run, per spec.md
// §4.6. The returned error is non-nil only for rejection at entry
// (ContextTooLarge, a bad session load); once an execution exists,
// terminal failures are recorded on it and Run returns a nil error.
func (o *Orchestrator) Run(ctx context.Context, req Request, bus *eventbus.Bus) (*trace.Tree, error) {
	if bus == nil {
		bus = eventbus.New()
	}

	if len(req.Context) > o.Config.MaxContextSize {
		return nil, orcherr.New(orcherr.ContextTooLarge, fmt.Sprintf(
			"context size %d exceeds max_context_size %d", len(req.Context), o.Config.MaxContextSize))
	}

	model := req.Model
	if model == "" {
		model = o.Config.DefaultModel
	}

	rec, err := o.Sessions.Load(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	exec := &trace.Execution{
		ID:          uuid.NewString(),
		SessionID:   req.SessionID,
		Query:       req.Query,
		ContextSize: len(req.Context),
		Status:      trace.ExecRunning,
		StartedAt:   time.Now(),
	}
	tree := trace.NewTree(exec)
	loop := agentloop.New(o.Client, tree, bus)
	loop.Storage = o.Storage
	o.saveExecution(ctx, *exec)

	bus.Publish(eventbus.Event{
		Kind: eventbus.ExecutionStarted, ExecutionID: exec.ID, Timestamp: exec.StartedAt,
		Fields: map[string]any{"query": req.Query, "context_size": exec.ContextSize, "session_id": req.SessionID},
	})
	slog.Info("execution started", "execution_id", exec.ID, "session_id", req.SessionID, "context_size", exec.ContextSize)

	deadline := exec.StartedAt.Add(o.Config.ExecutionTimeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	rc := &recursionCtx{
		executionID: exec.ID,
		context:     req.Context,
		model:       model,
		deadline:    deadline,
		loop:        loop,
	}

	g, gctx := errgroup.WithContext(runCtx)

	rootID := uuid.NewString()
	var rootNode trace.Node
	g.Go(func() error {
		var runErr error
		rootNode, runErr = loop.Run(gctx, agentloop.Request{
			ExecutionID:      exec.ID,
			NodeID:           rootID,
			NodeType:         trace.NodeTypeRoot,
			Depth:            0,
			Query:            req.Query,
			Context:          req.Context,
			Model:            model,
			MemoryIn:         rec.Memory,
			Deadline:         deadline,
			DefaultChunkSize: o.Config.DefaultChunkSize,
			LLMQuery:         o.llmQueryFor(rc, rootID, 0),
		})
		return runErr
	})

	// g.Wait's error duplicates the failure already recorded on rootNode
	// by the Agent Loop; it is only used here to cancel gctx promptly for
	// any still-running grandchildren, not inspected directly.
	_ = g.Wait()

	if mergeErr := o.Sessions.MergeMemory(ctx, req.SessionID, rootNode.MemoryAfter); mergeErr != nil && rootNode.Status == trace.NodeCompleted {
		tree.SetTerminal(trace.ExecFailed, "", string(orcherr.ProgramRuntimeError), fmt.Sprintf("session memory merge failed: %v", mergeErr))
		bus.Publish(eventbus.Event{Kind: eventbus.ExecutionFailed, ExecutionID: exec.ID, Timestamp: time.Now(),
			Fields: map[string]any{"error_kind": string(orcherr.ProgramRuntimeError), "error_message": mergeErr.Error()}})
		return tree, nil
	}

	now := time.Now()
	if rootNode.Status == trace.NodeCompleted {
		tree.SetTerminal(trace.ExecCompleted, rootNode.Output, "", "")
		bus.Publish(eventbus.Event{Kind: eventbus.ExecutionCompleted, ExecutionID: exec.ID, Timestamp: now,
			Fields: map[string]any{"final_result": rootNode.Output}})
		slog.Info("execution completed", "execution_id", exec.ID)
	} else {
		tree.SetTerminal(trace.ExecFailed, "", rootNode.ErrorKind, rootNode.ErrorMessage)
		bus.Publish(eventbus.Event{Kind: eventbus.ExecutionFailed, ExecutionID: exec.ID, Timestamp: now,
			Fields: map[string]any{"error_kind": rootNode.ErrorKind, "error_message": rootNode.ErrorMessage}})
		slog.Warn("execution failed", "execution_id", exec.ID, "error_kind", rootNode.ErrorKind, "error_message", rootNode.ErrorMessage)
	}
	o.saveExecution(ctx, tree.Execution())

	return tree, nil
}

func (o *Orchestrator) saveExecution(ctx context.Context, exec trace.Execution) {
	if o.Storage == nil {
		return
	}
	if err := o.Storage.SaveExecution(ctx, exec); err != nil {
		slog.Warn("failed to persist execution", "execution_id", exec.ID, "error", err)
	}
}

// recursionCtx carries the pieces of one top-level run that every
// recursive llm_query call needs: the fixed context string (children
// all see the same context as the root, per spec.md §4.3), the model,
// the execution-wide deadline, and the shared Agent Loop.
type recursionCtx struct {
	executionID string
	context     string
	model       string
	deadline    time.Time
	loop        *agentloop.Loop
}

// llmQueryFor builds the sandbox.NativeFunc that services llm_query
// calls made by the node identified by nodeID at depth nodeDepth. It
// enforces RecursionLimit and DeadlineExceeded before spawning a child,
// then blocks the interpreter's goroutine on a one-shot channel while
// the nested Agent Loop runs on a sibling goroutine — the bridge
// described in spec.md §9's "Bridging blocking scripting calls to
// asynchronous LM I/O" design note. The returned closure reads the
// calling node's *current* memory out of the interpreter it's invoked
// from, so a child always sees whatever the parent program has mutated
// memory to by the time of the call, per spec.md §4.3's "memory =
// current memory".
func (o *Orchestrator) llmQueryFor(rc *recursionCtx, nodeID string, nodeDepth int) sandbox.NativeFunc {
	return func(interp *sandbox.Interp, args []sandbox.Value) (sandbox.Value, error) {
		if len(args) != 1 || args[0].Tag != sandbox.TagString {
			return sandbox.Value{}, orcherr.New(orcherr.ProgramRuntimeError, "llm_query expects a single string argument")
		}

		childDepth := nodeDepth + 1
		if childDepth > o.Config.MaxRecursionDepth {
			return sandbox.Value{}, orcherr.New(orcherr.RecursionLimit, fmt.Sprintf(
				"llm_query at depth %d exceeds max_recursion_depth %d", childDepth, o.Config.MaxRecursionDepth))
		}
		remaining := time.Until(rc.deadline)
		if remaining <= 0 {
			return sandbox.Value{}, orcherr.New(orcherr.DeadlineExceeded, "execution deadline exceeded before llm_query could run")
		}

		acquireCtx, acquireCancel := context.WithTimeout(context.Background(), remaining)
		defer acquireCancel()
		if err := o.sem.Acquire(acquireCtx, 1); err != nil {
			return sandbox.Value{}, orcherr.New(orcherr.DeadlineExceeded, "execution deadline exceeded waiting for a concurrency slot")
		}
		defer o.sem.Release(1)

		memVal, _ := interp.Global.Get("memory")
		memIn := sandbox.NewDict()
		if memVal.Tag == sandbox.TagDict {
			memIn = memVal.Dict
		}

		childID := uuid.NewString()
		type result struct {
			node trace.Node
			err  error
		}
		resCh := make(chan result, 1)
		childCtx, childCancel := context.WithDeadline(context.Background(), rc.deadline)
		defer childCancel()
		go func() {
			node, err := rc.loop.Run(childCtx, agentloop.Request{
				ExecutionID:  rc.executionID,
				ParentNodeID: nodeID,
				NodeID:       childID,
				NodeType:     trace.NodeTypeChild,
				Depth:        childDepth,
				Query:        args[0].Str,
				Context:      rc.context,
				Model:        rc.model,
				MemoryIn:     sandbox.DictToMap(memIn),
				Deadline:     rc.deadline,
				LLMQuery:     o.llmQueryFor(rc, childID, childDepth),
			})
			resCh <- result{node: node, err: err}
		}()

		select {
		case r := <-resCh:
			if r.err != nil {
				if oe, ok := r.err.(*orcherr.Error); ok {
					return sandbox.Value{}, oe
				}
				return sandbox.Value{}, orcherr.Wrap(orcherr.ProviderError, r.err.Error(), r.err)
			}
			return sandbox.Str(r.node.Output), nil
		case <-childCtx.Done():
			return sandbox.Value{}, orcherr.New(orcherr.DeadlineExceeded, "execution deadline exceeded while waiting on llm_query")
		}
	}
}
