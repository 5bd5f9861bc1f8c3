// Package agentloop drives a single ExecutionNode's lifecycle: build the
// code-generation prompt, call the LM, parse the program out of the
// response, run it in the sandbox, and report a node record — the seven
// numbered steps of spec.md §4.2.
package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rlmrun/rlmrun/internal/eventbus"
	"github.com/rlmrun/rlmrun/internal/llmclient"
	"github.com/rlmrun/rlmrun/internal/orcherr"
	"github.com/rlmrun/rlmrun/internal/pricing"
	"github.com/rlmrun/rlmrun/internal/sandbox"
	"github.com/rlmrun/rlmrun/internal/storage"
	"github.com/rlmrun/rlmrun/internal/trace"
)

// Request is everything one node's lifecycle needs, per spec.md §4.2's
// "(query, context, depth, parent_node_id?, model, memory_in)".
type Request struct {
	ExecutionID      string
	ParentNodeID     string // empty for the root
	NodeType         trace.NodeType
	Depth            int
	// NodeID, if set, is used as the node's id instead of a freshly
	// generated one. The orchestrator sets this so it can build the
	// llm_query closure for this node's own children before the node
	// exists, since that closure needs the node's id as ParentNodeID.
	NodeID string
	Query            string // root: user query; child: the llm_query prompt argument
	Context          string
	Model            string
	MemoryIn         map[string]any
	Deadline         time.Time
	DefaultChunkSize int

	// LLMQuery services the sandbox's llm_query primitive for root nodes.
	// Supplied by the orchestrator, which knows how to recurse. Unused
	// for child nodes (their "program" phase is skipped per step 5).
	LLMQuery sandbox.NativeFunc
}

// Loop drives node lifecycles against one LM client, writing results
// into a shared execution Tree and publishing to its Bus.
type Loop struct {
	Client llmclient.Client
	Tree   *trace.Tree
	Bus    *eventbus.Bus
	// Storage, if set, persists every node once it reaches a terminal
	// status (completed/failed/timeout), per SPEC_FULL.md §11's
	// "write-through on terminal node transitions only".
	Storage storage.Repository
}

func New(client llmclient.Client, tree *trace.Tree, bus *eventbus.Bus) *Loop {
	return &Loop{Client: client, Tree: tree, Bus: bus}
}

func (l *Loop) saveNode(node *trace.Node) {
	if l.Storage == nil {
		return
	}
	if err := l.Storage.SaveNode(context.Background(), *node); err != nil {
		slog.Warn("failed to persist node", "node_id", node.ID, "execution_id", node.ExecutionID, "error", err)
	}
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Run executes one node's lifecycle to completion and returns the final
// node record. The returned error is non-nil exactly when the node did
// not reach trace.NodeCompleted, and carries an *orcherr.Error so the
// caller (Orchestrator, or a parent program via llm_query) can abort
// consistently with spec.md §7's propagation policy.
func (l *Loop) Run(ctx context.Context, req Request) (trace.Node, error) {
	// Step 1: create the node, snapshot memory_before, publish node_started.
	seq := l.Tree.NextSequence(req.ParentNodeID)
	nodeID := req.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	node := &trace.Node{
		ID:           nodeID,
		ExecutionID:  req.ExecutionID,
		ParentNodeID: req.ParentNodeID,
		NodeType:     req.NodeType,
		Depth:        req.Depth,
		Sequence:     seq,
		Status:       trace.NodeRunning,
		StartedAt:    time.Now(),
		Model:        req.Model,
		MemoryBefore: trace.DeepCopyMemory(req.MemoryIn),
	}
	l.Tree.AddNode(node)

	// Step 2: compose the prompt.
	var userMsg string
	if req.NodeType == trace.NodeTypeRoot {
		userMsg = rootUserMessage(req.Query, req.Context, req.DefaultChunkSize)
	} else {
		userMsg = childUserMessage(req.Query)
	}
	node.Prompt = userMsg
	l.Tree.AddNode(node)

	l.Bus.Publish(eventbus.Event{
		Kind: eventbus.NodeStarted, ExecutionID: req.ExecutionID, NodeID: node.ID, Timestamp: time.Now(),
		Fields: map[string]any{
			"parent_id": req.ParentNodeID, "depth": req.Depth, "sequence": seq,
			"node_type": string(req.NodeType), "prompt_preview": preview(userMsg, 200),
		},
	})

	// Step 3: call the LM client, with retry delegated to llmclient.Retrying
	// by whoever constructed l.Client.
	resp, err := l.Client.Complete(ctx, llmclient.Request{Model: req.Model, System: systemMessage, User: userMsg})
	if err != nil {
		return l.fail(node, orcherr.Wrap(orcherr.ProviderError, fmt.Sprintf("LM call failed: %v", err), err))
	}

	node.InputTokens = resp.InputTokens
	node.OutputTokens = resp.OutputTokens
	costUSD, known := pricing.Cost(req.Model, resp.InputTokens, resp.OutputTokens)
	node.CostUSD = costUSD
	if !known {
		node.ErrorMessage = "warning: unknown model in pricing table, cost recorded as 0"
	}
	l.Tree.AddUsage(resp.InputTokens, resp.OutputTokens, costUSD)

	if req.NodeType != trace.NodeTypeRoot {
		// Step 5: child nodes skip the program phase; the LM response text
		// is the node's output, verbatim.
		node.Output = resp.Text
		return l.complete(node)
	}

	// Step 4: parse the program out of the response.
	node.Program = extractProgram(resp.Text)
	l.Bus.Publish(eventbus.Event{
		Kind: eventbus.NodeCode, ExecutionID: req.ExecutionID, NodeID: node.ID, Timestamp: time.Now(),
		Fields: map[string]any{"code": node.Program},
	})

	// Step 6: run the program in the sandbox under a deadline.
	runCtx := ctx
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	memIn := memoryToDict(req.MemoryIn)
	outcome, memAfter := sandbox.Eval(runCtx, node.Program, req.Context, memIn, req.LLMQuery)
	node.MemoryAfter = dictToMemory(memAfter)

	switch {
	case outcome.Err != nil:
		return l.fail(node, outcome.Err)
	case outcome.Timeout:
		return l.timeout(node)
	default:
		node.Output = outcome.Final
		return l.complete(node)
	}
}

func (l *Loop) complete(node *trace.Node) (trace.Node, error) {
	now := time.Now()
	node.Status = trace.NodeCompleted
	node.CompletedAt = &now
	if node.MemoryAfter == nil {
		node.MemoryAfter = trace.DeepCopyMemory(node.MemoryBefore)
	}
	l.Tree.AddNode(node)
	l.Bus.Publish(eventbus.Event{
		Kind: eventbus.NodeOutput, ExecutionID: node.ExecutionID, NodeID: node.ID, Timestamp: now,
		Fields: map[string]any{
			"output_preview": preview(node.Output, 500),
			"input_tokens":   node.InputTokens, "output_tokens": node.OutputTokens, "cost_usd": node.CostUSD,
		},
	})
	l.saveNode(node)
	return *node, nil
}

func (l *Loop) fail(node *trace.Node, failure *orcherr.Error) (trace.Node, error) {
	now := time.Now()
	node.Status = trace.NodeFailed
	node.CompletedAt = &now
	node.ErrorKind = string(failure.Kind)
	node.ErrorMessage = failure.Message
	if node.ErrorKind == string(orcherr.SandboxViolation) && failure.Name != "" {
		node.ErrorMessage = fmt.Sprintf("%s: %s", failure.Message, failure.Name)
	}
	if node.MemoryAfter == nil {
		node.MemoryAfter = trace.DeepCopyMemory(node.MemoryBefore)
	}
	l.Tree.AddNode(node)
	l.Bus.Publish(eventbus.Event{
		Kind: eventbus.NodeFailed, ExecutionID: node.ExecutionID, NodeID: node.ID, Timestamp: now,
		Fields: map[string]any{"error_kind": node.ErrorKind, "error_message": node.ErrorMessage},
	})
	l.saveNode(node)
	return *node, failure
}

func (l *Loop) timeout(node *trace.Node) (trace.Node, error) {
	now := time.Now()
	node.Status = trace.NodeTimeout
	node.CompletedAt = &now
	failure := orcherr.New(orcherr.DeadlineExceeded, "node execution exceeded its deadline")
	node.ErrorKind = string(failure.Kind)
	node.ErrorMessage = failure.Message
	if node.MemoryAfter == nil {
		node.MemoryAfter = trace.DeepCopyMemory(node.MemoryBefore)
	}
	l.Tree.AddNode(node)
	l.Bus.Publish(eventbus.Event{
		Kind: eventbus.NodeFailed, ExecutionID: node.ExecutionID, NodeID: node.ID, Timestamp: now,
		Fields: map[string]any{"error_kind": string(failure.Kind), "error_message": failure.Message},
	})
	l.saveNode(node)
	return *node, failure
}
