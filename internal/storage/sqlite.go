// Package storage persists executions and nodes to SQLite, adapting
// the teacher's runs/executions schema into the executions/nodes shape
// of spec.md §3. Write-through happens on terminal node transitions
// only (internal/agentloop.Loop calls SaveNode from complete/fail/timeout,
// never from the running state), per spec.md §6's "Persistence layout".
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rlmrun/rlmrun/internal/trace"
)

// Repository is the narrow persistence boundary of SPEC_FULL.md §11:
// save an execution record, save a node record, and reload a
// previously persisted execution's full tree.
type Repository interface {
	SaveExecution(ctx context.Context, exec trace.Execution) error
	SaveNode(ctx context.Context, node trace.Node) error
	LoadTree(ctx context.Context, executionID string) (*trace.Tree, error)
	// ListExecutions returns the most recent executions, newest first,
	// for the CLI's `list` subcommand — not part of spec.md's core data
	// flow, but needed to discover execution IDs to pass to `tree`.
	ListExecutions(ctx context.Context, limit int) ([]trace.Execution, error)
}

// SQLite is the one concrete Repository, backed by modernc.org/sqlite
// exactly as the teacher's Storage is.
type SQLite struct {
	db *sql.DB
}

func New(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		query TEXT NOT NULL,
		context_size INTEGER NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		total_input_tokens INTEGER NOT NULL DEFAULT 0,
		total_output_tokens INTEGER NOT NULL DEFAULT 0,
		total_cost_usd REAL NOT NULL DEFAULT 0,
		final_result TEXT,
		error_kind TEXT,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL REFERENCES executions(id),
		parent_node_id TEXT,
		node_type TEXT NOT NULL,
		depth INTEGER NOT NULL,
		sequence INTEGER NOT NULL,
		prompt TEXT,
		program TEXT,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		model TEXT,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		output TEXT,
		error_kind TEXT,
		error_message TEXT,
		memory_before TEXT,
		memory_after TEXT,
		UNIQUE(execution_id, parent_node_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id);
	CREATE INDEX IF NOT EXISTS idx_nodes_execution ON nodes(execution_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (s *SQLite) SaveExecution(ctx context.Context, exec trace.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, session_id, query, context_size, status, started_at, completed_at,
			total_input_tokens, total_output_tokens, total_cost_usd, final_result, error_kind, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id, status = excluded.status, completed_at = excluded.completed_at,
			total_input_tokens = excluded.total_input_tokens, total_output_tokens = excluded.total_output_tokens,
			total_cost_usd = excluded.total_cost_usd, final_result = excluded.final_result,
			error_kind = excluded.error_kind, error_message = excluded.error_message`,
		exec.ID, nullableString(exec.SessionID), exec.Query, exec.ContextSize, exec.Status,
		exec.StartedAt, exec.CompletedAt, exec.TotalInputTokens, exec.TotalOutputTokens, exec.TotalCostUSD,
		nullableString(exec.FinalResult), nullableString(exec.ErrorKind), nullableString(exec.ErrorMessage),
	)
	return err
}

func (s *SQLite) SaveNode(ctx context.Context, node trace.Node) error {
	memBefore, err := json.Marshal(node.MemoryBefore)
	if err != nil {
		return err
	}
	memAfter, err := json.Marshal(node.MemoryAfter)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, execution_id, parent_node_id, node_type, depth, sequence, prompt, program,
			status, started_at, completed_at, model, input_tokens, output_tokens, cost_usd, output,
			error_kind, error_message, memory_before, memory_after)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, completed_at = excluded.completed_at, output = excluded.output,
			input_tokens = excluded.input_tokens, output_tokens = excluded.output_tokens, cost_usd = excluded.cost_usd,
			error_kind = excluded.error_kind, error_message = excluded.error_message,
			memory_before = excluded.memory_before, memory_after = excluded.memory_after`,
		node.ID, node.ExecutionID, nullableString(node.ParentNodeID), node.NodeType, node.Depth, node.Sequence,
		nullableString(node.Prompt), nullableString(node.Program), node.Status, node.StartedAt, node.CompletedAt,
		nullableString(node.Model), node.InputTokens, node.OutputTokens, node.CostUSD, nullableString(node.Output),
		nullableString(node.ErrorKind), nullableString(node.ErrorMessage), string(memBefore), string(memAfter),
	)
	return err
}

func (s *SQLite) LoadTree(ctx context.Context, executionID string) (*trace.Tree, error) {
	exec, err := s.loadExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	tree := trace.NewTree(exec)
	nodes, err := s.loadNodes(ctx, executionID)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		tree.AddNode(n)
	}
	return tree, nil
}

func (s *SQLite) loadExecution(ctx context.Context, executionID string) (*trace.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, query, context_size, status, started_at, completed_at,
			total_input_tokens, total_output_tokens, total_cost_usd, final_result, error_kind, error_message
		 FROM executions WHERE id = ?`, executionID,
	)

	var exec trace.Execution
	var sessionID, finalResult, errorKind, errorMessage sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(
		&exec.ID, &sessionID, &exec.Query, &exec.ContextSize, &exec.Status, &exec.StartedAt, &completedAt,
		&exec.TotalInputTokens, &exec.TotalOutputTokens, &exec.TotalCostUSD, &finalResult, &errorKind, &errorMessage,
	); err != nil {
		return nil, err
	}

	exec.SessionID = sessionID.String
	exec.FinalResult = finalResult.String
	exec.ErrorKind = errorKind.String
	exec.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}

	return &exec, nil
}

func (s *SQLite) loadNodes(ctx context.Context, executionID string) ([]*trace.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, parent_node_id, node_type, depth, sequence, prompt, program, status,
			started_at, completed_at, model, input_tokens, output_tokens, cost_usd, output,
			error_kind, error_message, memory_before, memory_after
		 FROM nodes WHERE execution_id = ? ORDER BY sequence`, executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*trace.Node
	for rows.Next() {
		n := &trace.Node{}
		var parentNodeID, prompt, program, model, output, errorKind, errorMessage sql.NullString
		var completedAt sql.NullTime
		var memBefore, memAfter string

		if err := rows.Scan(
			&n.ID, &n.ExecutionID, &parentNodeID, &n.NodeType, &n.Depth, &n.Sequence, &prompt, &program, &n.Status,
			&n.StartedAt, &completedAt, &model, &n.InputTokens, &n.OutputTokens, &n.CostUSD, &output,
			&errorKind, &errorMessage, &memBefore, &memAfter,
		); err != nil {
			return nil, err
		}

		n.ParentNodeID = parentNodeID.String
		n.Prompt = prompt.String
		n.Program = program.String
		n.Model = model.String
		n.Output = output.String
		n.ErrorKind = errorKind.String
		n.ErrorMessage = errorMessage.String
		if completedAt.Valid {
			n.CompletedAt = &completedAt.Time
		}
		if err := json.Unmarshal([]byte(memBefore), &n.MemoryBefore); err != nil {
			slog.Warn("failed to decode memory_before, treating as empty", "node_id", n.ID, "error", err)
		}
		if err := json.Unmarshal([]byte(memAfter), &n.MemoryAfter); err != nil {
			slog.Warn("failed to decode memory_after, treating as empty", "node_id", n.ID, "error", err)
		}

		nodes = append(nodes, n)
	}

	return nodes, rows.Err()
}

func (s *SQLite) ListExecutions(ctx context.Context, limit int) ([]trace.Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, query, context_size, status, started_at, completed_at,
			total_input_tokens, total_output_tokens, total_cost_usd, final_result, error_kind, error_message
		 FROM executions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trace.Execution
	for rows.Next() {
		var exec trace.Execution
		var sessionID, finalResult, errorKind, errorMessage sql.NullString
		var completedAt sql.NullTime

		if err := rows.Scan(
			&exec.ID, &sessionID, &exec.Query, &exec.ContextSize, &exec.Status, &exec.StartedAt, &completedAt,
			&exec.TotalInputTokens, &exec.TotalOutputTokens, &exec.TotalCostUSD, &finalResult, &errorKind, &errorMessage,
		); err != nil {
			return nil, err
		}
		exec.SessionID = sessionID.String
		exec.FinalResult = finalResult.String
		exec.ErrorKind = errorKind.String
		exec.ErrorMessage = errorMessage.String
		if completedAt.Valid {
			exec.CompletedAt = &completedAt.Time
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// FormatTimeAgo renders a relative timestamp for the tree/list CLI
// output, kept from the teacher's TUI formatting helper.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
