// Package httpapi is the thin net/http stub of SPEC_FULL.md §11: the
// two endpoints spec.md §6 names (POST /api/execute, POST
// /api/execute/stream) laid directly over internal/orchestrator and
// internal/eventbus, with none of the session/dashboard REST surface
// spec.md §1 places out of scope. No third-party HTTP router or
// framework appears anywhere in the retrieval pack, so this is built on
// net/http's own mux — see DESIGN.md.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rlmrun/rlmrun/internal/eventbus"
	"github.com/rlmrun/rlmrun/internal/orchestrator"
)

// Server adapts HTTP requests into orchestrator.Request calls.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
}

func NewServer(o *orchestrator.Orchestrator) *Server {
	return &Server{Orchestrator: o}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/execute", s.handleExecute)
	mux.HandleFunc("/api/execute/stream", s.handleExecuteStream)
	return mux
}

type executeRequest struct {
	Query     string `json:"query"`
	Context   string `json:"context"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

type executeResponse struct {
	ExecutionID       string  `json:"execution_id"`
	Status            string  `json:"status"`
	FinalResult       string  `json:"final_result,omitempty"`
	ErrorKind         string  `json:"error_kind,omitempty"`
	ErrorMessage      string  `json:"error_message,omitempty"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	tree, err := s.Orchestrator.Run(r.Context(), orchestrator.Request{
		Query: req.Query, Context: req.Context, SessionID: req.SessionID, Model: req.Model,
	}, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	exec := tree.Execution()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(executeResponse{
		ExecutionID:       exec.ID,
		Status:            string(exec.Status),
		FinalResult:       exec.FinalResult,
		ErrorKind:         exec.ErrorKind,
		ErrorMessage:      exec.ErrorMessage,
		TotalInputTokens:  exec.TotalInputTokens,
		TotalOutputTokens: exec.TotalOutputTokens,
		TotalCostUSD:      exec.TotalCostUSD,
	})
}

// handleExecuteStream runs the execution in the background and streams
// its event bus out as Server-Sent Events, one `event: <kind>` frame per
// internal/eventbus.Event, terminating the stream on the execution's
// terminal event.
func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	bus := eventbus.New()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	go func() {
		defer bus.Close()
		s.Orchestrator.Run(r.Context(), orchestrator.Request{
			Query: req.Query, Context: req.Context, SessionID: req.SessionID, Model: req.Model,
		}, bus)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			w.Write([]byte("event: " + string(ev.Kind) + "\ndata: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
