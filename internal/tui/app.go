// Package tui renders one execution's live tree as it runs, adapting
// the teacher's Bubble Tea run list/detail views from a 2-second SQLite
// poll (internal/tui's original tickCmd) to a push model: the App
// subscribes to an internal/eventbus.Bus and redraws on every event,
// per spec.md §4.6's "subscribers attach before or during a run."
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rlmrun/rlmrun/internal/eventbus"
)

// nodeView is the TUI's running picture of one trace.Node, built up
// incrementally from node_started/node_code/node_output/node_failed
// events rather than read back from storage.
type nodeView struct {
	id, parentID, nodeType string
	depth, sequence        int
	status                 string // running, completed, failed
	promptPreview          string
	outputPreview          string
	errorKind              string
	errorMessage           string
	inputTokens            int
	outputTokens           int
	costUSD                float64
}

// App is a Bubble Tea model for one execution. Construct with NewApp,
// passing a channel from eventbus.Bus.Subscribe.
type App struct {
	events <-chan eventbus.Event

	execStatus   string
	finalResult  string
	errorKind    string
	errorMessage string

	nodes map[string]*nodeView
	order []string

	spinner spinner.Model

	width, height int
	quitting      bool
}

// NewApp builds a TUI driven by events, the subscriber channel returned
// by an eventbus.Bus for the execution being watched.
func NewApp(events <-chan eventbus.Event) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusRunning
	return &App{
		events:     events,
		execStatus: "running",
		nodes:      make(map[string]*nodeView),
		spinner:    sp,
	}
}

type eventMsg eventbus.Event
type busClosedMsg struct{}

func waitForEvent(ch <-chan eventbus.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(waitForEvent(a.events), a.spinner.Tick)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.KeyMsg:
		switch m.String() {
		case "q", "ctrl+c", "esc":
			a.quitting = true
			return a, tea.Quit
		}
		return a, nil

	case tea.WindowSizeMsg:
		a.width, a.height = m.Width, m.Height
		return a, nil

	case eventMsg:
		a.apply(eventbus.Event(m))
		return a, waitForEvent(a.events)

	case busClosedMsg:
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(m)
		return a, cmd
	}
	return a, nil
}

func (a *App) apply(ev eventbus.Event) {
	switch ev.Kind {
	case eventbus.ExecutionStarted:
		a.execStatus = "running"

	case eventbus.NodeStarted:
		nv := &nodeView{id: ev.NodeID, status: "running"}
		if v, ok := ev.Fields["parent_id"].(string); ok {
			nv.parentID = v
		}
		if v, ok := ev.Fields["depth"].(int); ok {
			nv.depth = v
		}
		if v, ok := ev.Fields["sequence"].(int); ok {
			nv.sequence = v
		}
		if v, ok := ev.Fields["node_type"].(string); ok {
			nv.nodeType = v
		}
		if v, ok := ev.Fields["prompt_preview"].(string); ok {
			nv.promptPreview = v
		}
		a.nodes[ev.NodeID] = nv
		a.order = append(a.order, ev.NodeID)

	case eventbus.NodeCode:
		// Code is shown on demand (not by default) to keep the tree
		// compact; nothing to update on the summary line.

	case eventbus.NodeOutput:
		nv, ok := a.nodes[ev.NodeID]
		if !ok {
			return
		}
		nv.status = "completed"
		if v, ok := ev.Fields["output_preview"].(string); ok {
			nv.outputPreview = v
		}
		if v, ok := ev.Fields["input_tokens"].(int); ok {
			nv.inputTokens = v
		}
		if v, ok := ev.Fields["output_tokens"].(int); ok {
			nv.outputTokens = v
		}
		if v, ok := ev.Fields["cost_usd"].(float64); ok {
			nv.costUSD = v
		}

	case eventbus.NodeFailed:
		nv, ok := a.nodes[ev.NodeID]
		if !ok {
			return
		}
		nv.status = "failed"
		if v, ok := ev.Fields["error_kind"].(string); ok {
			nv.errorKind = v
		}
		if v, ok := ev.Fields["error_message"].(string); ok {
			nv.errorMessage = v
		}

	case eventbus.ExecutionCompleted:
		a.execStatus = "completed"
		if v, ok := ev.Fields["final_result"].(string); ok {
			a.finalResult = v
		}

	case eventbus.ExecutionFailed:
		a.execStatus = "failed"
		if v, ok := ev.Fields["error_kind"].(string); ok {
			a.errorKind = v
		}
		if v, ok := ev.Fields["error_message"].(string); ok {
			a.errorMessage = v
		}
	}
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("rlmrun") + "  " + a.renderExecStatus() + "\n\n")

	if len(a.order) == 0 {
		b.WriteString(dimStyle.Render("waiting for the root node to start...") + "\n")
	}

	for _, id := range a.order {
		nv, ok := a.nodes[id]
		if !ok {
			continue
		}
		b.WriteString(a.renderNodeLine(nv) + "\n")
	}

	switch a.execStatus {
	case "completed":
		b.WriteString("\n" + statusComplete.Render("FINAL ") + truncate(a.finalResult, 300) + "\n")
	case "failed":
		b.WriteString("\n" + statusFailed.Render(a.errorKind+" ") + truncate(a.errorMessage, 300) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("[q] quit"))
	return b.String()
}

func (a *App) renderNodeLine(nv *nodeView) string {
	indent := strings.Repeat("  ", nv.depth)

	icon := statusPending.Render("○")
	switch nv.status {
	case "running":
		icon = a.spinner.View()
	case "completed":
		icon = statusComplete.Render("✓")
	case "failed":
		icon = statusFailed.Render("✗")
	}

	label := nv.nodeType
	if label == "" {
		label = "node"
	}
	line := fmt.Sprintf("%s%s %s", indent, icon, labelStyle.Render(fmt.Sprintf("[%d:%d] %s", nv.depth, nv.sequence, label)))

	preview := nv.outputPreview
	if preview == "" {
		preview = nv.promptPreview
	}
	if preview != "" {
		line += "  " + dimStyle.Render(truncate(oneLine(preview), 70))
	}
	if nv.status == "failed" {
		line += "  " + statusFailed.Render(nv.errorKind+": "+truncate(oneLine(nv.errorMessage), 50))
	}
	return line
}

func (a *App) renderExecStatus() string {
	switch a.execStatus {
	case "running":
		return a.spinner.View() + " " + statusRunning.Render("running")
	case "completed":
		return statusComplete.Render("✓ completed")
	case "failed":
		return statusFailed.Render("✗ failed")
	default:
		return a.execStatus
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusPending  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)
