// Package tui renders the queue and forwards user intents into the
// state machine. It is a pure presentation adapter: all queue
// semantics live behind the Controller interface.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/v2/spinner"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"github.com/promptpilot/promptpilot/internal/queue"
	"github.com/promptpilot/promptpilot/internal/templates"
)

// Controller is the queue surface the adapter is allowed to touch.
type Controller interface {
	Enqueue(text string)
	RemoveAt(i int)
	Retry()
	Clear()
	State() string
	Items() []string
	LastFailure() *queue.Failure
	Subscribe(types ...queue.EventType) <-chan queue.Event
	Unsubscribe(ch <-chan queue.Event)
}

// Enhancer rewrites a draft prompt; optional.
type Enhancer interface {
	Enhance(ctx context.Context, draft string) (string, error)
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212"))

	erroredStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type queueEventMsg queue.Event

type enhanceResultMsg struct {
	text string
	err  error
}

// Model is the Bubble Tea model for the queue UI.
type Model struct {
	ctrl      Controller
	enhancer  Enhancer
	templates *templates.Store

	eventSub <-chan queue.Event

	items    []string
	state    string
	failure  *queue.Failure
	input    string
	selected int
	tmplIdx  int
	status   string
	spin     spinner.Model
	width    int
	height   int

	enhancing bool
}

func NewModel(ctrl Controller, enhancer Enhancer, tmpl *templates.Store) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle

	return &Model{
		ctrl:      ctrl,
		enhancer:  enhancer,
		templates: tmpl,
		eventSub:  ctrl.Subscribe(),
		items:     ctrl.Items(),
		state:     ctrl.State(),
		spin:      s,
		status:    "Ready",
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.listenForEvents(), m.spin.Tick)
}

// listenForEvents bridges the queue's event broker into the Bubble Tea
// message loop, one event per command.
func (m *Model) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.eventSub
		if !ok {
			return nil
		}
		return queueEventMsg(ev)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case queueEventMsg:
		switch msg.Type {
		case queue.QueueChanged:
			m.items = msg.Items
			if m.selected >= len(m.items) {
				m.selected = len(m.items) - 1
			}
			if m.selected < 0 {
				m.selected = 0
			}
		case queue.StateChanged:
			m.state = msg.State
			m.failure = msg.Failure
			switch msg.State {
			case queue.StateRunning:
				m.status = "Submitting..."
			case queue.StateErrored:
				m.status = "Failed — ctrl+r to retry, ctrl+d to skip"
			default:
				m.status = "Ready"
			}
		}
		return m, m.listenForEvents()

	case enhanceResultMsg:
		m.enhancing = false
		if msg.err != nil {
			m.status = "Enhance failed: " + msg.err.Error()
		} else {
			m.input = msg.text
			m.status = "Prompt enhanced"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		text := strings.TrimSpace(m.input)
		if text == "" {
			return m, nil
		}
		m.ctrl.Enqueue(text)
		m.input = ""
		return m, nil

	case "backspace":
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil

	case "up":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case "down":
		if m.selected < len(m.items)-1 {
			m.selected++
		}
		return m, nil

	case "ctrl+d":
		if len(m.items) > 0 {
			m.ctrl.RemoveAt(m.selected)
		}
		return m, nil

	case "ctrl+r":
		m.ctrl.Retry()
		return m, nil

	case "ctrl+x":
		m.ctrl.Clear()
		return m, nil

	case "ctrl+t":
		return m.insertTemplate()

	case "ctrl+e":
		return m.enhanceInput()

	default:
		// Regular character input, loco-style minimal line editor.
		s := msg.String()
		if len(s) == 1 && s[0] >= 32 && s[0] < 127 {
			m.input += s
		} else if s == "space" {
			m.input += " "
		}
		return m, nil
	}
}

// insertTemplate cycles through the template library into the input.
func (m *Model) insertTemplate() (tea.Model, tea.Cmd) {
	if m.templates == nil {
		return m, nil
	}
	list := m.templates.List()
	if len(list) == 0 {
		m.status = "Template library is empty"
		return m, nil
	}
	t := list[m.tmplIdx%len(list)]
	m.tmplIdx++
	m.input = t.Body
	m.status = "Template: " + t.Name
	return m, nil
}

func (m *Model) enhanceInput() (tea.Model, tea.Cmd) {
	if m.enhancer == nil {
		m.status = "Enhance unavailable (no OPENAI_API_KEY)"
		return m, nil
	}
	draft := strings.TrimSpace(m.input)
	if draft == "" || m.enhancing {
		return m, nil
	}
	m.enhancing = true
	m.status = "Enhancing..."
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		out, err := m.enhancer.Enhance(ctx, draft)
		return enhanceResultMsg{text: out, err: err}
	}
}

func (m *Model) View() tea.View {
	var b strings.Builder

	b.WriteString(titleStyle.Render("PromptPilot — prompt queue"))
	b.WriteString("\n\n")

	switch m.state {
	case queue.StateRunning:
		b.WriteString(m.spin.View() + runningStyle.Render(" running"))
	case queue.StateErrored:
		b.WriteString(erroredStyle.Render("✖ errored"))
		if m.failure != nil {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  %v", m.failure.Err)))
		}
	default:
		b.WriteString(dimStyle.Render("· idle"))
	}
	b.WriteString("\n\n")

	if len(m.items) == 0 {
		b.WriteString(dimStyle.Render("(queue is empty)"))
		b.WriteString("\n")
	}
	for i, item := range m.items {
		marker := "  "
		if i == 0 && m.state == queue.StateRunning {
			marker = "▶ "
		}
		if i == 0 && m.state == queue.StateErrored {
			marker = "✖ "
		}
		line := fmt.Sprintf("%s%d. %s", marker, i+1, truncate(item, m.width-8))
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n> " + m.input + "█\n")
	b.WriteString(dimStyle.Render(m.status) + "\n\n")
	b.WriteString(dimStyle.Render(
		"enter enqueue · ctrl+e enhance · ctrl+t template · ↑/↓ select · " +
			"ctrl+d remove · ctrl+r retry · ctrl+x clear · ctrl+c quit"))

	return tea.NewView(b.String())
}

func truncate(s string, max int) string {
	if max < 8 {
		max = 80
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
