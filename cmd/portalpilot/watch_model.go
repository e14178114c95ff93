package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"portalpilot/internal/api"
)

const watchRefreshInterval = time.Second

// Consecutive status failures tolerated before the view gives up.
const watchMaxStatusFailures = 5

var (
	watchTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	watchOKStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	watchWarnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	watchRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	watchPanelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	watchLabelStyle   = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("#A0AEC0"))
)

type watchKeyMap struct {
	Start   key.Binding
	Pause   key.Binding
	Resume  key.Binding
	Skip    key.Binding
	Confirm key.Binding
	Decline key.Binding
	Stop    key.Binding
	Quit    key.Binding
}

func newWatchKeyMap() watchKeyMap {
	return watchKeyMap{
		Start:   key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "start")),
		Pause:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
		Resume:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume")),
		Skip:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "skip item")),
		Confirm: key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "confirm")),
		Decline: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "decline")),
		Stop:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop run")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Pause, k.Resume, k.Skip, k.Confirm, k.Decline, k.Stop, k.Quit}
}

func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Start, k.Stop, k.Pause, k.Resume},
		{k.Skip, k.Confirm, k.Decline, k.Quit},
	}
}

type watchModel struct {
	backend watchBackend
	keys    watchKeyMap
	help    help.Model
	spinner spinner.Model

	status        api.DaemonStatus
	loaded        bool
	failures      int
	lastErr       error
	statusMessage string
	pending       string
	width         int

	fatalErr error
}

type watchStatusMsg struct {
	status api.DaemonStatus
	err    error
}

type watchControlMsg struct {
	action  string
	message string
	engine  api.EngineStatus
	err     error
}

type watchTickMsg struct{}

func newWatchModel(backend watchBackend) watchModel {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = watchRunningStyle
	return watchModel{
		backend: backend,
		keys:    newWatchKeyMap(),
		help:    help.New(),
		spinner: spin,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetchStatus(), m.spinner.Tick)
}

func (m watchModel) fetchStatus() tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		status, err := backend.Status()
		return watchStatusMsg{status: status, err: err}
	}
}

func (m watchModel) sendControl(action string, approved bool) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		resp, err := backend.Control(action, approved)
		return watchControlMsg{action: action, message: resp.Message, engine: resp.Engine, err: err}
	}
}

func scheduleWatchRefresh() tea.Cmd {
	return tea.Tick(watchRefreshInterval, func(time.Time) tea.Msg {
		return watchTickMsg{}
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil
	case watchStatusMsg:
		if msg.err != nil {
			m.failures++
			m.lastErr = msg.err
			if m.failures >= watchMaxStatusFailures {
				m.fatalErr = fmt.Errorf("daemon status unavailable: %w", msg.err)
				return m, tea.Quit
			}
			return m, scheduleWatchRefresh()
		}
		m.failures = 0
		m.lastErr = nil
		m.loaded = true
		m.status = msg.status
		return m, scheduleWatchRefresh()
	case watchControlMsg:
		m.pending = ""
		switch {
		case msg.err != nil:
			m.statusMessage = "error: " + msg.err.Error()
		case msg.message != "":
			m.statusMessage = msg.message
		default:
			m.statusMessage = msg.action + " sent"
		}
		if msg.err == nil {
			m.status.Engine = msg.engine
		}
		return m, nil
	case watchTickMsg:
		return m, m.fetchStatus()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m watchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	if m.pending != "" {
		return m, nil
	}
	engine := m.status.Engine
	var (
		action   string
		approved bool
	)
	switch {
	case key.Matches(msg, m.keys.Start):
		action = "start"
	case key.Matches(msg, m.keys.Stop):
		action = "stop"
	case key.Matches(msg, m.keys.Pause):
		action = "pause"
	case key.Matches(msg, m.keys.Resume):
		action = "resume"
	case key.Matches(msg, m.keys.Skip):
		action = "skip"
	case key.Matches(msg, m.keys.Confirm), key.Matches(msg, m.keys.Decline):
		if engine.WaitingForConfirmation == "" {
			m.statusMessage = "nothing is awaiting confirmation"
			return m, nil
		}
		action = "confirm"
		approved = key.Matches(msg, m.keys.Confirm)
	default:
		return m, nil
	}
	m.pending = action
	m.statusMessage = action + "..."
	return m, m.sendControl(action, approved)
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("portalpilot"))
	if m.status.PID > 0 {
		b.WriteString(watchMutedStyle.Render(fmt.Sprintf("  pid %d", m.status.PID)))
	}
	b.WriteString("\n\n")

	if !m.loaded {
		b.WriteString(m.spinner.View() + " connecting to daemon\n")
		if m.lastErr != nil {
			b.WriteString(watchErrorStyle.Render(m.lastErr.Error()) + "\n")
		}
		return b.String()
	}

	b.WriteString(watchPanelStyle.Render(m.renderEngine()))
	b.WriteString("\n")
	b.WriteString(watchPanelStyle.Render(m.renderQueue()))
	b.WriteString("\n")

	if m.lastErr != nil {
		b.WriteString(watchErrorStyle.Render("status: "+m.lastErr.Error()) + "\n")
	}
	if m.statusMessage != "" {
		style := watchMutedStyle
		if strings.HasPrefix(m.statusMessage, "error:") {
			style = watchErrorStyle
		}
		b.WriteString(style.Render(m.statusMessage) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m watchModel) renderEngine() string {
	engine := m.status.Engine
	rows := []string{watchRow("Engine", m.renderState(engine))}
	if engine.CurrentStep > 0 {
		rows = append(rows, watchRow("Step", fmt.Sprintf("%d/%d %s", engine.CurrentStep, engine.TotalSteps, engine.CurrentStepLabel)))
	}
	if engine.CurrentItem != nil {
		rows = append(rows, watchRow("Item", truncate(engine.CurrentItem.Title, 60)))
	}
	if engine.WaitingForConfirmation != "" {
		prompt := engine.WaitingForConfirmation
		if engine.ConfirmationMessage != "" {
			prompt += ": " + engine.ConfirmationMessage
		}
		rows = append(rows, watchRow("Awaiting", watchWarnStyle.Render(prompt+" [y/n]")))
	}
	p := engine.Progress
	rows = append(rows, watchRow("Progress", fmt.Sprintf("%d done, %d failed, %d pending of %d", p.Processed, p.Failed, p.Pending, p.Total)))
	if engine.StartTime != "" {
		rows = append(rows, watchRow("Started", relativeTime(engine.StartTime)))
	}
	if engine.LastError != "" {
		rows = append(rows, watchRow("Last error", watchErrorStyle.Render(truncate(engine.LastError, 80))))
	}
	return strings.Join(rows, "\n")
}

func (m watchModel) renderState(engine api.EngineStatus) string {
	switch {
	case engine.WaitingForConfirmation != "":
		return watchWarnStyle.Render(engine.Status)
	case engine.IsPaused:
		return watchWarnStyle.Render(engine.Status)
	case engine.IsRunning:
		return m.spinner.View() + " " + watchRunningStyle.Render(engine.Status)
	case engine.LastError != "":
		return watchErrorStyle.Render(engine.Status)
	default:
		return watchOKStyle.Render(engine.Status)
	}
}

func (m watchModel) renderQueue() string {
	stats := m.status.Queue
	rows := []string{
		watchRow("Queue", fmt.Sprintf("%d items, %d remaining", stats.Total, stats.Remaining())),
		watchRow("Completed", fmt.Sprintf("%d", stats.Completed)),
		watchRow("Failed", fmt.Sprintf("%d", stats.Failed)),
	}
	if stats.Skipped > 0 {
		rows = append(rows, watchRow("Skipped", fmt.Sprintf("%d", stats.Skipped)))
	}
	return strings.Join(rows, "\n")
}

func watchRow(label, value string) string {
	return watchLabelStyle.Render(label) + value
}
