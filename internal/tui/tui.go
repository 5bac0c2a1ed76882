// Package tui provides the live task board using Bubble Tea.
package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/prism/atelier/internal/engine"
	"github.com/prism/atelier/internal/logging"
	"github.com/prism/atelier/internal/task"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	queuedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// View represents the current view mode
type View int

const (
	ViewBoard View = iota
	ViewHelp
)

// Model is the task board model
type Model struct {
	eng *engine.Engine

	view        View
	tasks       []*task.Task
	stats       engine.Stats
	selectedIdx int
	err         error
	ready       bool
	quitting    bool

	spinner spinner.Model
	width   int
	height  int
}

// Message types
type tasksMsg struct {
	tasks []*task.Task
	stats engine.Stats
}
type errMsg error
type tickMsg time.Time

// New creates a board over a running engine.
func New(eng *engine.Engine) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		eng:     eng,
		view:    ViewBoard,
		spinner: s,
	}
}

// Init initializes the board
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.fetchTasks,
		tickCmd(),
	)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.view != ViewBoard {
				m.view = ViewBoard
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		case "?":
			if m.view == ViewBoard {
				m.view = ViewHelp
			} else {
				m.view = ViewBoard
			}
			return m, nil
		case "up", "k":
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		case "down", "j":
			if m.selectedIdx < len(m.tasks)-1 {
				m.selectedIdx++
			}
		case "x":
			if m.selectedIdx < len(m.tasks) {
				id := m.tasks[m.selectedIdx].ID
				return m, m.cancelTask(id)
			}
		case "p":
			return m, m.pruneTasks
		case "r":
			return m, m.fetchTasks
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case tasksMsg:
		m.tasks = msg.tasks
		m.stats = msg.stats
		if m.selectedIdx >= len(m.tasks) && len(m.tasks) > 0 {
			m.selectedIdx = len(m.tasks) - 1
		}

	case errMsg:
		m.err = msg

	case tickMsg:
		cmds = append(cmds, m.fetchTasks, tickCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the board
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if !m.ready {
		return fmt.Sprintf("\n  %s Loading...", m.spinner.View())
	}

	if m.view == ViewHelp {
		return m.viewHelp()
	}
	return m.viewBoard()
}

func (m Model) viewBoard() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("◆ Atelier Task Board") + "\n\n")

	status := fmt.Sprintf("image %d/%d queued │ video %d/%d queued │ live %d",
		m.stats.ImageActive, m.stats.ImageWaiting,
		m.stats.VideoActive, m.stats.VideoWaiting,
		m.stats.LiveTasks,
	)
	b.WriteString(infoStyle.Render("  "+status) + "\n\n")

	var rows strings.Builder
	if len(m.tasks) == 0 {
		rows.WriteString(infoStyle.Render("no tasks"))
	}
	for i, t := range m.tasks {
		cursor := "  "
		if i == m.selectedIdx {
			cursor = "▶ "
		}
		rows.WriteString(cursor + m.renderTask(t) + "\n")
	}
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	b.WriteString(boxStyle.Width(width).Render(rows.String()) + "\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("  "+m.err.Error()) + "\n")
	}

	b.WriteString(helpStyle.Render("  j/k: navigate │ x: cancel │ p: prune │ r: refresh │ ?: help │ q: quit"))
	return b.String()
}

func (m Model) renderTask(t *task.Task) string {
	var badge string
	switch t.Status {
	case task.StatusGenerating:
		badge = activeStyle.Render(m.spinner.View() + " generating")
	case task.StatusQueued:
		badge = queuedStyle.Render("● queued")
	case task.StatusCompleted:
		badge = activeStyle.Render("✓ completed")
	case task.StatusFailed:
		badge = errorStyle.Render("✗ failed")
	}

	prompt := ""
	if p, ok := t.Request["prompt"].(string); ok {
		prompt = truncate(p, 40)
	}

	line := fmt.Sprintf("%-26s %-5s %-24s %s", t.ID, t.ResourceClass, badge, prompt)
	if t.Status == task.StatusFailed && t.ErrorDetail != "" {
		line += "\n    " + errorStyle.Render(truncate(t.ErrorDetail, 70))
	}
	return line
}

func (m Model) viewHelp() string {
	help := `
  ◆ Atelier Task Board - Help

  NAVIGATION
    j/k       Navigate up/down
    r         Refresh now
    ?         Toggle help
    q         Quit

  TASKS
    x         Cancel the selected task (live tasks only)
    p         Prune completed and failed tasks

  COMMANDS
    atelier generate   Submit a one-off generation
    atelier chat       Converse with the planning agent
    atelier tasks      Inspect the ledger from the shell
`
	return titleStyle.Render("Help") + "\n" + infoStyle.Render(help) + helpStyle.Render("\n  press q to return")
}

// Commands

func (m Model) fetchTasks() tea.Msg {
	tasks, err := m.eng.Tasks(context.Background())
	if err != nil {
		return errMsg(err)
	}
	return tasksMsg{tasks: tasks, stats: m.eng.QueueStats()}
}

func (m Model) cancelTask(id string) tea.Cmd {
	return func() tea.Msg {
		if err := m.eng.Cancel(id); err != nil {
			return errMsg(err)
		}
		return m.fetchTasks()
	}
}

func (m Model) pruneTasks() tea.Msg {
	if _, err := m.eng.Prune(context.Background()); err != nil {
		return errMsg(err)
	}
	return m.fetchTasks()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// Run takes over the terminal with the board until the user quits.
// Log output is silenced while the program owns the screen.
func Run(eng *engine.Engine) error {
	logging.SetOutput(io.Discard)
	defer logging.SetOutput(os.Stderr)

	p := tea.NewProgram(New(eng), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
