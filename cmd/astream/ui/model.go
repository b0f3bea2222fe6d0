package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"agentstream/internal/batch"
)

// Controls are the actions the view can trigger on the orchestrator. Both
// callbacks must be non-blocking.
type Controls struct {
	Retry func(subID string)
	Quit  func()
}

// Messages delivered from the Events bridge.
type (
	unitMsg     batch.Unit
	progressMsg ProgressUpdate
	runDoneMsg  struct{ err error }
)

// Model is the bubbletea model for the batch card view.
type Model struct {
	styles   Styles
	events   *Events
	ctrl     Controls
	spinner  spinner.Model
	progress progress.Model

	order []string              // subID display order
	units map[string]batch.Unit // latest snapshot per unit

	completed int
	total     int
	selected  int
	finished  bool
	runErr    error
	width     int
}

// NewModel builds the view over the given sub-requests.
func NewModel(reqs []batch.Request, events *Events, ctrl Controls) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorInfo)

	order := make([]string, len(reqs))
	units := make(map[string]batch.Unit, len(reqs))
	for i, r := range reqs {
		order[i] = r.SubID
		units[r.SubID] = batch.Unit{SubID: r.SubID, Question: r.Question, State: batch.UnitQueued}
	}

	return Model{
		styles:   DefaultStyles(),
		events:   events,
		ctrl:     ctrl,
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient()),
		order:    order,
		units:    units,
		total:    len(reqs),
		width:    80,
	}
}

// Init starts the spinner and the event listeners.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenUnits(),
		m.listenProgress(),
		m.listenDone(),
	)
}

func (m Model) listenUnits() tea.Cmd {
	return func() tea.Msg { return unitMsg(<-m.events.units) }
}

func (m Model) listenProgress() tea.Cmd {
	return func() tea.Msg { return progressMsg(<-m.events.progress) }
}

func (m Model) listenDone() tea.Cmd {
	return func() tea.Msg { return runDoneMsg{err: <-m.events.done} }
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.ctrl.Quit != nil {
				m.ctrl.Quit()
			}
			return m, tea.Quit

		case "k", "up":
			if m.selected > 0 {
				m.selected--
			}
		case "j", "down":
			if m.selected < len(m.order)-1 {
				m.selected++
			}

		case "r":
			u, ok := m.units[m.order[m.selected]]
			if ok && u.State == batch.UnitError && m.ctrl.Retry != nil {
				m.ctrl.Retry(u.SubID)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 6

	case unitMsg:
		m.units[msg.SubID] = batch.Unit(msg)
		return m, m.listenUnits()

	case progressMsg:
		m.completed = msg.Completed
		m.total = msg.Total
		return m, m.listenProgress()

	case runDoneMsg:
		m.finished = true
		m.runErr = msg.err
		if !m.anyFailed() {
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the card list with aggregate progress.
func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(m.styles.Header.Render(fmt.Sprintf("Batch: %d units", m.total)) + "\n\n")

	for i, subID := range m.order {
		u := m.units[subID]
		sb.WriteString(m.renderCard(u, i == m.selected) + "\n")
	}

	sb.WriteString("\n")
	if m.total > 0 {
		sb.WriteString(m.progress.ViewAs(float64(m.completed)/float64(m.total)) + "\n")
	}
	sb.WriteString(m.styles.Muted.Render(fmt.Sprintf("%d/%d completed", m.completed, m.total)) + "\n")

	if m.finished && m.anyFailed() {
		sb.WriteString(m.styles.Warning.Render("Some units failed.") + "\n")
	}
	sb.WriteString(m.styles.Help.Render("↑/↓ select · r retry failed · q quit"))
	sb.WriteString("\n")

	return sb.String()
}

// renderCard renders one unit line with its status glyph.
func (m Model) renderCard(u batch.Unit, selected bool) string {
	var glyph, status string
	switch u.State {
	case batch.UnitQueued:
		glyph = m.styles.Muted.Render("○")
		status = m.styles.Muted.Render("queued")
	case batch.UnitPending:
		glyph = m.styles.Info.Render("◌")
		status = m.styles.Info.Render("pending")
	case batch.UnitProcessing:
		glyph = m.spinner.View()
		status = m.styles.Info.Render("processing")
	case batch.UnitCompleted:
		glyph = m.styles.Success.Render("✓")
		status = m.styles.Success.Render("completed")
	case batch.UnitError:
		glyph = m.styles.Error.Render("✗")
		status = m.styles.Error.Render(u.ErrorMessage)
	}

	question := truncate(u.Question, 48)
	line := fmt.Sprintf("%s %s  %s  %s", glyph, m.styles.Bold.Render(u.SubID), question, status)

	if u.State == batch.UnitProcessing && u.Content != "" {
		line += "\n" + m.styles.Muted.Render(truncate(lastLine(u.Content), m.width-8))
	}

	if selected {
		return m.styles.Selected.Width(m.width - 4).Render(line)
	}
	return m.styles.Card.Width(m.width - 4).Render(line)
}

func (m Model) anyFailed() bool {
	for _, u := range m.units {
		if u.State == batch.UnitError {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if n <= 3 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
