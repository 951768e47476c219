package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// tailBacklog bounds the scrollback kept in memory.
const tailBacklog = 512

// TailConfig holds progress-tail runtime config.
type TailConfig struct {
	Gateway string
	Session string
}

// RunTail opens the live progress view against a running gateway.
func RunTail(cfg TailConfig) error {
	client := NewClient(cfg.Gateway)
	m := newTailModel(client.ProgressWSURL(cfg.Session), cfg.Session)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type wsConnectedMsg struct{ conn *websocket.Conn }

type wsEventMsg struct{ event entity.ProgressEvent }

type wsClosedMsg struct{ err error }

type tailModel struct {
	url     string
	session string

	conn   *websocket.Conn
	events chan tea.Msg

	spinner  spinner.Model
	viewport viewport.Model
	ready    bool

	lines []string
	count int
	err   string
}

func newTailModel(url, session string) tailModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorCyan)
	return tailModel{
		url:     url,
		session: session,
		events:  make(chan tea.Msg, 64),
		spinner: sp,
	}
}

func (m tailModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, connectCmd(m.url, m.events))
}

// connectCmd dials the hub and starts the reader goroutine; frames reach
// the program as messages through the events channel.
func connectCmd(url string, events chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return wsClosedMsg{err: err}
		}
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					events <- wsClosedMsg{err: err}
					return
				}
				var ev entity.ProgressEvent
				if json.Unmarshal(data, &ev) != nil {
					continue
				}
				events <- wsEventMsg{event: ev}
			}
		}()
		return wsConnectedMsg{conn: conn}
	}
}

func waitForEvent(events chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-events }
}

func (m tailModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.conn != nil {
				m.conn.Close()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		headerHeight := 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight
		}
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		return m, nil

	case wsConnectedMsg:
		m.conn = msg.conn
		return m, waitForEvent(m.events)

	case wsEventMsg:
		m.count++
		m.lines = append(m.lines, renderProgressLine(&msg.event))
		if len(m.lines) > tailBacklog {
			m.lines = m.lines[len(m.lines)-tailBacklog:]
		}
		atBottom := m.viewport.AtBottom()
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		if atBottom {
			m.viewport.GotoBottom()
		}
		return m, waitForEvent(m.events)

	case wsClosedMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m tailModel) View() string {
	title := lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render("◇ modelgate progress")
	dim := lipgloss.NewStyle().Foreground(colorGray)

	scope := "all sessions"
	if m.session != "" {
		scope = "session " + m.session
	}

	var status string
	switch {
	case m.err != "":
		status = lipgloss.NewStyle().Foreground(colorRed).Render("✗ " + m.err)
	case m.conn == nil:
		status = m.spinner.View() + " connecting..."
	default:
		status = dim.Render(fmt.Sprintf("%s · %d event(s) · q to quit", scope, m.count))
	}

	header := title + "  " + status + "\n"
	if !m.ready {
		return header
	}
	return header + m.viewport.View()
}

var progressStyles = map[entity.ProgressEventType]lipgloss.Style{
	entity.ProgressLoopStarted:    lipgloss.NewStyle().Foreground(colorGreen).Bold(true),
	entity.ProgressStepStarted:    lipgloss.NewStyle().Foreground(colorDimCyan),
	entity.ProgressModelStarted:   lipgloss.NewStyle().Foreground(colorCyan),
	entity.ProgressModelCompleted: lipgloss.NewStyle().Foreground(colorCyan),
	entity.ProgressToolStarted:    lipgloss.NewStyle().Foreground(colorYellow),
	entity.ProgressToolCompleted:  lipgloss.NewStyle().Foreground(colorYellow),
	entity.ProgressLoopCompleted:  lipgloss.NewStyle().Foreground(colorGreen),
	entity.ProgressError:          lipgloss.NewStyle().Foreground(colorRed).Bold(true),
}

func renderProgressLine(ev *entity.ProgressEvent) string {
	dim := lipgloss.NewStyle().Foreground(colorDim)

	var detail string
	switch ev.Type {
	case entity.ProgressLoopStarted, entity.ProgressModelStarted, entity.ProgressModelCompleted:
		detail = ev.Provider + "/" + ev.Model
		if ev.DurationMs > 0 {
			detail += fmt.Sprintf(" %dms", ev.DurationMs)
		}
	case entity.ProgressStepStarted:
		detail = fmt.Sprintf("step %d", ev.Step)
	case entity.ProgressToolStarted:
		detail = ev.ToolName
		if ev.RequestPreview != "" {
			detail += " " + truncate(ev.RequestPreview, 80)
		}
	case entity.ProgressToolCompleted:
		detail = ev.ToolName
		if ev.DurationMs > 0 {
			detail += fmt.Sprintf(" %dms", ev.DurationMs)
		}
		if ev.ResultPreview != "" {
			detail += " → " + truncate(ev.ResultPreview, 80)
		}
	case entity.ProgressLoopCompleted:
		detail = ev.TerminationReason
		if ev.Step > 0 {
			detail += fmt.Sprintf(" after %d step(s)", ev.Step)
		}
	case entity.ProgressError:
		detail = ev.Error
	}

	style, styled := progressStyles[ev.Type]
	label := string(ev.Type)
	if styled {
		label = style.Render(label)
	}

	return fmt.Sprintf("%s %s %s %s",
		dim.Render(ev.Timestamp.Format("15:04:05.000")),
		dim.Render(shortID(ev.SessionID)),
		label,
		detail,
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
