// Package tui implements the interactive chat terminal for a bridge session.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/clawlink/clawlink/internal/bridge"
	"github.com/clawlink/clawlink/internal/bridge/message"
)

type pageType int

const (
	pageHome    pageType = iota
	pageSession
)

// Options configures the chat terminal.
type Options struct {
	Bridge  *bridge.Bridge
	Version string
	Prompt  string // optional first prompt sent right after the session starts
}

type chatLine struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// bridgeMsg carries one normalized bridge message into the update loop.
type bridgeMsg struct {
	msg message.Message
}

type sessionStartedMsg struct {
	Key string
	Err error
}

type promptSentMsg struct {
	Err error
}

// Model holds the terminal state.
type Model struct {
	opts   Options
	bridge *bridge.Bridge

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	lines []chatLine

	sessionKey string
	width      int
	height     int
	ready      bool

	page          pageType
	pending       bool
	streaming     bool
	statusLine    string
	lastError     string
	messageQueue  []string
	interrupt     int
	pendingPermID string
	permPrompt    string
	turnStarted   time.Time
	lastTurn      time.Duration
}

// NewModel creates the terminal model for an already-constructed bridge.
func NewModel(opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask the agent anything..."
	ta.Focus()
	ta.CharLimit = 10000
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.Prompt = ""

	vp := viewport.New(80, 20)
	vp.SetContent("")

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#f97316"))

	return Model{
		opts:         opts,
		bridge:       opts.Bridge,
		textarea:     ta,
		viewport:     vp,
		spinner:      sp,
		page:         pageHome,
		statusLine:   "connecting",
		messageQueue: make([]string, 0),
	}
}

// Init connects the bridge and starts the session.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, startSessionCmd(m.bridge, m.opts.Prompt))
}

// Update handles one incoming message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resize()
		return m, nil

	case sessionStartedMsg:
		if msg.Err != nil {
			m.lastError = msg.Err.Error()
			m.statusLine = "failed"
			m.appendLine("system", "Connect failed: "+msg.Err.Error())
			m.page = pageSession
			m.updateViewport()
			return m, nil
		}
		m.sessionKey = msg.Key
		m.statusLine = "idle"
		if m.opts.Prompt != "" {
			m.page = pageSession
			m.pending = true
			m.turnStarted = time.Now()
			m.appendLine("user", m.opts.Prompt)
			m.updateViewport()
		}
		return m, nil

	case promptSentMsg:
		if msg.Err != nil {
			m.pending = false
			m.lastError = msg.Err.Error()
			m.appendLine("system", "Error: "+msg.Err.Error())
			m.updateViewport()
		}
		return m, nil

	case bridgeMsg:
		return m.handleBridgeMessage(msg.msg)

	case spinner.TickMsg:
		if m.pending {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit

		case tea.KeyEsc:
			if m.pendingPermID != "" {
				return m.resolvePermission(false)
			}
			if m.pending {
				m.interrupt++
				if m.interrupt >= 2 {
					m.interrupt = 0
					return m, cancelCmd(m.bridge)
				}
				return m, nil
			}
			return m, tea.Quit

		case tea.KeyEnter:
			text := strings.TrimSpace(m.textarea.Value())
			if m.pendingPermID != "" {
				switch strings.ToLower(text) {
				case "y", "yes":
					m.textarea.Reset()
					return m.resolvePermission(true)
				case "n", "no", "":
					m.textarea.Reset()
					return m.resolvePermission(false)
				}
				return m, nil
			}
			if text == "" {
				return m, nil
			}
			m.textarea.Reset()
			m.textarea.SetHeight(1)
			m.lastError = ""
			m.interrupt = 0

			if m.page == pageHome {
				m.page = pageSession
			}

			if strings.HasPrefix(text, "/") {
				cmdName, args := parseCommand(text)
				if cmd := findCommand(cmdName); cmd != nil {
					result, err := cmd.Handler(&m, args)
					if err != nil {
						m.appendLine("system", "Error: "+err.Error())
					} else if result == resultQuit {
						return m, tea.Quit
					} else if result == resultCancel {
						m.updateViewport()
						return m, cancelCmd(m.bridge)
					} else if result != "" {
						m.appendLine("system", result)
					}
					m.updateViewport()
					return m, nil
				}
				m.appendLine("system", "Unknown command: "+cmdName)
				m.updateViewport()
				return m, nil
			}

			if m.pending {
				m.messageQueue = append(m.messageQueue, text)
				return m, nil
			}

			m.pending = true
			m.turnStarted = time.Now()
			m.appendLine("user", text)
			m.updateViewport()
			cmds = append(cmds, sendPromptCmd(m.bridge, text))
			cmds = append(cmds, m.spinner.Tick)
			return m, tea.Batch(cmds...)
		}
	}

	var tiCmd tea.Cmd
	m.textarea, tiCmd = m.textarea.Update(msg)
	cmds = append(cmds, tiCmd)

	if m.page == pageSession {
		var vpCmd tea.Cmd
		m.viewport, vpCmd = m.viewport.Update(msg)
		cmds = append(cmds, vpCmd)
	}

	return m, tea.Batch(cmds...)
}

// handleBridgeMessage folds a normalized bridge message into the chat view.
func (m Model) handleBridgeMessage(msg message.Message) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case message.TypeModelOutput:
		if m.streaming && len(m.lines) > 0 && m.lines[len(m.lines)-1].Role == "assistant" {
			m.lines[len(m.lines)-1].Content = msg.FullText
		} else {
			m.streaming = true
			m.appendLine("assistant", msg.FullText)
		}
		m.updateViewport()
		return m, nil

	case message.TypeToolCall:
		m.appendLine("tool", "→ "+msg.ToolName)
		m.streaming = false
		m.updateViewport()
		return m, nil

	case message.TypeToolResult:
		return m, nil

	case message.TypePermissionRequest:
		m.pendingPermID = msg.ID
		m.permPrompt = msg.Reason
		m.appendLine("system", "Permission requested: "+msg.Reason+"  [y/n]")
		m.updateViewport()
		return m, nil

	case message.TypeStatus:
		return m.handleStatus(msg)
	}
	return m, nil
}

func (m Model) handleStatus(msg message.Message) (tea.Model, tea.Cmd) {
	m.statusLine = string(msg.Status)
	switch msg.Status {
	case message.StatusRunning:
		m.pending = true
		m.streaming = false
		if m.turnStarted.IsZero() {
			m.turnStarted = time.Now()
		}

	case message.StatusIdle:
		if m.pending && !m.turnStarted.IsZero() {
			m.lastTurn = time.Since(m.turnStarted)
		}
		m.pending = false
		m.streaming = false
		m.turnStarted = time.Time{}
		m.updateViewport()
		if len(m.messageQueue) > 0 {
			next := m.messageQueue[0]
			m.messageQueue = m.messageQueue[1:]
			m.pending = true
			m.turnStarted = time.Now()
			m.appendLine("user", next)
			m.updateViewport()
			return m, tea.Batch(sendPromptCmd(m.bridge, next), m.spinner.Tick)
		}

	case message.StatusError:
		m.pending = false
		m.streaming = false
		m.lastError = msg.Detail
		m.appendLine("system", "Error: "+msg.Detail)
		m.updateViewport()

	case message.StatusStopped:
		m.pending = false
		m.streaming = false
		m.appendLine("system", "Disconnected: "+msg.Detail)
		m.updateViewport()

	case message.StatusStarting:
		if msg.Detail != "" {
			m.appendLine("system", msg.Detail)
			m.updateViewport()
		}
	}
	return m, nil
}

func (m Model) resolvePermission(approved bool) (tea.Model, tea.Cmd) {
	id := m.pendingPermID
	m.pendingPermID = ""
	m.permPrompt = ""
	verdict := "denied"
	if approved {
		verdict = "approved"
	}
	m.appendLine("system", "Permission "+verdict+".")
	m.updateViewport()
	return m, respondPermissionCmd(m.bridge, id, approved)
}

// View renders the terminal.
func (m Model) View() string {
	if !m.ready {
		return "\n  Connecting..."
	}

	switch m.page {
	case pageHome:
		return m.renderHomePage()
	case pageSession:
		return m.renderSessionPage()
	default:
		return m.renderHomePage()
	}
}

func (m *Model) renderHomePage() string {
	theme := getTheme()
	var b strings.Builder

	topPadding := (m.height - 12) / 2
	if topPadding < 2 {
		topPadding = 2
	}
	b.WriteString(strings.Repeat("\n", topPadding))

	b.WriteString(renderLogo(m.width))
	b.WriteString("\n")

	inputWidth := min(75, m.width-4)
	padding := (m.width - inputWidth) / 2
	if padding < 0 {
		padding = 0
	}

	leftBorder := lipgloss.NewStyle().Foreground(theme.primary).Render("┃ ")
	b.WriteString(strings.Repeat(" ", padding) + leftBorder + m.textarea.View() + "\n")
	bottomBorder := lipgloss.NewStyle().Foreground(theme.primary).Render("╹")
	b.WriteString(strings.Repeat(" ", padding) + bottomBorder + "\n")

	info := lipgloss.NewStyle().Foreground(theme.textMuted).Render(
		fmt.Sprintf("gateway %s", m.statusLine))
	b.WriteString(strings.Repeat(" ", padding+2) + info + "\n")

	hints := lipgloss.NewStyle().Foreground(theme.textMuted).Render(
		"enter send  /help commands  esc quit")
	b.WriteString(strings.Repeat(" ", padding+2) + hints + "\n")

	currentLines := strings.Count(b.String(), "\n") + 1
	remaining := m.height - currentLines - 2
	if remaining > 0 {
		b.WriteString(strings.Repeat("\n", remaining))
	}

	b.WriteString("\n" + m.renderFooter())
	return b.String()
}

func (m *Model) renderSessionPage() string {
	theme := getTheme()
	var b strings.Builder

	b.WriteString(m.renderSessionHeader())
	b.WriteString("\n")

	chatHeight := m.height - 7
	if chatHeight < 5 {
		chatHeight = 5
	}
	m.viewport.Height = chatHeight
	m.viewport.Width = m.width - 4
	b.WriteString(lipgloss.NewStyle().PaddingLeft(2).Render(m.viewport.View()))
	b.WriteString("\n")

	leftBorder := lipgloss.NewStyle().Foreground(theme.primary).Render("┃ ")
	var inputContent string
	switch {
	case m.pendingPermID != "":
		inputContent = lipgloss.NewStyle().Foreground(theme.warning).Render("approve? y/n ") + m.textarea.View()
	case m.pending:
		inputContent = m.spinner.View() + " "
		if len(m.messageQueue) > 0 {
			inputContent += fmt.Sprintf("(%d queued) ", len(m.messageQueue))
		}
	default:
		inputContent = m.textarea.View()
	}
	b.WriteString("  " + leftBorder + inputContent + "\n")
	bottomBorder := lipgloss.NewStyle().Foreground(theme.primary).Render("╹")
	b.WriteString("  " + bottomBorder + "\n")

	b.WriteString(m.renderSessionFooter())
	return b.String()
}

func (m *Model) renderSessionHeader() string {
	theme := getTheme()

	title := lipgloss.NewStyle().Bold(true).Foreground(theme.text).Render(
		"# " + lastSegment(m.sessionKey))

	rightInfo := m.statusLine
	if m.lastTurn > 0 {
		rightInfo = fmt.Sprintf("%s  %s", m.lastTurn.Round(100*time.Millisecond), m.statusLine)
	}
	right := lipgloss.NewStyle().Foreground(theme.textMuted).Render(rightInfo)

	gap := m.width - lipgloss.Width(title) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}

	leftBorder := lipgloss.NewStyle().Foreground(theme.border).Render("┃")
	return "  " + leftBorder + " " + title + strings.Repeat(" ", gap) + right
}

func (m *Model) renderFooter() string {
	theme := getTheme()

	left := lipgloss.NewStyle().Foreground(theme.textMuted).Render(renderMiniLogo())
	right := lipgloss.NewStyle().Foreground(theme.textMuted).Render(m.opts.Version)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}
	return "  " + left + strings.Repeat(" ", gap) + right
}

func (m *Model) renderSessionFooter() string {
	theme := getTheme()

	var leftParts []string
	if m.pending {
		active := lipgloss.NewStyle().
			Background(theme.primary).
			Foreground(lipgloss.Color("#000000")).
			Padding(0, 1).
			Render("ACTIVE")
		leftParts = append(leftParts, active)

		escHint := "esc "
		if m.interrupt > 0 {
			escHint += lipgloss.NewStyle().Foreground(theme.primary).Render("again to cancel")
		} else {
			escHint += lipgloss.NewStyle().Foreground(theme.textMuted).Render("cancel")
		}
		leftParts = append(leftParts, escHint)
	}
	left := strings.Join(leftParts, " ")

	hints := lipgloss.NewStyle().Foreground(theme.textMuted).Render("/help commands  ctrl+c quit")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(hints) - 4
	if gap < 1 {
		gap = 1
	}
	return "  " + left + strings.Repeat(" ", gap) + hints
}

func (m *Model) resize() {
	m.viewport.Width = m.width - 4
	m.viewport.Height = m.height - 8
	m.textarea.SetWidth(min(70, m.width-10))
}

func (m *Model) appendLine(role, content string) {
	m.lines = append(m.lines, chatLine{
		Role:      role,
		Content:   strings.TrimSpace(content),
		Timestamp: time.Now(),
	})
}

func (m *Model) updateViewport() {
	theme := getTheme()
	var b strings.Builder

	for i, line := range m.lines {
		switch line.Role {
		case "user":
			border := lipgloss.NewStyle().Foreground(theme.primary).Render("┃")
			content := lipgloss.NewStyle().Foreground(theme.text).Render(line.Content)
			b.WriteString(border + " " + content)

		case "assistant":
			label := lipgloss.NewStyle().Foreground(theme.textMuted).Render("▶ agent")
			b.WriteString(label + "\n")
			content := lipgloss.NewStyle().Foreground(theme.text).Width(m.viewport.Width - 2).Render(line.Content)
			b.WriteString(content)

		case "tool":
			content := lipgloss.NewStyle().Foreground(theme.warning).Render(line.Content)
			b.WriteString(content)

		case "system":
			content := lipgloss.NewStyle().Foreground(theme.textMuted).Italic(true).Render(line.Content)
			b.WriteString(content)
		}
		if i < len(m.lines)-1 {
			b.WriteString("\n\n")
		}
	}

	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func startSessionCmd(b *bridge.Bridge, prompt string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		key, err := b.StartSession(ctx, prompt)
		return sessionStartedMsg{Key: key, Err: err}
	}
}

func sendPromptCmd(b *bridge.Bridge, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		defer cancel()
		return promptSentMsg{Err: b.SendPrompt(ctx, b.SessionKey(), text)}
	}
}

func cancelCmd(b *bridge.Bridge) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		b.Cancel(ctx, b.SessionKey())
		return promptSentMsg{}
	}
}

func respondPermissionCmd(b *bridge.Bridge, id string, approved bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return promptSentMsg{Err: b.RespondToPermission(ctx, id, approved)}
	}
}

func lastSegment(s string) string {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) == 0 {
		return s
	}
	return parts[len(parts)-1]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Run starts the chat terminal and pumps bridge messages into it.
func Run(opts Options) error {
	p := tea.NewProgram(
		NewModel(opts),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	handlerID := opts.Bridge.OnMessage(func(msg message.Message) {
		p.Send(bridgeMsg{msg: msg})
	})
	defer opts.Bridge.OffMessage(handlerID)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat terminal: %w", err)
	}
	return nil
}
