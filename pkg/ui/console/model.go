package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mdp/qrterminal/v3"

	"autoreply/pkg/bot"
	"autoreply/pkg/bus"
	"autoreply/pkg/connection"
	"autoreply/pkg/rules"
)

const (
	maxLogLines  = 500
	mouseScrollN = 3
)

// Commands is the controller surface driven by dashboard keys.
type Commands interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	TogglePause(ctx context.Context) (bool, error)
	LoadRules(ctx context.Context) (rules.RuleSet, error)
	Status(ctx context.Context) (bot.Status, error)
}

type logLine struct {
	at    time.Time
	level string
	text  string
}

type busEventMsg struct {
	event bus.Event
}

type eventsClosedMsg struct{}

type statusMsg struct {
	status bot.Status
	err    error
}

type commandResultMsg struct {
	action string
	err    error
}

type model struct {
	ctx      context.Context
	commands Commands
	events   <-chan bus.Event

	theme     theme
	viewport  viewport.Model
	width     int
	height    int
	isReady   bool
	followLog bool

	state     connection.State
	detail    string
	paused    bool
	transport string
	ruleCount int
	qr        string
	logs      []logLine
	lastErr   string
}

func newModel(ctx context.Context, commands Commands, events <-chan bus.Event) *model {
	return &model{
		ctx:       ctx,
		commands:  commands,
		events:    events,
		theme:     defaultTheme(),
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    32,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), fetchStatusCmd(m.ctx, m.commands))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport()
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		return m, m.handleKey(typed)
	case busEventMsg:
		m.applyEvent(typed.event)
		return m, waitForEvent(m.events)
	case eventsClosedMsg:
		m.appendLog("warn", "Notification stream closed")
		return m, nil
	case statusMsg:
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			return m, nil
		}
		m.state = typed.status.State
		m.detail = typed.status.Detail
		m.paused = typed.status.Paused
		m.transport = typed.status.Transport
		m.ruleCount = typed.status.RuleCount
		return m, nil
	case commandResultMsg:
		if typed.err != nil {
			m.lastErr = fmt.Sprintf("%s failed: %v", typed.action, typed.err)
			m.appendLog("error", m.lastErr)
			return m, nil
		}
		m.lastErr = ""
		return m, fetchStatusCmd(m.ctx, m.commands)
	}

	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c", "esc", "q":
		return tea.Quit
	case "s":
		return commandCmd(m.ctx, "start", m.commands.Start)
	case "x":
		return commandCmd(m.ctx, "stop", m.commands.Stop)
	case "p":
		return commandCmd(m.ctx, "pause", func(ctx context.Context) error {
			_, err := m.commands.TogglePause(ctx)
			return err
		})
	case "r":
		return commandCmd(m.ctx, "reload rules", func(ctx context.Context) error {
			_, err := m.commands.LoadRules(ctx)
			return err
		})
	}

	m.handleViewportKey(msg)
	return nil
}

// applyEvent folds one notification into the dashboard state.
func (m *model) applyEvent(event bus.Event) {
	switch event.Type {
	case bus.EventStateChanged:
		if state, err := connection.ParseState(event.State); err == nil {
			m.state = state
		}
		m.detail = event.Detail
		if !m.state.Live() {
			m.paused = false
		}
	case bus.EventQRReady:
		m.qr = renderQR(event.QR)
		m.resizeComponents()
	case bus.EventQRCleared:
		m.qr = ""
		m.resizeComponents()
	case bus.EventPauseChanged:
		m.paused = event.Paused
	case bus.EventRulesChanged:
		m.ruleCount = len(event.Rules)
	case bus.EventRuleSaveResult, bus.EventRuleDeleteResult:
		if event.Success {
			m.ruleCount = len(event.Rules)
		}
	case bus.EventLogLine:
		m.appendLogAt(event.At, event.Level, event.Text)
	}
}

func (m *model) appendLog(level string, text string) {
	m.appendLogAt(time.Now(), level, text)
}

func (m *model) appendLogAt(at time.Time, level string, text string) {
	if at.IsZero() {
		at = time.Now()
	}

	m.logs = append(m.logs, logLine{at: at, level: level, text: text})
	if overflow := len(m.logs) - maxLogLines; overflow > 0 {
		m.logs = append(m.logs[:0], m.logs[overflow:]...)
	}
	m.refreshViewport()
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport()
	}

	header := m.theme.header.Width(m.width - 2).Render("Auto-reply Console")

	stateLabel := m.theme.stateStyle(m.state).Render(m.state.String())
	if m.detail != "" {
		stateLabel += m.theme.hint.Render(" (" + m.detail + ")")
	}
	meta := m.theme.headerMeta.Render(fmt.Sprintf("transport:%s · rules:%d · state:", displayOrNA(m.transport), m.ruleCount)) + stateLabel
	if m.paused {
		meta += " " + m.theme.pausedBadge.Render("PAUSED")
	}
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	parts := []string{header, meta, line}
	if m.qr != "" {
		parts = append(parts, lipgloss.JoinVertical(lipgloss.Left,
			m.theme.qrTitle.Render("Scan to pair"),
			m.theme.qrBox.Render(m.qr),
		))
	}
	parts = append(parts, m.theme.viewport.Width(m.width-2).Render(m.viewport.View()))

	status := m.theme.status.Render("s start · x stop · p pause/resume · r reload rules · PgUp/PgDn scroll · q quit")
	if m.lastErr != "" {
		status = m.theme.statusErr.Render(m.lastErr)
	}
	parts = append(parts, status)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	reserved := 8
	if m.qr != "" {
		reserved += strings.Count(m.qr, "\n") + 3
	}
	h := max(6, m.height-reserved)

	m.viewport.Width = w
	m.viewport.Height = h
}

func (m *model) refreshViewport() {
	previousOffset := m.viewport.YOffset

	lines := make([]string, 0, len(m.logs))
	for _, entry := range m.logs {
		lines = append(lines, m.theme.logTime.Render(entry.at.Local().Format("15:04:05"))+" "+
			m.theme.logStyle(entry.level).Render(entry.text))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))

	if m.followLog {
		m.viewport.GotoBottom()
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "up", "k":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "down", "j":
		m.viewport.PageDown()
		m.followLog = m.viewport.AtBottom()
		return true
	case "home", "g":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end", "G":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(mouseScrollN)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(mouseScrollN)
		m.followLog = m.viewport.AtBottom()
		return true
	default:
		return false
	}
}

// renderQR draws payload as half-block QR art for terminals.
func renderQR(payload string) string {
	if payload == "" {
		return ""
	}

	var out strings.Builder
	qrterminal.GenerateHalfBlock(payload, qrterminal.L, &out)
	return strings.TrimRight(out.String(), "\n")
}

func waitForEvent(events <-chan bus.Event) tea.Cmd {
	if events == nil {
		return nil
	}

	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return busEventMsg{event: event}
	}
}

func fetchStatusCmd(ctx context.Context, commands Commands) tea.Cmd {
	return func() tea.Msg {
		status, err := commands.Status(ctx)
		return statusMsg{status: status, err: err}
	}
}

func commandCmd(ctx context.Context, action string, run func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return commandResultMsg{action: action, err: run(ctx)}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}
