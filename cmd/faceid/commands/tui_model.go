package commands

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/haivivi/faceid/go/pkg/cli"
)

// TUIModel is the serve dashboard model.
type TUIModel struct {
	gw     *gateway
	listen string

	// Content buffers
	eventContent []string // Gateway activity
	logContent   []string // System logs

	// Log writer for capturing log output
	logWriter *cli.LogWriter

	// UI
	styles cli.Styles
	width  int
	height int

	// Quit flag
	quitting bool
}

// NewTUIModel creates the dashboard model for the gateway.
func NewTUIModel(gw *gateway, logWriter *cli.LogWriter, listen string) TUIModel {
	return TUIModel{
		gw:           gw,
		listen:       listen,
		eventContent: []string{},
		logContent:   []string{},
		logWriter:    logWriter,
		styles:       cli.NewStyles(cli.DefaultTheme),
	}
}

// GatewayEventMsg wraps gateway activity lines for bubbletea.
type GatewayEventMsg string

// LogMsg wraps log messages for bubbletea.
type LogMsg string

// TickMsg is sent periodically to update the UI.
type TickMsg time.Time

// Init initializes the model.
func (m TUIModel) Init() tea.Cmd {
	return tea.Batch(
		m.listenGateway(),
		m.listenLogs(),
		m.tick(),
	)
}

func (m TUIModel) listenGateway() tea.Cmd {
	return func() tea.Msg {
		line, ok := <-m.gw.Events()
		if !ok {
			return nil
		}
		return GatewayEventMsg(line)
	}
}

func (m TUIModel) listenLogs() tea.Cmd {
	if m.logWriter == nil {
		return nil
	}
	return func() tea.Msg {
		line, ok := <-m.logWriter.Channel()
		if !ok {
			return nil
		}
		return LogMsg(line)
	}
}

func (m TUIModel) tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages.
func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyRunes:
			if len(msg.Runes) == 1 && msg.Runes[0] == 'q' {
				m.quitting = true
				return m, tea.Quit
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case GatewayEventMsg:
		ts := time.Now().Format("15:04:05")
		m.eventContent = append(m.eventContent, fmt.Sprintf("[%s] %s", ts, string(msg)))
		if len(m.eventContent) > 50 {
			m.eventContent = m.eventContent[len(m.eventContent)-50:]
		}
		cmds = append(cmds, m.listenGateway())

	case LogMsg:
		m.logContent = append(m.logContent, string(msg))
		if len(m.logContent) > 50 {
			m.logContent = m.logContent[len(m.logContent)-50:]
		}
		cmds = append(cmds, m.listenLogs())

	case TickMsg:
		cmds = append(cmds, m.tick())
	}

	return m, tea.Batch(cmds...)
}

// sessionLines renders one line per live connection plus a gallery
// summary.
func (m TUIModel) sessionLines() []string {
	views := m.gw.Sessions()
	maxCaptures := m.gw.cfg.MaxCaptures

	lines := make([]string, 0, len(views)+1)
	for _, v := range views {
		user := v.User
		if user == "" {
			user = "-"
		}
		lines = append(lines, fmt.Sprintf("%s  %-16s %s  %s",
			v.ID, user, cli.Gauge(v.Count, maxCaptures, 12), v.State))
	}

	stats, idents := m.gw.matcherStats()
	lines = append(lines, fmt.Sprintf("gallery: %d identities, queries: %d (%d matched)",
		idents, stats.TotalQueries, stats.SuccessfulQueries))
	return lines
}

// View renders the UI.
func (m TUIModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	frame := cli.Frame{
		Styles: m.styles,
		Title:  "FACEID // GATEWAY",
		Status: m.listen,
		Sections: []cli.Section{
			{Label: "👤 Sessions", Content: m.sessionLines},
			{Label: "📡 Events", Content: func() []string { return m.eventContent }},
			{Label: "📋 System Log", Content: func() []string { return m.logContent }},
		},
		Help: "q/Ctrl+C=quit",
	}

	return frame.Render(m.width, m.height)
}
