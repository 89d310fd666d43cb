package console

import (
	"github.com/charmbracelet/lipgloss"

	"autoreply/pkg/connection"
)

// theme groups reusable styles for dashboard regions.
type theme struct {
	header      lipgloss.Style
	headerMeta  lipgloss.Style
	divider     lipgloss.Style
	stateOK     lipgloss.Style
	stateBusy   lipgloss.Style
	stateIdle   lipgloss.Style
	stateErr    lipgloss.Style
	pausedBadge lipgloss.Style
	qrBox       lipgloss.Style
	qrTitle     lipgloss.Style
	logInfo     lipgloss.Style
	logWarn     lipgloss.Style
	logError    lipgloss.Style
	logTime     lipgloss.Style
	status      lipgloss.Style
	statusErr   lipgloss.Style
	hint        lipgloss.Style
	viewport    lipgloss.Style
}

// defaultTheme defines the retro terminal palette used by the dashboard.
func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("88")),
		headerMeta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("223")),
		divider: lipgloss.NewStyle().
			Foreground(lipgloss.Color("130")),
		stateOK: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("114")),
		stateBusy: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("222")),
		stateIdle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")),
		stateErr: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("203")),
		pausedBadge: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("214")).
			Padding(0, 1),
		qrBox: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("44")).
			Padding(0, 1),
		qrTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("44")).
			Padding(0, 1),
		logInfo: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		logWarn: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")),
		logError: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")),
		logTime: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Bold(true),
		statusErr: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("130")).
			Background(lipgloss.Color("233")).
			Padding(0, 1),
	}
}

func (t theme) stateStyle(state connection.State) lipgloss.Style {
	switch state {
	case connection.Connected:
		return t.stateOK
	case connection.Paused:
		return t.stateBusy
	case connection.Error:
		return t.stateErr
	case connection.Disconnected:
		return t.stateIdle
	default:
		return t.stateBusy
	}
}

func (t theme) logStyle(level string) lipgloss.Style {
	switch level {
	case "error":
		return t.logError
	case "warn":
		return t.logWarn
	default:
		return t.logInfo
	}
}
