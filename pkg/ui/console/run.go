// Package console renders a terminal dashboard for the bot: connection state,
// pairing QR, pause flag, and the operational log. Keys issue bot commands.
package console

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"autoreply/pkg/bus"
)

const eventBuffer = 256

// EventSource is the subscribe side of the notification bus.
type EventSource interface {
	SubscribeEvents(ctx context.Context, buffer int) (<-chan bus.Event, func())
}

// Run blocks until the user quits or ctx is done.
func Run(ctx context.Context, commands Commands, source EventSource) error {
	if commands == nil {
		return errors.New("console requires bot commands")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var events <-chan bus.Event
	if source != nil {
		subscribed, unsubscribe := source.SubscribeEvents(ctx, eventBuffer)
		defer unsubscribe()
		events = subscribed
	}

	program := tea.NewProgram(
		newModel(ctx, commands, events),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("run console: %w", err)
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("88")).
		Padding(1, 2)

	return style.Render("Auto-reply console closed")
}
