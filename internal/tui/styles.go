// Package tui holds the terminal interfaces: the feed reader and the admin
// ingest watch.
package tui

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/luxzg/discoverctl/internal/status"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cursorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	domainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	menuStyle    = lipgloss.NewStyle().PaddingLeft(4).Foreground(lipgloss.Color("14"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	infoStyle    = lipgloss.NewStyle()
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Width(16).Foreground(lipgloss.Color("8"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// callTimeout bounds every backend call started from a key press.
const callTimeout = 30 * time.Second

func statusLine(l status.Line) string {
	if l.Text == "" {
		return ""
	}
	switch l.Level {
	case status.Notice:
		return noticeStyle.Render(l.Text)
	case status.Error:
		return errorStyle.Render(l.Text)
	}
	return infoStyle.Render(l.Text)
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// OpenURL starts the platform browser on url without waiting for it.
func OpenURL(url string) error {
	if url == "" {
		return fmt.Errorf("tui.OpenURL: empty URL")
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("tui.OpenURL: %w", err)
	}
	return nil
}
