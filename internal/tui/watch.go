package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/luxzg/discoverctl/internal/admin"
	"github.com/luxzg/discoverctl/internal/ingest"
	"github.com/luxzg/discoverctl/internal/model"
)

type polledMsg struct {
	err error
}

type triggeredMsg struct {
	outcome ingest.Outcome
	err     error
}

// WatchModel follows the ingest scheduler of an admin controller. The
// controller's poller keeps the mirror fresh; the spinner tick redraws.
type WatchModel struct {
	ctl  *admin.Controller
	spin spinner.Model
}

func NewWatchModel(ctl *admin.Controller) WatchModel {
	return WatchModel{
		ctl:  ctl,
		spin: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(pollCmd(m.ctl), m.spin.Tick)
}

func pollCmd(ctl *admin.Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		_, err := ctl.Poller().Refresh(ctx)
		return polledMsg{err: err}
	}
}

func triggerCmd(ctl *admin.Controller) tea.Cmd {
	return func() tea.Msg {
		// the guard applies its own deadline to the manual run
		o, err := ctl.Trigger(context.Background())
		return triggeredMsg{outcome: o, err: err}
	}
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, triggerCmd(m.ctl)
		}
		return m, nil
	case polledMsg, triggeredMsg:
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) View() string {
	st := m.ctl.Ingest()
	var b strings.Builder
	b.WriteString(titleStyle.Render("discover ingest"))
	b.WriteString("\n\n")

	if !m.ctl.Session().Authenticated() {
		b.WriteString("signed out; run `discoverctl admin login`\n")
	} else if !st.Known {
		b.WriteString("waiting for status...\n")
	} else {
		b.WriteString(panelStyle.Render(renderIngest(st, m.spin.View())))
		b.WriteString("\n")
	}

	if line := statusLine(m.ctl.Status().Current()); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("r run ingest  q quit"))
	return b.String()
}

func renderIngest(st ingest.State, spin string) string {
	s := st.Status.Ingest.State
	var rows []string
	row := func(label, value string) {
		rows = append(rows, labelStyle.Render(label)+value)
	}

	if st.Running() {
		state := "running"
		if st.ManualInFlight && !s.Running {
			state = "starting"
		}
		row("state", spin+" "+runningStyle.Render(state))
	} else {
		row("state", "idle")
	}
	row("source", dash(s.Source()))
	if s.Running {
		row("started", stamp(s.StartedAt))
	}
	row("last completed", stamp(s.LastCompletedAt))
	if s.LastDurationMS > 0 {
		row("last duration", (time.Duration(s.LastDurationMS) * time.Millisecond).String())
	}
	if s.LastError != "" {
		row("last error", errorStyle.Render(s.LastError))
	}
	row("message", dash(st.Status.Ingest.LastMessage))
	row("items", formatCounts(st.Status.Counts))
	row("dedupe hidden", fmt.Sprint(st.Status.DedupeHiddenTotal))
	return strings.Join(rows, "\n")
}

func formatCounts(c model.Counts) string {
	return fmt.Sprintf("%d unread, %d seen, %d read, %d useful, %d hidden",
		c.Unread, c.Seen, c.Read, c.Useful, c.Hidden)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// RunWatch runs the ingest watch until the user quits.
func RunWatch(ctl *admin.Controller) error {
	p := tea.NewProgram(NewWatchModel(ctl), tea.WithAltScreen())
	unsub := ctl.Poller().OnUpdate(func(model.Status) { p.Send(polledMsg{}) })
	defer unsub()
	_, err := p.Run()
	return err
}
