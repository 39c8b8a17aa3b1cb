package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/luxzg/discoverctl/internal/feed"
	"github.com/luxzg/discoverctl/internal/model"
)

type pageMsg struct {
	err error
}

type advanceMsg struct {
	res feed.AdvanceResult
	err error
}

type actionMsg struct {
	id  int64
	err error
}

type openMsg struct {
	err error
}

// FeedModel shows the current page of a feed controller.
type FeedModel struct {
	ctl    *feed.Controller
	cursor int
	busy   bool
	width  int

	input textinput.Model
	draft *feed.SuppressRequest

	openFn func(string) error
}

func NewFeedModel(ctl *feed.Controller) FeedModel {
	ti := textinput.New()
	ti.Prompt = "pattern: "
	ti.CharLimit = 200
	return FeedModel{ctl: ctl, input: ti, openFn: OpenURL}
}

func (m FeedModel) Init() tea.Cmd {
	return loadPageCmd(m.ctl)
}

func loadPageCmd(ctl *feed.Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		_, err := ctl.LoadPage(ctx)
		return pageMsg{err: err}
	}
}

func advanceCmd(ctl *feed.Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		res, err := ctl.Advance(ctx)
		return advanceMsg{res: res, err: err}
	}
}

func applyCmd(ctl *feed.Controller, id int64, action model.Action) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		return actionMsg{id: id, err: ctl.Apply(ctx, id, action)}
	}
}

func suppressCmd(ctl *feed.Controller, req feed.SuppressRequest) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		return actionMsg{id: req.ItemID, err: ctl.Suppress(ctx, req)}
	}
}

func openCmd(ctl *feed.Controller, id int64, open func(string) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := withTimeout()
		defer cancel()
		it, err := ctl.Open(ctx, id)
		if err != nil {
			return openMsg{err: err}
		}
		return openMsg{err: open(it.URL)}
	}
}

// selected is the item the menu is open on, else the one under the cursor.
func (m FeedModel) selected() (model.Item, bool) {
	v := m.ctl.View()
	if id, ok := m.ctl.Menu().Open(); ok {
		if it, found := v.Item(id); found {
			return it, true
		}
	}
	items := v.Items()
	if m.cursor < 0 || m.cursor >= len(items) {
		return model.Item{}, false
	}
	return items[m.cursor], true
}

func (m *FeedModel) clampCursor() {
	n := m.ctl.View().Len()
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m FeedModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case pageMsg:
		m.busy = false
		m.clampCursor()
		return m, nil
	case advanceMsg:
		m.busy = false
		m.cursor = 0
		return m, nil
	case actionMsg:
		m.clampCursor()
		return m, nil
	case openMsg:
		if msg.err != nil {
			m.ctl.Status().Error(msg.err.Error())
		}
		return m, nil
	case tea.KeyMsg:
		if m.draft != nil {
			return m.updateDraft(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m FeedModel) updateDraft(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.draft = nil
		m.input.Blur()
		return m, nil
	case "enter":
		req := *m.draft
		req.Pattern = strings.TrimSpace(m.input.Value())
		m.draft = nil
		m.input.Blur()
		m.ctl.Menu().CloseAll()
		return m, suppressCmd(m.ctl, req)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m FeedModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.ctl.View().Len()-1 {
			m.cursor++
		}
	case "esc":
		m.ctl.Menu().CloseAll()
	case "m":
		if it, ok := m.cursorItem(); ok {
			m.ctl.Menu().Toggle(it.ID)
		}
	case "n":
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.ctl.Menu().CloseAll()
		return m, advanceCmd(m.ctl)
	case "u", "h":
		it, ok := m.selected()
		if !ok {
			return m, nil
		}
		action := model.ActionUseful
		if msg.String() == "h" {
			action = model.ActionHide
		}
		m.ctl.Menu().CloseAll()
		return m, applyCmd(m.ctl, it.ID, action)
	case "s", "d":
		it, ok := m.selected()
		if !ok {
			return m, nil
		}
		kind := model.ActionSuppressItem
		if msg.String() == "d" {
			kind = model.ActionSuppressDomain
		}
		draft, err := m.ctl.SuppressDraft(it.ID, kind)
		if err != nil {
			m.ctl.Status().Error(err.Error())
			return m, nil
		}
		m.draft = &draft
		m.input.SetValue(draft.Pattern)
		m.input.CursorEnd()
		return m, m.input.Focus()
	case "o":
		it, ok := m.selected()
		if !ok {
			return m, nil
		}
		return m, openCmd(m.ctl, it.ID, m.openFn)
	}
	return m, nil
}

func (m FeedModel) cursorItem() (model.Item, bool) {
	items := m.ctl.View().Items()
	if m.cursor < 0 || m.cursor >= len(items) {
		return model.Item{}, false
	}
	return items[m.cursor], true
}

func (m FeedModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("discover"))
	if !m.ctl.Session().Authenticated() {
		b.WriteString("  (signed out)")
	}
	b.WriteString("\n\n")

	items := m.ctl.View().Items()
	if len(items) == 0 {
		b.WriteString("no items on this page\n")
	}
	menu := m.ctl.Menu()
	for i, it := range items {
		mark := "  "
		if i == m.cursor {
			mark = cursorStyle.Render("> ")
		}
		fmt.Fprintf(&b, "%s%s %s\n", mark, it.Title, domainStyle.Render(it.SourceDomain))
		if menu.IsOpen(it.ID) {
			b.WriteString(menuStyle.Render("[u]seful  [h]ide  [s]uppress item  [d]suppress domain  [o]pen"))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.draft != nil {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
	if m.busy {
		b.WriteString("loading...\n")
	}
	if line := statusLine(m.ctl.Status().Current()); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("j/k move  m menu  n next  u/h useful/hide  s/d suppress  o open  q quit"))
	return b.String()
}

// RunFeed runs the feed reader until the user quits.
func RunFeed(ctl *feed.Controller) error {
	_, err := tea.NewProgram(NewFeedModel(ctl), tea.WithAltScreen()).Run()
	return err
}
