package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/luxzg/discoverctl/internal/model"
	"github.com/luxzg/discoverctl/internal/resource"
	"github.com/luxzg/discoverctl/internal/tui"
)

func (c *Commands) AdminLogin(ctx context.Context) error {
	side, err := c.adminSide()
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	secret, err := c.adminSecret()
	if err != nil {
		return err
	}
	err = side.ctl.Login(ctx, secret)
	c.printStatus()
	return err
}

func (c *Commands) AdminLogout(ctx context.Context) error {
	side, err := c.adminSide()
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	side.ctl.Session().Probe(ctx)
	side.ctl.Logout(ctx)
	side.forget()
	c.printStatus()
	return nil
}

func (c *Commands) AdminStatus(ctx context.Context) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	st := side.ctl.Ingest()
	s := st.Status.Ingest.State
	state := "idle"
	if st.Running() {
		state = "running"
	}
	fmt.Fprintf(c.out, "ingest:         %s (source %s)\n", state, orDash(s.Source()))
	if s.Running {
		fmt.Fprintf(c.out, "started:        %s\n", formatTime(s.StartedAt))
	}
	fmt.Fprintf(c.out, "last completed: %s", formatTime(s.LastCompletedAt))
	if s.LastDurationMS > 0 {
		fmt.Fprintf(c.out, " in %s", time.Duration(s.LastDurationMS)*time.Millisecond)
	}
	fmt.Fprintln(c.out)
	if s.LastError != "" {
		errorColor.Fprintf(c.out, "last error:     %s\n", s.LastError)
	}
	if msg := st.Status.Ingest.LastMessage; msg != "" {
		fmt.Fprintf(c.out, "message:        %s\n", msg)
	}
	n := st.Status.Counts
	fmt.Fprintf(c.out, "items:          %d unread, %d seen, %d read, %d useful, %d hidden\n",
		n.Unread, n.Seen, n.Read, n.Useful, n.Hidden)
	fmt.Fprintf(c.out, "dedupe hidden:  %d\n", st.Status.DedupeHiddenTotal)
	fmt.Fprintf(c.out, "topics:         %d\n", len(side.ctl.Topics().Items()))
	fmt.Fprintf(c.out, "rules:          %d\n", len(side.ctl.Rules().Items()))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// AdminIngest runs a manual ingest and waits for it. Cooldown and a run
// already in progress are reported but are not errors.
func (c *Commands) AdminIngest(ctx context.Context) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	fmt.Fprintln(c.out, "ingesting...")
	outcome, err := side.ctl.Trigger(ctx)
	c.printStatus()
	if outcome.Informational() {
		return nil
	}
	return err
}

func (c *Commands) AdminDedupe(ctx context.Context) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	_, err = side.ctl.Dedupe(ctx)
	c.printStatus()
	return err
}

func (c *Commands) AdminWatch(ctx context.Context) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()
	return tui.RunWatch(side.ctl)
}

// TopicChange holds the fields of an edit; nil leaves a field unchanged.
type TopicChange struct {
	Query   *string
	Weight  *float64
	Enabled *bool
}

type RuleChange struct {
	Pattern *string
	Penalty *float64
	Enabled *bool
}

func (c *Commands) TopicsList(ctx context.Context) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	topics := side.ctl.Topics().Items()
	for _, t := range topics {
		stats, _ := side.ctl.TopicStats(t.ID)
		fmt.Fprintf(c.out, "%4d  %-40s  weight %5.1f  %-8s  %d unread / %d\n",
			t.ID, truncate(t.Query, 40), t.Weight, enabledLabel(t.Enabled), stats.Unread, stats.Total)
	}
	fmt.Fprintf(c.out, "%d topics\n", len(topics))
	return nil
}

func (c *Commands) TopicsAdd(ctx context.Context, query string, weight float64, disabled bool) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	err = side.ctl.Topics().Create(ctx, model.Topic{Query: query, Weight: weight, Enabled: !disabled})
	c.printStatus()
	return err
}

func (c *Commands) TopicsEdit(ctx context.Context, selector string, ch TopicChange) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	err = editEntry(ctx, side.ctl.Topics(), selector, func(t *model.Topic) {
		if ch.Query != nil {
			t.Query = *ch.Query
		}
		if ch.Weight != nil {
			t.Weight = *ch.Weight
		}
		if ch.Enabled != nil {
			t.Enabled = *ch.Enabled
		}
	}, func(t model.Topic) int64 { return t.ID })
	c.printStatus()
	return err
}

func (c *Commands) TopicsDelete(ctx context.Context, selector string) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	err = deleteEntry(ctx, side.ctl.Topics(), selector, func(t model.Topic) int64 { return t.ID })
	c.printStatus()
	return err
}

func (c *Commands) RulesList(ctx context.Context) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	rules := side.ctl.Rules().Items()
	for _, r := range rules {
		fmt.Fprintf(c.out, "%4d  %-40s  penalty %5.1f  %s\n",
			r.ID, truncate(r.Pattern, 40), r.Penalty, enabledLabel(r.Enabled))
	}
	fmt.Fprintf(c.out, "%d rules\n", len(rules))
	return nil
}

func (c *Commands) RulesAdd(ctx context.Context, pattern string, penalty float64, disabled bool) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	err = side.ctl.Rules().Create(ctx, model.Rule{Pattern: pattern, Penalty: penalty, Enabled: !disabled})
	c.printStatus()
	return err
}

func (c *Commands) RulesEdit(ctx context.Context, selector string, ch RuleChange) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	err = editEntry(ctx, side.ctl.Rules(), selector, func(r *model.Rule) {
		if ch.Pattern != nil {
			r.Pattern = *ch.Pattern
		}
		if ch.Penalty != nil {
			r.Penalty = *ch.Penalty
		}
		if ch.Enabled != nil {
			r.Enabled = *ch.Enabled
		}
	}, func(r model.Rule) int64 { return r.ID })
	c.printStatus()
	return err
}

func (c *Commands) RulesDelete(ctx context.Context, selector string) error {
	side, err := c.openAdmin(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	err = deleteEntry(ctx, side.ctl.Rules(), selector, func(r model.Rule) int64 { return r.ID })
	c.printStatus()
	return err
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// editEntry stages the entry matching selector, applies change and
// resubmits it through create.
func editEntry[T any](ctx context.Context, ed *resource.Editor[T], selector string, change func(*T), id func(T) int64) error {
	found, ok := ed.Find(selector)
	if !ok {
		return fmt.Errorf("no %s entry matches %q", ed.Name(), selector)
	}
	staged, ok := ed.Edit(id(found))
	if !ok {
		return fmt.Errorf("no %s entry matches %q", ed.Name(), selector)
	}
	change(&staged)
	return ed.Create(ctx, staged)
}

func deleteEntry[T any](ctx context.Context, ed *resource.Editor[T], selector string, id func(T) int64) error {
	found, ok := ed.Find(selector)
	if !ok {
		return fmt.Errorf("no %s entry matches %q", ed.Name(), selector)
	}
	return ed.Delete(ctx, id(found))
}
