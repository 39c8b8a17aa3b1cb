package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/feed"
	"github.com/luxzg/discoverctl/internal/model"
	"github.com/luxzg/discoverctl/internal/session"
	"github.com/luxzg/discoverctl/internal/tui"
)

func (c *Commands) Login(ctx context.Context) error {
	side, err := c.userSide()
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	creds, err := c.userCredentials()
	if err != nil {
		return err
	}
	err = side.ctl.Login(ctx, creds)
	c.printStatus()
	return err
}

// Logout ends the user session and drops the stored cookie.
func (c *Commands) Logout(ctx context.Context) error {
	side, err := c.userSide()
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

// Session reports whether stored sessions are still accepted.
func (c *Commands) Session(ctx context.Context) error {
	user, err := c.userSide()
	if err != nil {
		return err
	}
	defer user.ctl.Dispose()
	fmt.Fprintf(c.out, "user:  %s\n", describe(user.ctl.Session().Probe(ctx)))

	if c.runtime.Config.Server.URL == "" {
		return nil
	}
	adm, err := c.adminSide()
	if err != nil {
		return err
	}
	defer adm.ctl.Dispose()
	fmt.Fprintf(c.out, "admin: %s\n", describe(adm.ctl.Session().Probe(ctx)))
	return nil
}

func describe(s session.Session) string {
	if !s.Authenticated {
		return "signed out"
	}
	return fmt.Sprintf("signed in (suppress penalty %.1f)", s.DefaultPenalty)
}

func (c *Commands) printItems(v feed.View) {
	items := v.Items()
	if len(items) == 0 {
		fmt.Fprintln(c.out, "no items on this page")
		return
	}
	for _, it := range items {
		fmt.Fprintf(c.out, "%6d  %-60s  %s\n", it.ID, truncate(it.Title, 60), it.SourceDomain)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Feed prints the current page.
func (c *Commands) Feed(ctx context.Context) error {
	side, err := c.openUser(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()
	c.printItems(side.ctl.View())
	return nil
}

// Next marks the current page seen and prints the next one.
func (c *Commands) Next(ctx context.Context) error {
	side, err := c.openUser(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	res, err := side.ctl.Advance(ctx)
	if err != nil {
		c.printStatus()
		return err
	}
	if res.RefreshErr != nil {
		errorColor.Fprintf(c.out, "refresh failed: %v\n", res.RefreshErr)
	}
	if res.Empty {
		c.printStatus()
		return nil
	}
	c.printItems(side.ctl.View())
	return nil
}

// Act applies useful or hide to an item of the current page.
func (c *Commands) Act(ctx context.Context, id int64, name string) error {
	action, ok := model.ParseAction(strings.ToLower(name))
	if !ok {
		return api.Validation("unknown action " + name)
	}
	if action.Suppress() {
		return c.Suppress(ctx, id, action == model.ActionSuppressDomain, "", 0)
	}

	side, err := c.openUser(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()
	err = side.ctl.Apply(ctx, id, action)
	c.printStatus()
	return err
}

// Suppress submits a penalty rule for an item, prefilled from its title or
// domain. pattern and penalty override the prefill when set.
func (c *Commands) Suppress(ctx context.Context, id int64, domain bool, pattern string, penalty float64) error {
	side, err := c.openUser(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	kind := model.ActionSuppressItem
	if domain {
		kind = model.ActionSuppressDomain
	}
	req, err := side.ctl.SuppressDraft(id, kind)
	if err != nil {
		return err
	}
	if pattern != "" {
		req.Pattern = pattern
	}
	if penalty != 0 {
		req.Penalty = penalty
	}
	err = side.ctl.Suppress(ctx, req)
	c.printStatus()
	return err
}

// Open reports the click and opens the item in the browser.
func (c *Commands) Open(ctx context.Context, id int64) error {
	side, err := c.openUser(ctx)
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	it, err := side.ctl.Open(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, it.URL)
	return c.open(it.URL)
}

// TUI runs the feed reader, signing in first when needed.
func (c *Commands) TUI(ctx context.Context) error {
	side, err := c.userSide()
	if err != nil {
		return err
	}
	defer side.ctl.Dispose()

	if err := side.ctl.Init(ctx); err != nil {
		return err
	}
	if !side.ctl.Session().Authenticated() {
		creds, err := c.userCredentials()
		if err != nil {
			return err
		}
		if err := side.ctl.Login(ctx, creds); err != nil {
			return err
		}
	}
	return tui.RunFeed(side.ctl)
}

// History prints the local action journal, newest first unless configured
// otherwise.
func (c *Commands) History(limit int) error {
	if limit <= 0 {
		limit = constants.DefaultHistoryLimit
	}
	total, err := c.store.CountActions()
	if err != nil {
		return err
	}
	recs, err := c.store.GetActions(c.runtime.Config.Ordering, limit)
	if err != nil {
		return err
	}
	for _, r := range recs {
		result := "ok"
		if !r.OK {
			result = "failed: " + r.Message
		}
		detail := ""
		if r.Pattern != "" {
			detail = fmt.Sprintf(" %q penalty %.1f", r.Pattern, r.Penalty)
		}
		fmt.Fprintf(c.out, "%s  %-5s  %-15s %6d%s  %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Identity, r.Kind, r.ItemID, detail, result)
	}
	fmt.Fprintf(c.out, "%d of %d actions\n", len(recs), total)
	return nil
}
