package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"

	"github.com/luxzg/discoverctl/internal/commands"
	"github.com/luxzg/discoverctl/internal/config"
	"github.com/luxzg/discoverctl/internal/logging"
	"github.com/luxzg/discoverctl/internal/store"
	"github.com/luxzg/discoverctl/internal/store/memorystore"
	"github.com/luxzg/discoverctl/internal/store/sqlitestore"
	"github.com/luxzg/discoverctl/internal/version"
)

type Options struct {
	Verbose    bool   `short:"v" long:"verbose" description:"Show verbose logging"`
	ConfigPath string `short:"c" long:"config-path" description:"Location of config.yml" env:"DISCOVERCTL_CONFIG_FILE"`
	ConfigDir  string `short:"d" long:"config-dir" description:"Where to find config files"`
	ConfigName string `short:"N" long:"config-name" description:"Name of a config file in config dir"`
	Create     bool   `long:"create" description:"Create config file if it doesn't exist"`
	Ephemeral  bool   `long:"ephemeral" description:"Keep sessions and history in memory only"`
}

var (
	options Options
)

// run loads the runtime, hands a Commands to fn and releases the store.
// quiet keeps log output off the terminal while a TUI is drawing.
func run(quiet bool, fn func(context.Context, *commands.Commands) error) error {
	runtime, err := config.New().
		WithConfigPath(options.ConfigPath).
		WithConfigDir(options.ConfigDir).
		WithConfigName(options.ConfigName).
		WithVersion(version.BuildVersion).
		WithCreate(options.Create).
		WithEphemeral(options.Ephemeral).
		Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		FilePath: runtime.LogPath(),
		Level:    runtime.Config.Log.Level,
		Verbose:  options.Verbose,
		Quiet:    quiet,
	})
	defer logger.Sync() //nolint:errcheck

	var s store.Store
	if runtime.Ephemeral {
		s = memorystore.NewMemoryStore()
	} else {
		s, err = sqlitestore.NewSQLiteStore(runtime.DatabasePath())
		if err != nil {
			return fmt.Errorf("main.go: %w", err)
		}
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return fn(ctx, commands.New(runtime, s, logger))
}

// User subcommands

type Login struct{}

func (r *Login) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.Login(ctx) })
}

type Logout struct{}

func (r *Logout) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.Logout(ctx) })
}

type Session struct{}

func (r *Session) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.Session(ctx) })
}

type Feed struct{}

func (r *Feed) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.Feed(ctx) })
}

type Next struct{}

func (r *Next) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.Next(ctx) })
}

type Act struct {
	Positional struct {
		ID     int64  `positional-arg-name:"ID" required:"yes"`
		Action string `positional-arg-name:"ACTION" required:"yes" description:"useful, hide, suppress-item or suppress-domain"`
	} `positional-args:"yes"`
}

func (r *Act) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error {
		return c.Act(ctx, r.Positional.ID, r.Positional.Action)
	})
}

type Suppress struct {
	Domain  bool    `long:"domain" description:"Suppress the item's source domain instead of its title"`
	Pattern string  `long:"pattern" description:"Override the prefilled pattern"`
	Penalty float64 `long:"penalty" description:"Override the default penalty"`

	Positional struct {
		ID int64 `positional-arg-name:"ID" required:"yes"`
	} `positional-args:"yes"`
}

func (r *Suppress) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error {
		return c.Suppress(ctx, r.Positional.ID, r.Domain, r.Pattern, r.Penalty)
	})
}

type Open struct {
	Positional struct {
		ID int64 `positional-arg-name:"ID" required:"yes"`
	} `positional-args:"yes"`
}

func (r *Open) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.Open(ctx, r.Positional.ID) })
}

type History struct {
	Limit int `short:"n" long:"limit" description:"Show at most this many actions (default 50)"`
}

func (r *History) Execute(args []string) error {
	return run(false, func(_ context.Context, c *commands.Commands) error { return c.History(r.Limit) })
}

type Config struct{}

func (r *Config) Execute(args []string) error {
	return run(false, func(_ context.Context, c *commands.Commands) error { return c.ShowConfig() })
}

type Version struct{}

func (r *Version) Execute(args []string) error {
	fmt.Print(version.BuildVersion)
	if version.BuildRef != "" {
		fmt.Printf(" (%s)", version.BuildRef)
	}
	if version.BuildDate != "" {
		fmt.Printf(" on %s", version.BuildDate)
	}
	fmt.Println()
	return nil
}

// Admin subcommands

type AdminLogin struct{}

func (r *AdminLogin) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.AdminLogin(ctx) })
}

type AdminLogout struct{}

func (r *AdminLogout) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.AdminLogout(ctx) })
}

type AdminStatus struct{}

func (r *AdminStatus) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.AdminStatus(ctx) })
}

type AdminIngest struct{}

func (r *AdminIngest) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.AdminIngest(ctx) })
}

type AdminDedupe struct{}

func (r *AdminDedupe) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.AdminDedupe(ctx) })
}

type AdminWatch struct{}

func (r *AdminWatch) Execute(args []string) error {
	return run(true, func(ctx context.Context, c *commands.Commands) error { return c.AdminWatch(ctx) })
}

type TopicsList struct{}

func (r *TopicsList) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.TopicsList(ctx) })
}

type TopicsAdd struct {
	Weight   float64 `short:"w" long:"weight" description:"Topic weight (server default when 0)"`
	Disabled bool    `long:"disabled" description:"Create the topic disabled"`

	Positional struct {
		Query string `positional-arg-name:"QUERY" required:"yes"`
	} `positional-args:"yes"`
}

func (r *TopicsAdd) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error {
		return c.TopicsAdd(ctx, r.Positional.Query, r.Weight, r.Disabled)
	})
}

type TopicsEdit struct {
	Query   string  `long:"query" description:"New query"`
	Weight  float64 `short:"w" long:"weight" description:"New weight"`
	Enable  bool    `long:"enable" description:"Enable the topic"`
	Disable bool    `long:"disable" description:"Disable the topic"`

	Positional struct {
		Selector string `positional-arg-name:"TOPIC" required:"yes" description:"Topic id or fuzzy query match"`
	} `positional-args:"yes"`
}

func (r *TopicsEdit) Execute(args []string) error {
	var ch commands.TopicChange
	if r.Query != "" {
		ch.Query = &r.Query
	}
	if r.Weight != 0 {
		ch.Weight = &r.Weight
	}
	ch.Enabled = toggle(r.Enable, r.Disable)
	return run(false, func(ctx context.Context, c *commands.Commands) error {
		return c.TopicsEdit(ctx, r.Positional.Selector, ch)
	})
}

type TopicsDelete struct {
	Positional struct {
		Selector string `positional-arg-name:"TOPIC" required:"yes"`
	} `positional-args:"yes"`
}

func (r *TopicsDelete) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error {
		return c.TopicsDelete(ctx, r.Positional.Selector)
	})
}

type RulesList struct{}

func (r *RulesList) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error { return c.RulesList(ctx) })
}

type RulesAdd struct {
	Penalty  float64 `short:"p" long:"penalty" description:"Rule penalty (server default when 0)"`
	Disabled bool    `long:"disabled" description:"Create the rule disabled"`

	Positional struct {
		Pattern string `positional-arg-name:"PATTERN" required:"yes"`
	} `positional-args:"yes"`
}

func (r *RulesAdd) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error {
		return c.RulesAdd(ctx, r.Positional.Pattern, r.Penalty, r.Disabled)
	})
}

type RulesEdit struct {
	Pattern string  `long:"pattern" description:"New pattern"`
	Penalty float64 `short:"p" long:"penalty" description:"New penalty"`
	Enable  bool    `long:"enable" description:"Enable the rule"`
	Disable bool    `long:"disable" description:"Disable the rule"`

	Positional struct {
		Selector string `positional-arg-name:"RULE" required:"yes" description:"Rule id or fuzzy pattern match"`
	} `positional-args:"yes"`
}

func (r *RulesEdit) Execute(args []string) error {
	var ch commands.RuleChange
	if r.Pattern != "" {
		ch.Pattern = &r.Pattern
	}
	if r.Penalty != 0 {
		ch.Penalty = &r.Penalty
	}
	ch.Enabled = toggle(r.Enable, r.Disable)
	return run(false, func(ctx context.Context, c *commands.Commands) error {
		return c.RulesEdit(ctx, r.Positional.Selector, ch)
	})
}

type RulesDelete struct {
	Positional struct {
		Selector string `positional-arg-name:"RULE" required:"yes"`
	} `positional-args:"yes"`
}

func (r *RulesDelete) Execute(args []string) error {
	return run(false, func(ctx context.Context, c *commands.Commands) error {
		return c.RulesDelete(ctx, r.Positional.Selector)
	})
}

func toggle(enable, disable bool) *bool {
	switch {
	case enable:
		v := true
		return &v
	case disable:
		v := false
		return &v
	}
	return nil
}

func main() {
	parser := flags.NewParser(&options, flags.Default)
	// with no subcommand discoverctl opens the feed reader
	parser.SubcommandsOptional = true

	parser.AddCommand("login", "Sign in", "Sign in to the feed and keep the session cookie", &Login{})
	parser.AddCommand("logout", "Sign out", "End the feed session and drop the stored cookie", &Logout{})
	parser.AddCommand("session", "Show sessions", "Report whether stored sessions are still accepted", &Session{})
	parser.AddCommand("feed", "Show feed", "Print the current page of the feed", &Feed{})
	parser.AddCommand("next", "Next page", "Mark the current page seen and print the next one", &Next{})
	parser.AddCommand("act", "Act on item", "Mark an item useful or hidden", &Act{})
	parser.AddCommand("suppress", "Suppress item", "Add a penalty rule from an item's title or domain", &Suppress{})
	parser.AddCommand("open", "Open item", "Record a click and open the item in a browser", &Open{})
	parser.AddCommand("history", "Show history", "Print locally recorded actions", &History{})
	parser.AddCommand("config", "Show config", "Show configuration", &Config{})
	parser.AddCommand("version", "Show Version", "Display version information", &Version{})

	adminCmd, err := parser.AddCommand("admin", "Admin console", "Manage topics, rules and ingestion", &struct{}{})
	if err != nil {
		panic(err)
	}
	adminCmd.AddCommand("login", "Sign in", "Sign in to the admin console", &AdminLogin{})
	adminCmd.AddCommand("logout", "Sign out", "End the admin session", &AdminLogout{})
	adminCmd.AddCommand("status", "Show status", "Print ingest state and item counts", &AdminStatus{})
	adminCmd.AddCommand("ingest", "Run ingest", "Trigger a manual ingest and wait for it", &AdminIngest{})
	adminCmd.AddCommand("dedupe", "Run dedupe", "Hide duplicate unread items", &AdminDedupe{})
	adminCmd.AddCommand("watch", "Watch status", "Follow ingest status in the terminal", &AdminWatch{})

	topicsCmd, _ := adminCmd.AddCommand("topics", "Manage topics", "List, add, edit and delete topics", &struct{}{})
	topicsCmd.AddCommand("list", "List topics", "List topics with their unread counts", &TopicsList{})
	topicsCmd.AddCommand("add", "Add topic", "Create a topic", &TopicsAdd{})
	topicsCmd.AddCommand("edit", "Edit topic", "Change a topic", &TopicsEdit{})
	topicsCmd.AddCommand("delete", "Delete topic", "Delete a topic", &TopicsDelete{})

	rulesCmd, _ := adminCmd.AddCommand("rules", "Manage rules", "List, add, edit and delete penalty rules", &struct{}{})
	rulesCmd.AddCommand("list", "List rules", "List penalty rules", &RulesList{})
	rulesCmd.AddCommand("add", "Add rule", "Create a penalty rule", &RulesAdd{})
	rulesCmd.AddCommand("edit", "Edit rule", "Change a penalty rule", &RulesEdit{})
	rulesCmd.AddCommand("delete", "Delete rule", "Delete a penalty rule", &RulesDelete{})

	// parse the command line arguments
	_, err = parser.Parse()
	if err != nil {
		if flagErr, ok := err.(*flags.Error); ok {
			if flagErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			parser.WriteHelp(os.Stdout)
			os.Exit(2)
		}
		// flags.Default already printed the command's error
		os.Exit(1)
	}

	// no subcommand or help flag, run the TUI
	if parser.Active == nil {
		err = run(true, func(ctx context.Context, c *commands.Commands) error { return c.TUI(ctx) })
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	}
}
