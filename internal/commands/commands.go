// Package commands implements the discoverctl subcommands on top of the
// feed and admin controllers.
package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/luxzg/discoverctl/internal/admin"
	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/config"
	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/feed"
	"github.com/luxzg/discoverctl/internal/logging"
	"github.com/luxzg/discoverctl/internal/miniflux"
	"github.com/luxzg/discoverctl/internal/session"
	"github.com/luxzg/discoverctl/internal/status"
	"github.com/luxzg/discoverctl/internal/store"
	"github.com/luxzg/discoverctl/internal/tui"
	"github.com/luxzg/discoverctl/internal/version"
)

// Prompter asks the user for a value; secret input is not echoed.
type Prompter func(label string, secret bool) (string, error)

type Commands struct {
	runtime *config.Runtime
	store   store.Store
	logger  *zap.Logger
	board   *status.Board
	out     io.Writer
	prompt  Prompter
	open    func(string) error
}

func New(runtime *config.Runtime, s store.Store, logger *zap.Logger) *Commands {
	return &Commands{
		runtime: runtime,
		store:   s,
		logger:  logging.OrNop(logger),
		board:   status.NewBoard(),
		out:     os.Stdout,
		prompt:  terminalPrompt,
		open:    tui.OpenURL,
	}
}

func (c *Commands) WithOutput(w io.Writer) *Commands {
	c.out = w
	return c
}

func (c *Commands) WithPrompter(p Prompter) *Commands {
	c.prompt = p
	return c
}

func (c *Commands) WithOpener(fn func(string) error) *Commands {
	c.open = fn
	return c
}

func terminalPrompt(label string, secret bool) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	if secret {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("commands.prompt: %s required and stdin is not a terminal", label)
		}
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("commands.prompt: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("commands.prompt: %w", err)
	}
	return strings.TrimSpace(line), nil
}

var (
	noticeColor = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed, color.Bold)
)

// printStatus writes the current status line, colored by level.
func (c *Commands) printStatus() {
	line := c.board.Current()
	if line.Text == "" {
		return
	}
	switch line.Level {
	case status.Notice:
		noticeColor.Fprintln(c.out, line.Text)
	case status.Error:
		errorColor.Fprintln(c.out, line.Text)
	default:
		fmt.Fprintln(c.out, line.Text)
	}
}

func (c *Commands) client(rawURL, scope string, mode constants.AuthMode) (*api.Client, *store.Jar, error) {
	cfg := c.runtime.Config
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("commands.client: %w", err)
	}
	var jar *store.Jar
	if mode == constants.SessionAuth {
		jar, err = store.NewJar(c.store, scope, base)
		if err != nil {
			return nil, nil, fmt.Errorf("commands.client: %w", err)
		}
	}
	tlsCfg, err := cfg.HTTPOptions.TLSConfig()
	if err != nil {
		return nil, nil, err
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	opts := api.Options{
		BaseURL:      rawURL,
		TLS:          tlsCfg,
		Timeout:      c.runtime.Timeout(),
		UserAgent:    ua,
		Mode:         mode,
		SecretHeader: cfg.Server.SecretHeader,
		SecretQuery:  cfg.Server.SecretQuery,
		Logger:       c.logger,
	}
	if jar != nil {
		opts.Jar = jar
	}
	cl, err := api.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return cl, jar, nil
}

type userSide struct {
	ctl *feed.Controller
	jar *store.Jar
}

func (s *userSide) forget() {
	if s.jar != nil {
		s.jar.Forget()
	}
}

func (c *Commands) userSide() (*userSide, error) {
	cfg := c.runtime.Config
	opts := feed.Options{
		Status:    c.board,
		Journal:   c.store,
		BatchSize: cfg.Feed.BatchSize,
		Logger:    c.logger,
	}

	if cfg.Backend == constants.MinifluxBackend {
		mb := miniflux.New(cfg.Miniflux.Host, cfg.Miniflux.APIKey)
		opts.Backend = mb
		opts.Session = session.New(session.Options{Auth: mb.Auth(), Identity: constants.UserScope, Logger: c.logger})
		return &userSide{ctl: feed.New(opts)}, nil
	}

	cl, jar, err := c.client(cfg.Server.URL, constants.UserScope, constants.SessionAuth)
	if err != nil {
		return nil, err
	}
	user := api.NewUserAPI(cl)
	opts.Backend = user
	opts.Session = session.New(session.Options{
		Auth:     session.UserAuth(user),
		Tokens:   cl,
		Identity: constants.UserScope,
		Logger:   c.logger,
	})
	return &userSide{ctl: feed.New(opts), jar: jar}, nil
}

type adminSide struct {
	ctl    *admin.Controller
	jar    *store.Jar
	secret bool
}

func (s *adminSide) forget() {
	if s.jar != nil {
		s.jar.Forget()
	}
}

func (c *Commands) adminSide() (*adminSide, error) {
	cfg := c.runtime.Config
	mode := cfg.Server.Auth
	if mode == "" {
		mode = constants.SessionAuth
	}
	cl, jar, err := c.client(cfg.Server.URL, constants.AdminScope, mode)
	if err != nil {
		return nil, err
	}
	a := api.NewAdminAPI(cl)
	auth := session.AdminAuth(a)
	if mode == constants.SecretAuth {
		auth = session.SecretAuth(a)
	}
	sess := session.New(session.Options{
		Auth:     auth,
		Tokens:   cl,
		Identity: constants.AdminScope,
		Logger:   c.logger,
	})
	ctl := admin.New(admin.Options{
		API:          a,
		Session:      sess,
		Status:       c.board,
		PollInterval: c.runtime.PollInterval(),
		Logger:       c.logger,
	})
	return &adminSide{ctl: ctl, jar: jar, secret: mode == constants.SecretAuth}, nil
}

func errNotSignedIn(prefix string) error {
	return fmt.Errorf("not signed in; run `discoverctl %slogin`", prefix)
}

// userCredentials takes the username and secret from the config, prompting
// for whatever is missing.
func (c *Commands) userCredentials() (session.Credentials, error) {
	creds := session.Credentials{
		Username: c.runtime.Config.User.Username,
		Secret:   c.runtime.Config.User.Secret,
	}
	var err error
	if creds.Username == "" {
		if creds.Username, err = c.prompt("username", false); err != nil {
			return creds, err
		}
	}
	if creds.Secret == "" {
		if creds.Secret, err = c.prompt("password", true); err != nil {
			return creds, err
		}
	}
	return creds, nil
}

func (c *Commands) adminSecret() (string, error) {
	if s := c.runtime.Config.Admin.Secret; s != "" {
		return s, nil
	}
	return c.prompt("admin secret", true)
}

// openUser recovers the user session, signing in with configured
// credentials when both are present.
func (c *Commands) openUser(ctx context.Context) (*userSide, error) {
	side, err := c.userSide()
	if err != nil {
		return nil, err
	}
	if err := side.ctl.Init(ctx); err != nil {
		side.ctl.Dispose()
		return nil, err
	}
	if side.ctl.Session().Authenticated() {
		return side, nil
	}
	u := c.runtime.Config.User
	if u.Username == "" || u.Secret == "" {
		side.ctl.Dispose()
		return nil, errNotSignedIn("")
	}
	if err := side.ctl.Login(ctx, session.Credentials{Username: u.Username, Secret: u.Secret}); err != nil {
		side.ctl.Dispose()
		return nil, err
	}
	return side, nil
}

// openAdmin is openUser for the admin console. In secret mode nothing is
// persisted, so the configured secret signs in on every run.
func (c *Commands) openAdmin(ctx context.Context) (*adminSide, error) {
	side, err := c.adminSide()
	if err != nil {
		return nil, err
	}
	if err := side.ctl.Init(ctx); err != nil {
		side.ctl.Dispose()
		return nil, err
	}
	if side.ctl.Session().Authenticated() {
		return side, nil
	}
	secret := c.runtime.Config.Admin.Secret
	if !side.secret || secret == "" {
		side.ctl.Dispose()
		return nil, errNotSignedIn("admin ")
	}
	if err := side.ctl.Login(ctx, secret); err != nil {
		side.ctl.Dispose()
		return nil, err
	}
	return side, nil
}

// ShowConfig prints the effective configuration with secrets masked.
func (c *Commands) ShowConfig() error {
	cfg := *c.runtime.Config
	cfg.User.Secret = mask(cfg.User.Secret)
	cfg.Admin.Secret = mask(cfg.Admin.Secret)
	if cfg.Miniflux != nil {
		mf := *cfg.Miniflux
		mf.APIKey = mask(mf.APIKey)
		cfg.Miniflux = &mf
	}
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("commands.ShowConfig: %w", err)
	}
	fmt.Fprintf(c.out, "# %s\n%s", c.runtime.ConfigPath, out)
	return nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
