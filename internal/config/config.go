package config

import (
	"crypto/tls"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/luxzg/discoverctl/internal/constants"
)

//go:embed default_config.yml
var defaultConfig string

var (
	ErrIncludeLoop        = errors.New("config.Load: include loop detected")
	ErrMissingServerURL   = errors.New("config.Validate: server.url is required for the discover backend")
	ErrMissingMiniflux    = errors.New("config.Validate: miniflux.host and miniflux.api_key are required for the miniflux backend")
	DefaultConfigDirName  = "discoverctl"
	DefaultConfigFileName = "default.yml"
	DefaultLogFileName    = "discoverctl.log"
)

type Server struct {
	URL          string             `yaml:"url" validate:"omitempty,url"`
	Auth         constants.AuthMode `yaml:"auth,omitempty" validate:"omitempty,oneof=session secret"`
	SecretHeader string             `yaml:"secretheader,omitempty"`
	SecretQuery  string             `yaml:"secretquery,omitempty"`
}

type User struct {
	Username string `yaml:"username,omitempty"`
	Secret   string `yaml:"secret,omitempty"`
}

type Admin struct {
	Secret string `yaml:"secret,omitempty"`
}

type MinifluxBackend struct {
	Host   string `yaml:"host" validate:"omitempty,url"`
	APIKey string `yaml:"api_key"`
}

type FeedOptions struct {
	BatchSize int `yaml:"batchsize" validate:"min=1,max=100"`
}

type LogOptions struct {
	File  string `yaml:"file,omitempty"`
	Level string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// Config contains YAML-serializable configuration settings
type Config struct {
	Server       Server             `yaml:"server"`
	User         User               `yaml:"user,omitempty"`
	Admin        Admin              `yaml:"admin,omitempty"`
	Backend      constants.Backend  `yaml:"backend,omitempty" validate:"omitempty,oneof=discover miniflux"`
	Miniflux     *MinifluxBackend   `yaml:"miniflux,omitempty"`
	Feed         FeedOptions        `yaml:"feed"`
	PollInterval int                `yaml:"pollinterval,omitempty" validate:"min=0,max=3600"`
	Timeout      int                `yaml:"timeout,omitempty" validate:"min=0,max=3600"`
	Database     string             `yaml:"database"`
	Ordering     constants.Ordering `yaml:"ordering,omitempty" validate:"omitempty,oneof=asc desc"`
	HTTPOptions  *HTTPOptions       `yaml:"http,omitempty"`
	UserAgent    string             `yaml:"useragent,omitempty"`
	Log          LogOptions         `yaml:"log,omitempty"`
	Include      []string           `yaml:"include,omitempty"`
}

// Runtime contains non-serializable runtime settings and the YAML config
type Runtime struct {
	ConfigPath string
	ConfigDir  string
	Version    string
	Create     bool
	Ephemeral  bool
	Config     *Config
}

func updateConfigPathIfDir(configPath string) string {
	stat, err := os.Stat(configPath)
	if err == nil && stat.IsDir() {
		configPath = filepath.Join(configPath, DefaultConfigFileName)
	}

	return configPath
}

// defaultDatabaseName derives the session database name from the config file path
// For example: "config.yml" -> "config.db", "/path/to/work.yml" -> "work.db"
func defaultDatabaseName(configPath string) string {
	basename := filepath.Base(configPath)
	ext := filepath.Ext(basename)
	if ext != "" {
		basename = basename[:len(basename)-len(ext)]
	}
	return basename + ".db"
}

func getConfigDir() string {
	dir := os.Getenv("DISCOVERCTL_CONFIG_DIR")
	if dir == "" {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			userConfigDir = ""
		}

		dir = filepath.Join(userConfigDir, DefaultConfigDirName)
	}

	return dir
}

func New() *Runtime {
	configDir := getConfigDir()
	configPath := filepath.Join(configDir, DefaultConfigFileName)

	return &Runtime{
		ConfigPath: configPath,
		ConfigDir:  configDir + string(filepath.Separator),
		Config: &Config{
			Server: Server{
				Auth:         constants.SessionAuth,
				SecretHeader: constants.DefaultSecretHeader,
			},
			Backend:      constants.DiscoverBackend,
			Feed:         FeedOptions{BatchSize: constants.DefaultBatchSize},
			PollInterval: int(constants.DefaultPollInterval / time.Second),
			Timeout:      int(constants.DefaultTimeout / time.Second),
			Database:     "", // computed in Load() unless set via WithDatabase()
			Ordering:     constants.DefaultOrdering,
			HTTPOptions: &HTTPOptions{
				MinTLSVersion: tls.VersionName(tls.VersionTLS12),
			},
			Log: LogOptions{Level: "info"},
		},
	}
}

func (r *Runtime) WithConfigPath(configPath string) *Runtime {
	if configPath != "" {
		r.ConfigPath = updateConfigPathIfDir(configPath)
		r.ConfigDir, _ = filepath.Split(r.ConfigPath)
	}
	return r
}

func (r *Runtime) WithConfigDir(configDir string) *Runtime {
	if configDir != "" {
		r.ConfigDir = filepath.Clean(configDir) + string(filepath.Separator)
		r.ConfigPath = filepath.Join(r.ConfigDir, filepath.Base(r.ConfigPath))
	}
	return r
}

// WithConfigName selects a named file inside the config dir; ".yml" is
// appended when the name has no extension.
func (r *Runtime) WithConfigName(name string) *Runtime {
	if name != "" {
		if filepath.Ext(name) == "" {
			name += ".yml"
		}
		r.ConfigPath = filepath.Join(r.ConfigDir, name)
	}
	return r
}

func (r *Runtime) WithVersion(version string) *Runtime {
	r.Version = version
	return r
}

func (r *Runtime) WithCreate(create bool) *Runtime {
	r.Create = create
	return r
}

func (r *Runtime) WithEphemeral(ephemeral bool) *Runtime {
	r.Ephemeral = ephemeral
	return r
}

func (r *Runtime) WithDatabase(database string) *Runtime {
	if database != "" {
		r.Config.Database = database
	}
	return r
}

// DatabasePath resolves the session database relative to the config dir.
func (r *Runtime) DatabasePath() string {
	if filepath.IsAbs(r.Config.Database) {
		return r.Config.Database
	}
	return filepath.Join(r.ConfigDir, r.Config.Database)
}

// LogPath resolves the log file relative to the config dir.
func (r *Runtime) LogPath() string {
	name := r.Config.Log.File
	if name == "" {
		name = DefaultLogFileName
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.ConfigDir, name)
}

func (r *Runtime) PollInterval() time.Duration {
	if r.Config.PollInterval <= 0 {
		return constants.DefaultPollInterval
	}
	return time.Duration(r.Config.PollInterval) * time.Second
}

func (r *Runtime) Timeout() time.Duration {
	if r.Config.Timeout <= 0 {
		return constants.DefaultTimeout
	}
	return time.Duration(r.Config.Timeout) * time.Second
}

// resolveIncludePath resolves an include path relative to the config directory
// if it's not an absolute path
func resolveIncludePath(configDir, includePath string) string {
	if filepath.IsAbs(includePath) {
		return includePath
	}
	return filepath.Join(configDir, includePath)
}

// loadConfigFile loads a single config file and returns the parsed Config
func loadConfigFile(path string) (*Config, error) {
	rawData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.loadConfigFile: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(rawData, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config.loadConfigFile: %w", err)
	}

	return &cfg, nil
}

// loadConfigWithIncludes recursively loads config files with include support
// visited tracks files already loaded to detect include loops
func (r *Runtime) loadConfigWithIncludes(configPath string, visited map[string]bool) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("config.loadConfigWithIncludes: %w", err)
	}

	if visited[absPath] {
		return nil, ErrIncludeLoop
	}
	visited[absPath] = true

	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	// Includes are merged in order, the including file wins
	if len(cfg.Include) > 0 {
		configDir := filepath.Dir(configPath)
		baseConfig := &Config{}

		for _, includePath := range cfg.Include {
			resolvedPath := resolveIncludePath(configDir, includePath)

			includedCfg, err := r.loadConfigWithIncludes(resolvedPath, visited)
			if err != nil {
				return nil, fmt.Errorf("config.loadConfigWithIncludes: error loading %s: %w", includePath, err)
			}

			if err := mergo.Merge(baseConfig, includedCfg, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("config.loadConfigWithIncludes: error merging %s: %w", includePath, err)
			}
		}

		if err := mergo.Merge(baseConfig, cfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("config.loadConfigWithIncludes: error merging base config: %w", err)
		}
		cfg = baseConfig
	}

	return cfg, nil
}

func (r *Runtime) Load() (*Runtime, error) {
	if err := r.setupConfigDir(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	fileConfig, err := r.loadConfigWithIncludes(r.ConfigPath, make(map[string]bool))
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if fileConfig.HTTPOptions != nil && fileConfig.HTTPOptions.MinTLSVersion != "" {
		if _, err := TLSVersion(fileConfig.HTTPOptions.MinTLSVersion); err != nil {
			return nil, err
		}
	}

	existingDatabase := r.Config.Database

	// fileConfig values override r.Config defaults (except values set via With*(), handled below)
	if err := mergo.Merge(r.Config, fileConfig, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config.Load: error merging config: %w", err)
	}

	if existingDatabase != "" {
		r.Config.Database = existingDatabase
	} else if r.Config.Database == "" {
		r.Config.Database = defaultDatabaseName(r.ConfigPath)
	}

	r.applyEnv()

	if err := r.Config.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}

// applyEnv lets a .env file next to the working directory, or the process
// environment, supply the values that should not live in the YAML file.
func (r *Runtime) applyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("DISCOVER_URL"); v != "" {
		r.Config.Server.URL = v
	}
	if v := os.Getenv("DISCOVER_USERNAME"); v != "" {
		r.Config.User.Username = v
	}
	if v := os.Getenv("DISCOVER_USER_SECRET"); v != "" {
		r.Config.User.Secret = v
	}
	if v := os.Getenv("DISCOVER_ADMIN_SECRET"); v != "" {
		r.Config.Admin.Secret = v
	}
	if v := os.Getenv("MINIFLUX_API_KEY"); v != "" {
		if r.Config.Miniflux == nil {
			r.Config.Miniflux = &MinifluxBackend{}
		}
		r.Config.Miniflux.APIKey = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config.Validate: %w", err)
	}

	switch c.Backend {
	case constants.MinifluxBackend:
		if c.Miniflux == nil || c.Miniflux.Host == "" || c.Miniflux.APIKey == "" {
			return ErrMissingMiniflux
		}
		if err := validate.Struct(c.Miniflux); err != nil {
			return fmt.Errorf("config.Validate: %w", err)
		}
	default:
		if strings.TrimSpace(c.Server.URL) == "" {
			return ErrMissingServerURL
		}
	}

	return nil
}

// Write writes to a config file
func (r *Runtime) Write() error {
	str, err := yaml.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("config.Write: %w", err)
	}

	err = os.WriteFile(r.ConfigPath, str, 0600)
	if err != nil {
		return fmt.Errorf("config.Write: %w", err)
	}

	return nil
}

func (r *Runtime) setupConfigDir() error {
	_, err := os.Stat(r.ConfigPath)

	// if configFile exists, do nothing
	if !errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if !r.Create {
		return fmt.Errorf("setupConfigDir: config file does not exist: %s (use --create to create it)", r.ConfigPath)
	}

	// noop if directory exists
	err = os.MkdirAll(r.ConfigDir, 0755)
	if err != nil {
		return fmt.Errorf("setupConfigDir: %w", err)
	}

	// secrets may end up in this file
	err = os.WriteFile(r.ConfigPath, []byte(defaultConfig), 0600)
	if err != nil {
		return fmt.Errorf("setupConfigDir: %w", err)
	}

	return nil
}
