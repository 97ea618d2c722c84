package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	envPrefix     = "LINKLOG"
	envConfigPath = "LINKLOG_CONFIG"
)

const (
	DefaultURLRegex       = `(https?://[^\s<>|]+)`
	DefaultURLLogDB       = "$HOME/linklog/data/urllog.db"
	DefaultConfigPath     = "$HOME/linklog/config/linklog.json"
	DefaultInsertTimeout  = 5 * time.Second
	DefaultHealthInterval = 30 * time.Second
	DefaultStatusHost     = "127.0.0.1"
	DefaultStatusPort     = 18790
)

// Config is the root runtime configuration loaded once at startup.
type Config struct {
	URLRegex   string            `mapstructure:"url_regex"  validate:"required"`
	URLLogDB   string            `mapstructure:"url_log_db" validate:"required"`
	Workspaces []WorkspaceConfig `mapstructure:"workspaces" validate:"unique=Name,dive"`
	Store      StoreConfig       `mapstructure:"store"`
	Status     StatusConfig      `mapstructure:"status"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// WorkspaceConfig holds the credentials of one Slack workspace.
type WorkspaceConfig struct {
	Name        string `mapstructure:"name"         validate:"required"`
	APIToken    string `mapstructure:"api_token"    validate:"required"`
	SocketToken string `mapstructure:"socket_token" validate:"required,startswith=xapp-"`
}

// StoreConfig tunes how the URL log store is used.
type StoreConfig struct {
	InsertTimeout  time.Duration `mapstructure:"insert_timeout"  validate:"gte=0"`
	HealthInterval time.Duration `mapstructure:"health_interval" validate:"gte=0"`
}

// StatusConfig configures the optional HTTP status server.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `mapstructure:"format"     validate:"omitempty,oneof=text json"`
	Level     string `mapstructure:"level"      validate:"omitempty,oneof=trace debug info warn warning error"`
	AddSource bool   `mapstructure:"add_source"`
}

// Load resolves the config file, applies defaults and LINKLOG_* environment
// overrides, expands path references and validates the result.
//
// An empty path falls back to LINKLOG_CONFIG and then the default locations.
func Load(path string) (*Config, error) {
	configPath, err := findConfigPath(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.URLLogDB = ExpandPath(cfg.URLLogDB)
	for i := range cfg.Workspaces {
		cfg.Workspaces[i].Name = strings.TrimSpace(cfg.Workspaces[i].Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration record. A configuration without
// workspaces is valid.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			return fmt.Errorf("invalid config: %s", describe(invalid))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// WorkspaceNames lists configured workspace names in config order.
func (c *Config) WorkspaceNames() []string {
	names := make([]string, 0, len(c.Workspaces))
	for _, ws := range c.Workspaces {
		names = append(names, ws.Name)
	}
	return names
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("url_regex", DefaultURLRegex)
	v.SetDefault("url_log_db", DefaultURLLogDB)
	v.SetDefault("store.insert_timeout", DefaultInsertTimeout)
	v.SetDefault("store.health_interval", DefaultHealthInterval)
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.host", DefaultStatusHost)
	v.SetDefault("status.port", DefaultStatusPort)
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.add_source", false)
}

func describe(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// ExpandPath expands a leading ~ and $VAR / ${VAR} references.
func ExpandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}

	return os.ExpandEnv(path)
}

// findConfigPath resolves the active config file location.
//
// Precedence is the explicit path, then LINKLOG_CONFIG, then the per-user
// default and finally ./config.json.
func findConfigPath(explicit string) (string, error) {
	if value := ExpandPath(explicit); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("config path does not point to a file: %s", value)
	}

	if value := ExpandPath(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		ExpandPath(DefaultConfigPath),
		filepath.Join(cwd, "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config file not found (checked %s and %s)", candidates[0], candidates[1])
}
