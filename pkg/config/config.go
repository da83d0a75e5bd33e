package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
	"github.com/odvcencio/sagecell/pkg/logging"
)

// Default configuration values exported for documentation and validation
const (
	DefaultServerURL     = "https://sagecell.sagemath.org/"
	DefaultHTMLMode      = HTMLModeFrame
	DefaultLogLevel      = "info"
	DefaultEventsSubject = "sagecell.cell"
	DefaultServeAddr     = "127.0.0.1:8080"
	DefaultRenderRate    = 1.0
)

// HTML fragment handling modes.
const (
	// HTMLModeFrame embeds interactive fragments as framed sub-documents.
	HTMLModeFrame = "frame"
	// HTMLModeInline injects fragments into the output region, sanitized unless HTML.Unsafe.
	HTMLModeInline = "inline"
)

// Config represents the complete sagecell configuration
type Config struct {
	ServerURL        string        `yaml:"server_url"`
	DisplayByDefault bool          `yaml:"display_by_default"`
	HTML             HTMLConfig    `yaml:"html"`
	Logging          LoggingConfig `yaml:"logging"`
	Events           EventsConfig  `yaml:"events"`
	Serve            ServeConfig   `yaml:"serve"`
}

// HTMLConfig controls how display_data html fragments are rendered.
type HTMLConfig struct {
	Mode   string `yaml:"mode"`   // frame | inline
	Unsafe bool   `yaml:"unsafe"` // opt-in raw injection for inline mode
}

// LoggingConfig controls the JSONL event logger.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// EventsConfig configures the cell-event bus. An empty NATSURL selects the in-memory bus.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ServeConfig configures the live preview server.
type ServeConfig struct {
	Addr       string  `yaml:"addr"`
	RenderRate float64 `yaml:"render_rate"` // re-renders per second
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:        DefaultServerURL,
		DisplayByDefault: true,
		HTML: HTMLConfig{
			Mode: DefaultHTMLMode,
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join(DefaultConfigDir(), "logs"),
			Level: DefaultLogLevel,
		},
		Events: EventsConfig{
			Subject: DefaultEventsSubject,
		},
		Serve: ServeConfig{
			Addr:       DefaultServeAddr,
			RenderRate: DefaultRenderRate,
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load user config (~/.sagecell/config.yaml)
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".sagecell", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, sageerrors.Wrap(err, sageerrors.ErrCodeConfigLoad, "loading user config").
				WithContext("path", userConfigPath)
		}
	}

	// Load project config (./.sagecell/config.yaml)
	projectConfigPath := filepath.Join(".", ".sagecell", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, sageerrors.Wrap(err, sageerrors.ErrCodeConfigLoad, "loading project config").
			WithContext("path", projectConfigPath)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, sageerrors.Wrap(err, sageerrors.ErrCodeConfigLoad, "loading config").
			WithContext("path", path)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SAGECELL_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if val, ok := envBool("SAGECELL_DISPLAY_BY_DEFAULT"); ok {
		cfg.DisplayByDefault = val
	}
	if v := os.Getenv("SAGECELL_HTML_MODE"); v != "" {
		cfg.HTML.Mode = v
	}
	if val, ok := envBool("SAGECELL_HTML_UNSAFE"); ok {
		cfg.HTML.Unsafe = val
	}
	if v := os.Getenv("SAGECELL_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("SAGECELL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SAGECELL_NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := os.Getenv("SAGECELL_SERVE_ADDR"); v != "" {
		cfg.Serve.Addr = v
	}
}

// normalize trims values and appends the trailing slash server_url requires.
func (c *Config) normalize() {
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	if c.ServerURL != "" && !strings.HasSuffix(c.ServerURL, "/") {
		c.ServerURL += "/"
	}
	c.HTML.Mode = strings.ToLower(strings.TrimSpace(c.HTML.Mode))
	if c.HTML.Mode == "" {
		c.HTML.Mode = DefaultHTMLMode
	}
	c.Logging.Dir = expandHomeDir(c.Logging.Dir)
	if strings.TrimSpace(c.Events.Subject) == "" {
		c.Events.Subject = DefaultEventsSubject
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if err := ValidateServerURL(c.ServerURL); err != nil {
		return err
	}

	switch c.HTML.Mode {
	case HTMLModeFrame, HTMLModeInline:
	default:
		return sageerrors.New(sageerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid html mode: %s (valid: frame, inline)", c.HTML.Mode))
	}

	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		return sageerrors.New(sageerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level))
	}

	if c.Serve.RenderRate < 0 {
		return sageerrors.New(sageerrors.ErrCodeConfigInvalid, "serve.render_rate must not be negative")
	}
	if addr := strings.TrimSpace(c.Serve.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return sageerrors.Wrap(err, sageerrors.ErrCodeConfigInvalid, "invalid serve.addr").
				WithContext("addr", addr)
		}
	}
	return nil
}

// ValidateServerURL requires an absolute http(s) URL ending in "/".
func ValidateServerURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return sageerrors.New(sageerrors.ErrCodeConfigInvalid, "server_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return sageerrors.Wrap(err, sageerrors.ErrCodeConfigInvalid, "invalid server_url").
			WithContext("server_url", raw)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return sageerrors.New(sageerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("server_url must be an absolute http(s) URL: %s", raw))
	}
	if !strings.HasSuffix(u.Path, "/") {
		return sageerrors.New(sageerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("server_url must end in '/': %s", raw))
	}
	return nil
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
