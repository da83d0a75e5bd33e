package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return sageerrors.Wrap(err, sageerrors.ErrCodeConfigParse, "parsing YAML")
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return sageerrors.Wrap(err, sageerrors.ErrCodeConfigParse, "parsing YAML")
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Booleans only override when the
// key is present in the file, so an omitted key keeps its default.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if strings.TrimSpace(override.ServerURL) != "" {
		base.ServerURL = override.ServerURL
	}
	if boolFieldSet(raw, "display_by_default") {
		base.DisplayByDefault = override.DisplayByDefault
	}

	if override.HTML.Mode != "" {
		base.HTML.Mode = override.HTML.Mode
	}
	if boolFieldSet(raw, "html", "unsafe") {
		base.HTML.Unsafe = override.HTML.Unsafe
	}

	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Events.NATSURL != "" {
		base.Events.NATSURL = override.Events.NATSURL
	}
	if override.Events.Subject != "" {
		base.Events.Subject = override.Events.Subject
	}

	if override.Serve.Addr != "" {
		base.Serve.Addr = override.Serve.Addr
	}
	if boolFieldSet(raw, "serve", "render_rate") {
		base.Serve.RenderRate = override.Serve.RenderRate
	}
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
