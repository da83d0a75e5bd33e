package config

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestMergeConfigs_BoolsOnlyWhenPresent(t *testing.T) {
	base := DefaultConfig()
	data := []byte("html:\n  mode: inline\n")

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}

	mergeConfigs(base, &override, raw)

	if !base.DisplayByDefault {
		t.Error("absent display_by_default must not reset the default")
	}
	if base.HTML.Mode != HTMLModeInline {
		t.Errorf("HTML.Mode = %q, want inline", base.HTML.Mode)
	}
}

func TestBoolFieldSet(t *testing.T) {
	raw := map[string]any{
		"html": map[string]any{"unsafe": false},
		"flag": true,
	}
	if !boolFieldSet(raw, "html", "unsafe") {
		t.Error("nested key should be found")
	}
	if !boolFieldSet(raw, "flag") {
		t.Error("top-level key should be found")
	}
	if boolFieldSet(raw, "html", "mode") {
		t.Error("missing nested key should not be found")
	}
	if boolFieldSet(raw, "flag", "deeper") {
		t.Error("walking through a scalar should fail")
	}
	if boolFieldSet(nil, "flag") {
		t.Error("nil map should report false")
	}
}

func TestNormalize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServerURL = "  https://example.org/sage  "
	cfg.HTML.Mode = " FRAME "
	cfg.Events.Subject = ""
	cfg.normalize()

	if cfg.ServerURL != "https://example.org/sage/" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.HTML.Mode != HTMLModeFrame {
		t.Errorf("HTML.Mode = %q", cfg.HTML.Mode)
	}
	if cfg.Events.Subject != DefaultEventsSubject {
		t.Errorf("Events.Subject = %q", cfg.Events.Subject)
	}
}
