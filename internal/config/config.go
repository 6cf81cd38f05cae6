// Package config loads the server configuration from TOML and merges the
// settings a client sends over workspace/didChangeConfiguration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/stefanvanburen/solls/internal/analysis"
	"github.com/stefanvanburen/solls/internal/lsp/protocol"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the server configuration.
type Config struct {
	Log        Log        `toml:"log"`
	Validation Validation `toml:"validation"`
	Analyzer   Analyzer   `toml:"analyzer"`
}

// Log configures the process logger.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
	File   string `toml:"file"`   // empty means stderr
}

// Validation configures the validation coordinator.
type Validation struct {
	// Async runs passes off the message loop; a newer pass for a document
	// cancels the older one.
	Async bool `toml:"async"`
	// Concurrency bounds the passes run in parallel by a full revalidation.
	Concurrency int `toml:"concurrency"`
	// MaxDiagnostics truncates each published list; 0 disables the limit.
	MaxDiagnostics int `toml:"max_diagnostics"`
	// ClearOnClose publishes an empty list when a document is closed.
	ClearOnClose bool `toml:"clear_on_close"`
}

// Analyzer selects and configures the analyzers.
type Analyzer struct {
	Source       string   `toml:"source"`
	CELLanguages []string `toml:"cel_languages"`
	// Markers replaces the built-in FIXME marker when non-empty.
	Markers []Marker `toml:"markers"`
}

// Marker configures one word flagged by the marker analyzer.
type Marker struct {
	Word     string `toml:"word" json:"word"`
	Severity string `toml:"severity" json:"severity"`
	Message  string `toml:"message" json:"message"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		Validation: Validation{
			Concurrency:    4,
			MaxDiagnostics: 100,
			ClearOnClose:   true,
		},
		Analyzer: Analyzer{
			Source:       analysis.DefaultSource,
			CELLanguages: []string{"cel"},
		},
	}
}

// Load reads a TOML file on top of the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: %w: unknown keys %s", path, ErrInvalid, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil || c.Log.Level == "" {
		errs = append(errs, fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level))
	}
	if !slices.Contains([]string{"console", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("%w: log.format %q must be console or json", ErrInvalid, c.Log.Format))
	}
	if c.Validation.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("%w: validation.concurrency must be at least 1", ErrInvalid))
	}
	if c.Validation.MaxDiagnostics < 0 {
		errs = append(errs, fmt.Errorf("%w: validation.max_diagnostics must not be negative", ErrInvalid))
	}
	if _, err := Markers(c.Analyzer.Markers); err != nil {
		errs = append(errs, fmt.Errorf("analyzer.markers: %w", err))
	}
	return errors.Join(errs...)
}

// Markers converts configured markers for the marker analyzer. An empty list
// yields analysis.DefaultMarkers.
func Markers(ms []Marker) ([]analysis.Marker, error) {
	if len(ms) == 0 {
		return analysis.DefaultMarkers, nil
	}
	out := make([]analysis.Marker, 0, len(ms))
	for i, m := range ms {
		if m.Word == "" {
			return nil, fmt.Errorf("%w: marker %d has no word", ErrInvalid, i)
		}
		sev := protocol.SeverityError
		if m.Severity != "" {
			var err error
			if sev, err = protocol.ParseSeverity(m.Severity); err != nil {
				return nil, fmt.Errorf("%w: marker %q: %w", ErrInvalid, m.Word, err)
			}
		}
		msg := m.Message
		if msg == "" {
			msg = m.Word + " found"
		}
		out = append(out, analysis.Marker{Word: m.Word, Severity: sev, Message: msg})
	}
	return out, nil
}

// ClientSettings is the part of workspace/didChangeConfiguration settings
// the server understands, found under the "solls" key.
type ClientSettings struct {
	MaxDiagnostics *int     `json:"maxDiagnostics"`
	Markers        []Marker `json:"markers"`
}

// ParseClientSettings extracts ClientSettings from the raw settings value.
// Missing or null settings yield the zero value.
func ParseClientSettings(raw json.RawMessage) (ClientSettings, error) {
	var s ClientSettings
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}
	var wrapper struct {
		Solls *ClientSettings `json:"solls"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return s, fmt.Errorf("decoding client settings: %w", err)
	}
	if wrapper.Solls != nil {
		s = *wrapper.Solls
	}
	return s, nil
}

// Merge returns c with the client settings applied and validated.
func (c Config) Merge(s ClientSettings) (Config, error) {
	if s.MaxDiagnostics != nil {
		c.Validation.MaxDiagnostics = *s.MaxDiagnostics
	}
	if len(s.Markers) > 0 {
		c.Analyzer.Markers = slices.Clone(s.Markers)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
