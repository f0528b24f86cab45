// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/casedesk/internal/editor"
	"github.com/jeranaias/casedesk/internal/sse"
	"github.com/jeranaias/casedesk/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete casedesk configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Functions FunctionsConfig `toml:"functions" json:"functions"`
	Providers ProvidersConfig `toml:"providers" json:"providers"`
	Server    ServerConfig    `toml:"server" json:"server"`
	Tasks     TasksConfig     `toml:"tasks" json:"tasks"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
	UI        UIConfig        `toml:"ui" json:"ui"`
}

// FunctionsConfig is the client side of the function endpoints.
type FunctionsConfig struct {
	// BaseURL is the function gateway, e.g. http://127.0.0.1:8787
	BaseURL string `toml:"base_url" json:"base_url"`
	// APIKey is sent as a bearer token and as the apikey header
	APIKey string `toml:"api_key" json:"api_key"`
	// TimeoutSecs bounds non-streaming calls
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// Dialects overrides the stream dialect per endpoint ("generic" or "vercel-ai-sdk")
	Dialects map[string]string `toml:"dialects" json:"dialects,omitempty"`
	// ConflictPolicy decides what a streamed insert does after a concurrent
	// edit: "insert" or "reject"
	ConflictPolicy string `toml:"conflict_policy" json:"conflict_policy"`
}

// ProviderConfig configures one upstream model API.
type ProviderConfig struct {
	APIKey      string `toml:"api_key" json:"api_key"`
	BaseURL     string `toml:"base_url" json:"base_url,omitempty"`
	Model       string `toml:"model" json:"model"`
	MaxRetries  int    `toml:"max_retries" json:"max_retries"`
	TimeoutSecs int    `toml:"timeout_secs" json:"timeout_secs"`
}

// ProvidersConfig selects and configures the model providers.
type ProvidersConfig struct {
	// Default serves every endpoint except research: "openai" or "anthropic"
	Default string `toml:"default" json:"default"`
	// Research serves the research endpoint: "perplexity", "openai" or "anthropic"
	Research string `toml:"research" json:"research"`

	OpenAI     ProviderConfig `toml:"openai" json:"openai"`
	Perplexity ProviderConfig `toml:"perplexity" json:"perplexity"`
	Anthropic  ProviderConfig `toml:"anthropic" json:"anthropic"`
}

// ServerConfig configures the function server.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`
	// AuthToken, when set, is required as a bearer token or apikey header
	AuthToken   string   `toml:"auth_token" json:"auth_token"`
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`
	// RateLimit is requests per second per client (0 disables limiting)
	RateLimit    float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst    int     `toml:"rate_burst" json:"rate_burst"`
	MaxBodyBytes int64   `toml:"max_body_bytes" json:"max_body_bytes"`
}

// TasksConfig configures the background task registry.
type TasksConfig struct {
	// ExpirySecs is how long a finished task stays visible
	ExpirySecs      int `toml:"expiry_secs" json:"expiry_secs"`
	SweepIntervalMs int `toml:"sweep_interval_ms" json:"sweep_interval_ms"`
	MaxConcurrent   int `toml:"max_concurrent" json:"max_concurrent"`
	// TimeoutSecs bounds a single task (0 = unbounded)
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	// DataDir holds the database and uploaded files (empty = ~/.casedesk/data)
	DataDir string `toml:"data_dir" json:"data_dir"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level overrides the environment level: trace, debug, info or error
	Level string `toml:"level" json:"level"`
}

// UIConfig configures terminal output.
type UIConfig struct {
	// MarkdownStyle is a glamour style name: auto, dark, light, notty
	MarkdownStyle string `toml:"markdown_style" json:"markdown_style"`
	// ShowStatus prints the task status line on stderr
	ShowStatus bool `toml:"show_status" json:"show_status"`
	// Width wraps rendered markdown (0 = terminal width)
	Width int `toml:"width" json:"width"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Functions: FunctionsConfig{
			BaseURL:        "http://127.0.0.1:8787",
			TimeoutSecs:    60,
			ConflictPolicy: editor.ConflictInsertAtOffset.String(),
		},
		Providers: ProvidersConfig{
			Default:  "openai",
			Research: "perplexity",
			OpenAI: ProviderConfig{
				Model:       "gpt-4o-mini",
				MaxRetries:  2,
				TimeoutSecs: 120,
			},
			Perplexity: ProviderConfig{
				BaseURL:     "https://api.perplexity.ai",
				Model:       "sonar",
				MaxRetries:  2,
				TimeoutSecs: 120,
			},
			Anthropic: ProviderConfig{
				BaseURL:     "https://api.anthropic.com",
				Model:       "claude-sonnet-4-5",
				MaxRetries:  3,
				TimeoutSecs: 120,
			},
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8787",
			CORSOrigins:  []string{"http://localhost:3000"},
			RateLimit:    5,
			RateBurst:    10,
			MaxBodyBytes: 1 << 20,
		},
		Tasks: TasksConfig{
			ExpirySecs:      5,
			SweepIntervalMs: 500,
			MaxConcurrent:   4,
		},
		UI: UIConfig{
			MarkdownStyle: "auto",
			ShowStatus:    true,
		},
	}
}

// Durations.

// FunctionTimeout returns the non-streaming call timeout.
func (c *Config) FunctionTimeout() time.Duration {
	return time.Duration(c.Functions.TimeoutSecs) * time.Second
}

// TaskExpiry returns how long finished tasks stay visible.
func (c *Config) TaskExpiry() time.Duration {
	return time.Duration(c.Tasks.ExpirySecs) * time.Second
}

// TaskTimeout bounds a single background task; zero means unbounded.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Tasks.TimeoutSecs) * time.Second
}

// SweepInterval returns the task sweeper period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Tasks.SweepIntervalMs) * time.Millisecond
}

// Timeout returns the provider request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the casedesk configuration directory. CASEDESK_HOME
// overrides the default ~/.casedesk.
func ConfigDir() (string, error) {
	if dir := os.Getenv("CASEDESK_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".casedesk"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DataDir returns the configured data directory or the default under
// ConfigDir.
func (c *Config) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// ensureSecurePermissions narrows config file permissions to 0600, since the
// file holds API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config directory, trying TOML then
// JSON and falling back to defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file, layered over the
// defaults, with environment overrides and validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills zero values that must not stay zero.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Functions.TimeoutSecs == 0 {
		c.Functions.TimeoutSecs = d.Functions.TimeoutSecs
	}
	if c.Functions.ConflictPolicy == "" {
		c.Functions.ConflictPolicy = d.Functions.ConflictPolicy
	}
	if c.Providers.Default == "" {
		c.Providers.Default = d.Providers.Default
	}
	if c.Providers.Research == "" {
		c.Providers.Research = d.Providers.Research
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst == 0 {
		c.Server.RateBurst = max(1, int(c.Server.RateLimit))
	}
	if c.Tasks.ExpirySecs == 0 {
		c.Tasks.ExpirySecs = d.Tasks.ExpirySecs
	}
	if c.Tasks.SweepIntervalMs == 0 {
		c.Tasks.SweepIntervalMs = d.Tasks.SweepIntervalMs
	}
	if c.Tasks.MaxConcurrent == 0 {
		c.Tasks.MaxConcurrent = d.Tasks.MaxConcurrent
	}
	if c.UI.MarkdownStyle == "" {
		c.UI.MarkdownStyle = d.UI.MarkdownStyle
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# casedesk configuration file\n")
	buf.WriteString("# Generated by casedesk - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0o600, 0o700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as indented JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, data, 0o600, 0o700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var (
	validProviders = []string{"openai", "anthropic"}
	validResearch  = []string{"perplexity", "openai", "anthropic"}
	validLevels    = []string{"", "trace", "debug", "info", "error"}
	validStyles    = []string{"auto", "dark", "light", "notty", "ascii", "dracula", "pink", "tokyo-night"}
)

// Validate checks the configuration and returns ValidateErrors describing
// every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if err := validateURL(c.Functions.BaseURL); err != nil {
		add("functions.base_url", "%v", err)
	}
	if c.Functions.TimeoutSecs < 0 {
		add("functions.timeout_secs", "must not be negative")
	}
	for _, name := range slices.Sorted(maps.Keys(c.Functions.Dialects)) {
		if _, err := sse.ParseDialect(c.Functions.Dialects[name]); err != nil {
			add("functions.dialects."+name, "%v", err)
		}
	}
	if _, err := editor.ParseConflictPolicy(c.Functions.ConflictPolicy); err != nil {
		add("functions.conflict_policy", "%v", err)
	}

	if !slices.Contains(validProviders, c.Providers.Default) {
		add("providers.default", "invalid provider %q, must be one of: %s", c.Providers.Default, strings.Join(validProviders, ", "))
	}
	if !slices.Contains(validResearch, c.Providers.Research) {
		add("providers.research", "invalid provider %q, must be one of: %s", c.Providers.Research, strings.Join(validResearch, ", "))
	}
	for name, p := range map[string]ProviderConfig{
		"openai":     c.Providers.OpenAI,
		"perplexity": c.Providers.Perplexity,
		"anthropic":  c.Providers.Anthropic,
	} {
		if p.BaseURL != "" {
			if err := validateURL(p.BaseURL); err != nil {
				add("providers."+name+".base_url", "%v", err)
			}
		}
		if p.MaxRetries < 0 || p.MaxRetries > 10 {
			add("providers."+name+".max_retries", "must be between 0 and 10")
		}
		if p.TimeoutSecs < 0 {
			add("providers."+name+".timeout_secs", "must not be negative")
		}
	}

	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.MaxBodyBytes < 1024 {
		add("server.max_body_bytes", "must be at least 1024")
	}
	for _, origin := range c.Server.CORSOrigins {
		if origin == "*" {
			continue
		}
		if err := validateURL(origin); err != nil {
			add("server.cors_origins", "%q: %v", origin, err)
		}
	}

	if c.Tasks.ExpirySecs < 0 {
		add("tasks.expiry_secs", "must not be negative")
	}
	if c.Tasks.SweepIntervalMs < 10 {
		add("tasks.sweep_interval_ms", "must be at least 10")
	}
	if c.Tasks.MaxConcurrent < 1 || c.Tasks.MaxConcurrent > 64 {
		add("tasks.max_concurrent", "must be between 1 and 64")
	}
	if c.Tasks.TimeoutSecs < 0 {
		add("tasks.timeout_secs", "must not be negative")
	}

	if !slices.Contains(validLevels, strings.ToLower(c.Logging.Level)) {
		add("logging.level", "invalid level %q, must be one of: trace, debug, info, error", c.Logging.Level)
	}
	if !slices.Contains(validStyles, c.UI.MarkdownStyle) {
		add("ui.markdown_style", "invalid style %q", c.UI.MarkdownStyle)
	}
	if c.UI.Width < 0 {
		add("ui.width", "must not be negative")
	}

	if len(errs) > 0 {
		slices.SortFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies CASEDESK_* environment variables, and the
// conventional provider key variables when no key is configured:
//   - CASEDESK_FUNCTIONS_URL, CASEDESK_FUNCTIONS_KEY
//   - CASEDESK_OPENAI_KEY (or OPENAI_API_KEY)
//   - CASEDESK_PERPLEXITY_KEY (or PERPLEXITY_API_KEY)
//   - CASEDESK_ANTHROPIC_KEY (or ANTHROPIC_API_KEY)
//   - CASEDESK_PROVIDER: overrides providers.default
//   - CASEDESK_ADDR, CASEDESK_AUTH_TOKEN
//   - CASEDESK_DATA_DIR, CASEDESK_LOG_LEVEL
func (c *Config) ApplyEnvOverrides() {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&c.Functions.BaseURL, "CASEDESK_FUNCTIONS_URL")
	setString(&c.Functions.APIKey, "CASEDESK_FUNCTIONS_KEY")
	setString(&c.Providers.Default, "CASEDESK_PROVIDER")
	setString(&c.Server.Addr, "CASEDESK_ADDR")
	setString(&c.Server.AuthToken, "CASEDESK_AUTH_TOKEN")
	setString(&c.Storage.DataDir, "CASEDESK_DATA_DIR")
	setString(&c.Logging.Level, "CASEDESK_LOG_LEVEL")

	setString(&c.Providers.OpenAI.APIKey, "CASEDESK_OPENAI_KEY")
	setString(&c.Providers.Perplexity.APIKey, "CASEDESK_PERPLEXITY_KEY")
	setString(&c.Providers.Anthropic.APIKey, "CASEDESK_ANTHROPIC_KEY")
	if c.Providers.OpenAI.APIKey == "" {
		setString(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	}
	if c.Providers.Perplexity.APIKey == "" {
		setString(&c.Providers.Perplexity.APIKey, "PERPLEXITY_API_KEY")
	}
	if c.Providers.Anthropic.APIKey == "" {
		setString(&c.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "server.addr").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from value with string conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Functions.Dialects = maps.Clone(c.Functions.Dialects)
	clone.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	return &clone
}

// Redacted returns a copy with secrets replaced.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	for _, s := range []*string{
		&safe.Functions.APIKey,
		&safe.Providers.OpenAI.APIKey,
		&safe.Providers.Perplexity.APIKey,
		&safe.Providers.Anthropic.APIKey,
		&safe.Server.AuthToken,
	} {
		if *s != "" {
			*s = "[REDACTED]"
		}
	}
	return safe
}

// String returns the configuration as JSON with secrets redacted.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration, loading it on first access.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal replaces the global configuration.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state between tests.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
