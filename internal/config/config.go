// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/jeranaias/innerguide/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete innerguide configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Inference endpoint configuration
	Inference InferenceConfig `toml:"inference" json:"inference"`

	// Session identity (user ID and credential) for this install
	Session SessionConfig `toml:"session" json:"session"`

	// Persistence gateway configuration
	Storage StorageConfig `toml:"storage" json:"storage"`

	// History hydration configuration
	History HistoryConfig `toml:"history" json:"history"`

	// Logging configuration
	Log LogConfig `toml:"log" json:"log"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`
}

// InferenceConfig contains the chat endpoint configuration.
type InferenceConfig struct {
	// URL is the full URL of the streaming chat function
	URL string `toml:"url" json:"url"`
	// APIKey is used as bearer credential when the session has none
	APIKey string `toml:"api_key" json:"api_key"`
	// Model is forwarded to the endpoint when set
	Model string `toml:"model" json:"model"`
	// RequestsPerMinute throttles sends client-side (0 = unlimited)
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute"`
}

// SessionConfig identifies the signed-in user.
type SessionConfig struct {
	// UserID scopes persisted turns. Empty means nothing is persisted.
	UserID string `toml:"user_id" json:"user_id"`
	// AccessToken is the user's session credential for the chat endpoint
	AccessToken string `toml:"access_token" json:"access_token"`
}

// StorageConfig selects and configures the persistence gateway.
type StorageConfig struct {
	// Driver is one of: sqlite, postgres, mysql, bolt, file, memory
	Driver string `toml:"driver" json:"driver"`
	// DSN is the connection string for postgres and mysql
	DSN string `toml:"dsn" json:"dsn"`
	// Path is the database file (sqlite, bolt) or directory (file)
	Path string `toml:"path" json:"path"`
	// PersistTimeoutSecs bounds each background write
	PersistTimeoutSecs int `toml:"persist_timeout_secs" json:"persist_timeout_secs"`
}

// PersistTimeout returns PersistTimeoutSecs as a duration.
func (s StorageConfig) PersistTimeout() time.Duration {
	return time.Duration(s.PersistTimeoutSecs) * time.Second
}

// HistoryConfig controls transcript hydration.
type HistoryConfig struct {
	// Limit is how many of the most recent turns are loaded on start
	Limit int `toml:"limit" json:"limit"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error, disabled
	Level string `toml:"level" json:"level"`
	// Format is "auto" (console on a terminal, JSON otherwise), "console" or "json"
	Format string `toml:"format" json:"format"`
	// File receives log output instead of stderr when set
	File string `toml:"file" json:"file"`
}

// UIConfig contains terminal presentation settings.
type UIConfig struct {
	// Markdown renders finished answers with glamour on a terminal
	Markdown bool `toml:"markdown" json:"markdown"`
	// Theme is the glamour style: auto, dark, light, notty
	Theme string `toml:"theme" json:"theme"`
	// Width wraps rendered markdown (0 = terminal width)
	Width int `toml:"width" json:"width"`
}

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverBolt     = "bolt"
	DriverFile     = "file"
	DriverMemory   = "memory"
)

// MaxHistoryLimit caps [history] limit.
const MaxHistoryLimit = 1000

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1",

		Inference: InferenceConfig{
			RequestsPerMinute: 0, // unlimited
		},

		Storage: StorageConfig{
			Driver:             DriverSQLite,
			PersistTimeoutSecs: 10,
		},

		History: HistoryConfig{
			Limit: 50,
		},

		Log: LogConfig{
			Level:  "warn",
			Format: "auto",
		},

		UI: UIConfig{
			Markdown: true,
			Theme:    "auto",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the innerguide configuration directory path.
// INNERGUIDE_HOME overrides the default ~/.innerguide.
func ConfigDir() (string, error) {
	if dir := os.Getenv("INNERGUIDE_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".innerguide"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultStoragePath returns the default data location for a file-backed driver.
func DefaultStoragePath(driver string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	switch driver {
	case DriverSQLite:
		return filepath.Join(dir, "chat.db"), nil
	case DriverBolt:
		return filepath.Join(dir, "chat.bolt"), nil
	case DriverFile:
		return filepath.Join(dir, "turns"), nil
	}
	return "", nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect credentials.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from path, or from the default TOML location when
// path is empty. A missing file yields the defaults. .env files are loaded
// before environment overrides are applied.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPathTOML()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if strings.HasSuffix(path, ".json") {
			err = LoadJSON(cfg, path)
		} else {
			err = LoadTOML(cfg, path)
		}
		if err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := LoadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()

	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file into cfg.
// SECURITY: Checks and fixes file permissions on load.
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
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON loads configuration from a JSON file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadDotEnv loads ".env" from the working directory and from dir, without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(dir string) error {
	candidates := []string{".env"}
	if dir != "" {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}

	var files []string
	seen := make(map[string]bool)
	for _, c := range candidates {
		abs, err := filepath.Abs(c)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			files = append(files, abs)
		}
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// SetDefaults fills in any missing values with defaults and resolves the
// default data path for file-backed storage drivers.
func (c *Config) SetDefaults() error {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = defaults.Storage.Driver
	}
	if c.Storage.PersistTimeoutSecs == 0 {
		c.Storage.PersistTimeoutSecs = defaults.Storage.PersistTimeoutSecs
	}
	if c.Storage.Path == "" {
		path, err := DefaultStoragePath(c.Storage.Driver)
		if err != nil {
			return err
		}
		c.Storage.Path = path
	}
	if c.History.Limit == 0 {
		c.History.Limit = defaults.History.Limit
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
	return nil
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

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# innerguide configuration file\n")
	buf.WriteString("# Generated by innerguide - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
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
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Inference
	if c.Inference.URL != "" {
		u, err := url.Parse(c.Inference.URL)
		switch {
		case err != nil:
			errs = append(errs, ValidationError{Field: "inference.url", Message: fmt.Sprintf("invalid URL: %v", err)})
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, ValidationError{Field: "inference.url", Message: "scheme must be http or https"})
		case u.Host == "":
			errs = append(errs, ValidationError{Field: "inference.url", Message: "missing host"})
		}
	}
	if c.Inference.RequestsPerMinute < 0 {
		errs = append(errs, ValidationError{Field: "inference.requests_per_minute", Message: "cannot be negative"})
	}

	// Storage
	switch c.Storage.Driver {
	case DriverSQLite, DriverBolt, DriverFile:
		if c.Storage.Path == "" {
			errs = append(errs, ValidationError{Field: "storage.path", Message: "required for driver " + c.Storage.Driver})
		}
	case DriverPostgres, DriverMySQL:
		if c.Storage.DSN == "" {
			errs = append(errs, ValidationError{Field: "storage.dsn", Message: "required for driver " + c.Storage.Driver})
		}
	case DriverMemory:
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("invalid driver '%s', must be one of: sqlite, postgres, mysql, bolt, file, memory", c.Storage.Driver),
		})
	}
	if c.Storage.PersistTimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "storage.persist_timeout_secs", Message: "cannot be negative"})
	}

	// History
	if c.History.Limit < 1 || c.History.Limit > MaxHistoryLimit {
		errs = append(errs, ValidationError{
			Field:   "history.limit",
			Message: fmt.Sprintf("must be between 1 and %d", MaxHistoryLimit),
		})
	}

	// Log
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		errs = append(errs, ValidationError{Field: "log.level", Message: fmt.Sprintf("invalid level '%s'", c.Log.Level)})
	}
	validFormats := map[string]bool{"auto": true, "console": true, "json": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: auto, console, json", c.Log.Format),
		})
	}

	// UI
	validThemes := map[string]bool{"auto": true, "dark": true, "light": true, "notty": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: auto, dark, light, notty", c.UI.Theme),
		})
	}
	if c.UI.Width < 0 {
		errs = append(errs, ValidationError{Field: "ui.width", Message: "cannot be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies INNERGUIDE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("INNERGUIDE_URL"); v != "" {
		c.Inference.URL = v
	}
	if v := os.Getenv("INNERGUIDE_API_KEY"); v != "" {
		c.Inference.APIKey = v
	}
	if v := os.Getenv("INNERGUIDE_MODEL"); v != "" {
		c.Inference.Model = v
	}
	if v := os.Getenv("INNERGUIDE_USER_ID"); v != "" {
		c.Session.UserID = v
	}
	if v := os.Getenv("INNERGUIDE_ACCESS_TOKEN"); v != "" {
		c.Session.AccessToken = v
	}
	if v := os.Getenv("INNERGUIDE_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("INNERGUIDE_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("INNERGUIDE_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("INNERGUIDE_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.History.Limit = n
		}
	}
	if v := os.Getenv("INNERGUIDE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("INNERGUIDE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "history.limit").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "storage.driver").
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the struct along the toml tag names in key.
func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if key == "" || len(parts) == 0 {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	name = strings.ReplaceAll(strings.ToLower(name), "-", "_")
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tomlName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tomlName(f reflect.StructField) string {
	tag, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	if tag == "" {
		return strings.ToLower(f.Name)
	}
	return tag
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
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
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				boolVal = strings.EqualFold(strVal, "yes")
			}
			field.SetBool(boolVal)
			return nil
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
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := prefix + tomlName(f)
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, name+".")
				continue
			}
			keys = append(keys, name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config for debugging.
// SECURITY: Redacts credentials so the output is safe to log or display.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Inference.APIKey != "" {
		safe.Inference.APIKey = "[REDACTED]"
	}
	if safe.Session.AccessToken != "" {
		safe.Session.AccessToken = "[REDACTED]"
	}
	if safe.Storage.DSN != "" {
		safe.Storage.DSN = redactDSN(safe.Storage.DSN)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		data, _ := json.MarshalIndent(safe, "", "  ")
		return string(data)
	}
	return buf.String()
}

// redactDSN hides the password of a URL-style DSN. Other DSN forms are
// redacted entirely.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[REDACTED]"
	}
	return u.Redacted()
}
