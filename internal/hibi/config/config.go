// Package config loads Hibi settings from defaults, an optional YAML file and
// HIBI_* environment variables, and validates them against an embedded JSON
// Schema.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"

	"github.com/bdobrica/Hibi/common/redact"
	"github.com/bdobrica/Hibi/internal/hibi/llm"
)

// EnvPrefix prefixes every environment override, e.g. HIBI_LLM_API_KEY.
const EnvPrefix = "HIBI"

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://hibi.local/config.schema.json"

// Config is the full settings tree.
type Config struct {
	Log            LogConfig      `mapstructure:"log" json:"log" yaml:"log"`
	Timezone       string         `mapstructure:"timezone" json:"timezone" yaml:"timezone"`
	Database       DatabaseConfig `mapstructure:"database" json:"database" yaml:"database"`
	Matrix         MatrixConfig   `mapstructure:"matrix" json:"matrix" yaml:"matrix"`
	LLM            LLMConfig      `mapstructure:"llm" json:"llm" yaml:"llm"`
	HTTP           HTTPConfig     `mapstructure:"http" json:"http" yaml:"http"`
	Generate       GenerateConfig `mapstructure:"generate" json:"generate" yaml:"generate"`
	SupportContact string         `mapstructure:"support_contact" json:"support_contact" yaml:"support_contact"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" json:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" json:"path" yaml:"path"`
	URL    string `mapstructure:"url" json:"url" yaml:"url"`
}

type MatrixConfig struct {
	Homeserver    string   `mapstructure:"homeserver" json:"homeserver" yaml:"homeserver"`
	UserID        string   `mapstructure:"user_id" json:"user_id" yaml:"user_id"`
	AccessToken   string   `mapstructure:"access_token" json:"access_token" yaml:"access_token"`
	Rooms         []string `mapstructure:"rooms" json:"rooms" yaml:"rooms"`
	AutoJoin      bool     `mapstructure:"auto_join" json:"auto_join" yaml:"auto_join"`
	CommandPrefix string   `mapstructure:"command_prefix" json:"command_prefix" yaml:"command_prefix"`
}

type LLMConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" json:"api_key" yaml:"api_key"`
	Model   string `mapstructure:"model" json:"model" yaml:"model"`
	// Timeout of zero leaves completion calls unbounded.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

type HTTPConfig struct {
	// Addr of the health/metrics listener.  Empty disables it.
	Addr string `mapstructure:"addr" json:"addr" yaml:"addr"`
}

type GenerateConfig struct {
	// RateLimit is the number of /generate calls per user per minute.  Zero
	// disables the limit.
	RateLimit int `mapstructure:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
}

// ErrMatrixNotConfigured is returned by RequireMatrix.
var ErrMatrixNotConfigured = errors.New("config: matrix.homeserver, matrix.user_id and matrix.access_token are required")

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("timezone", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "hibi.db")
	v.SetDefault("database.url", "")
	v.SetDefault("matrix.homeserver", "")
	v.SetDefault("matrix.user_id", "")
	v.SetDefault("matrix.access_token", "")
	v.SetDefault("matrix.rooms", []string{})
	v.SetDefault("matrix.auto_join", true)
	v.SetDefault("matrix.command_prefix", "/")
	v.SetDefault("llm.base_url", llm.DefaultBaseURL)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", llm.DefaultModel)
	v.SetDefault("llm.timeout", "0s")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("generate.rate_limit", 5)
	v.SetDefault("support_contact", "")
}

// Load reads settings.  When path is empty, hibi.yaml is looked up in the
// working directory and /etc/hibi; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hibi")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hibi")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load config schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// Validate checks the settings against the embedded schema and resolves the
// timezone.
func (c *Config) Validate() error {
	s, err := schema()
	if err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// RequireMatrix reports ErrMatrixNotConfigured unless the Matrix credentials
// are present.
func (c *Config) RequireMatrix() error {
	if c.Matrix.Homeserver == "" || c.Matrix.UserID == "" || c.Matrix.AccessToken == "" {
		return ErrMatrixNotConfigured
	}
	return nil
}

// Location returns the zone used for day boundaries: Timezone when set,
// otherwise the server's local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Secrets returns the sensitive values to strip from log output.
func (c *Config) Secrets() []string {
	out := []string{c.LLM.APIKey, c.Matrix.AccessToken}
	if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
		if pw, ok := u.User.Password(); ok {
			out = append(out, pw)
		}
	}
	return out
}

// Redacted returns the settings as a nested map with secrets replaced, for
// display.
func (c *Config) Redacted() (map[string]any, error) {
	cp := *c
	if cp.Database.URL != "" {
		if u, err := url.Parse(cp.Database.URL); err == nil {
			cp.Database.URL = u.Redacted()
		}
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if llmMap, ok := m["llm"].(map[string]any); ok {
		llmMap["timeout"] = c.LLM.Timeout.String()
	}
	return redact.Map(m), nil
}
