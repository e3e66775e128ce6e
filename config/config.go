// Package config holds the relay settings and loads them from defaults, an
// optional config file, PROMPTRELAY_* environment variables and command flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/richinsley/promptrelay/graphapi"
)

// EnvPrefix is prepended to every environment variable, e.g. PROMPTRELAY_ENGINE_BASE_URL
const EnvPrefix = "PROMPTRELAY"

type Config struct {
	Listen   string         `mapstructure:"listen"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Template TemplateConfig `mapstructure:"template"`
	Log      LogConfig      `mapstructure:"log"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

type EngineConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TemplateConfig selects the workflow template and the inputs that receive
// the per-request values. An empty Path means the built-in workflow.
type TemplateConfig struct {
	Path      string             `mapstructure:"path"`
	Integrity string             `mapstructure:"integrity"`
	Positive  graphapi.NodeInput `mapstructure:"positive"`
	Negative  graphapi.NodeInput `mapstructure:"negative"`
	Seed      graphapi.NodeInput `mapstructure:"seed"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Defaults returns the settings used when nothing else is configured
func Defaults() Config {
	targets := graphapi.DefaultPromptTargets()
	return Config{
		Listen: "0.0.0.0:8001",
		Engine: EngineConfig{
			BaseURL: "http://127.0.0.1:8188",
			Timeout: 30 * time.Second,
		},
		Template: TemplateConfig{
			Integrity: string(graphapi.IntegrityStrict),
			Positive:  targets.Positive,
			Negative:  targets.Negative,
			Seed:      targets.Seed,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
	}
}

// SetDefaults registers every key with v so that environment variables can
// override keys that appear in no config file
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("listen", d.Listen)
	v.SetDefault("engine.base_url", d.Engine.BaseURL)
	v.SetDefault("engine.timeout", d.Engine.Timeout)
	v.SetDefault("template.path", d.Template.Path)
	v.SetDefault("template.integrity", d.Template.Integrity)
	v.SetDefault("template.positive.node", d.Template.Positive.NodeID)
	v.SetDefault("template.positive.input", d.Template.Positive.Input)
	v.SetDefault("template.negative.node", d.Template.Negative.NodeID)
	v.SetDefault("template.negative.input", d.Template.Negative.Input)
	v.SetDefault("template.seed.node", d.Template.Seed.NodeID)
	v.SetDefault("template.seed.input", d.Template.Seed.Input)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("cors.allow_origins", d.CORS.AllowOrigins)
}

// Load reads the given .env files (missing ones are skipped), the config file
// set on v if any, and the environment, then decodes and validates the result.
// Values already in the process environment win over .env entries.
func Load(v *viper.Viper, envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
		slog.Debug("loaded environment file", "path", f)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	// env values arrive as one comma separated string
	cfg.CORS.AllowOrigins = splitList(strings.Join(cfg.CORS.AllowOrigins, ","))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once
func (c Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	}

	if u, err := url.Parse(c.Engine.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("engine.base_url: %w", err))
	} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("engine.base_url: %q is not an http(s) URL", c.Engine.BaseURL))
	}
	if c.Engine.Timeout < 0 {
		errs = append(errs, fmt.Errorf("engine.timeout: must not be negative, got %s", c.Engine.Timeout))
	}

	if _, err := graphapi.ParseIntegrityMode(c.Template.Integrity); err != nil {
		errs = append(errs, fmt.Errorf("template.integrity: %w", err))
	}
	for _, t := range []struct {
		key    string
		target graphapi.NodeInput
	}{
		{"template.positive", c.Template.Positive},
		{"template.negative", c.Template.Negative},
		{"template.seed", c.Template.Seed},
	} {
		if t.target.NodeID == "" || t.target.Input == "" {
			errs = append(errs, fmt.Errorf("%s: node and input are required", t.key))
		}
	}

	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q (want text or json)", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Targets returns the configured prompt targets
func (c Config) Targets() graphapi.PromptTargets {
	return graphapi.PromptTargets{
		Positive: c.Template.Positive,
		Negative: c.Template.Negative,
		Seed:     c.Template.Seed,
	}
}

// IntegrityMode returns the configured integrity mode, strict when unset
func (c Config) IntegrityMode() graphapi.IntegrityMode {
	mode, err := graphapi.ParseIntegrityMode(c.Template.Integrity)
	if err != nil {
		return graphapi.IntegrityStrict
	}
	return mode
}

// ParseLogLevel maps debug, info, warn and error onto slog levels
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	retv := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			retv = append(retv, p)
		}
	}
	return retv
}
