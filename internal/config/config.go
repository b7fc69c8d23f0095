// Package config loads the tablesync configuration.
//
// The file is YAML with ${VAR} environment expansion. Values missing from
// the file keep their defaults, and the merged result is checked against an
// embedded CUE schema before anything is built from it.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/segmentio/encoding/json"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tablesync/internal/freshness"
	"github.com/roach88/tablesync/internal/gateway/iss"
	"github.com/roach88/tablesync/internal/table"
	"github.com/roach88/tablesync/internal/tables"
)

//go:embed schema.cue
var schemaSource string

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config is the whole configuration file.
type Config struct {
	Storage  Storage                  `yaml:"storage" json:"storage"`
	Calendar Calendar                 `yaml:"calendar" json:"calendar"`
	ISS      ISS                      `yaml:"iss" json:"iss"`
	Sync     Sync                     `yaml:"sync" json:"sync"`
	Tables   map[string]TableSettings `yaml:"tables" json:"tables,omitempty"`
	Metrics  Metrics                  `yaml:"metrics" json:"metrics"`
	Log      Log                      `yaml:"log" json:"log"`
}

// Storage selects the snapshot store.
type Storage struct {
	Driver   string `yaml:"driver" json:"driver"`
	Path     string `yaml:"path" json:"path"`
	MongoURI string `yaml:"mongo_uri" json:"mongo_uri"`
	MongoDB  string `yaml:"mongo_db" json:"mongo_db"`
}

// Calendar configures the freshness policy.
type Calendar struct {
	Timezone string `yaml:"timezone" json:"timezone"`
	Cutoff   string `yaml:"cutoff" json:"cutoff"`
}

// ISS configures the upstream client.
type ISS struct {
	BaseURL         string  `yaml:"base_url" json:"base_url"`
	Timeout         string  `yaml:"timeout" json:"timeout"`
	Rate            float64 `yaml:"rate" json:"rate"`
	Burst           int     `yaml:"burst" json:"burst"`
	BreakerFailures int     `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerTimeout  string  `yaml:"breaker_timeout" json:"breaker_timeout"`
}

// Sync configures the service and the scheduler.
type Sync struct {
	Workers  int    `yaml:"workers" json:"workers"`
	MaxSteps int    `yaml:"max_steps" json:"max_steps"`
	Interval string `yaml:"interval" json:"interval"`
}

// TableSettings overrides the merge policy of one group.
type TableSettings struct {
	FromScratch bool   `yaml:"from_scratch" json:"from_scratch"`
	Validate    string `yaml:"validate" json:"validate"`
}

// Metrics configures the Prometheus endpoint. An empty address disables it.
type Metrics struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	def := iss.DefaultConfig()
	return &Config{
		Storage: Storage{
			Driver:  DriverSQLite,
			Path:    "tablesync.db",
			MongoDB: "tablesync",
		},
		Calendar: Calendar{
			Timezone: freshness.DefaultTimezone,
			Cutoff:   formatCutoff(freshness.DefaultCutoff),
		},
		ISS: ISS{
			BaseURL:         def.BaseURL,
			Timeout:         def.Timeout.String(),
			Rate:            def.Rate,
			Burst:           def.Burst,
			BreakerFailures: int(def.MaxFailures),
			BreakerTimeout:  def.OpenTimeout.String(),
		},
		Sync: Sync{
			Workers:  4,
			MaxSteps: 10000,
			Interval: "1h",
		},
		Metrics: Metrics{Addr: ":9090"},
		Log:     Log{Level: "info"},
	}
}

// Load reads path over the defaults and validates the result. An empty path
// yields the validated defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks c against the schema.
func (c *Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("build config value: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", details(err))
	}
	return nil
}

// details flattens a CUE error list into one line per problem.
func details(err error) string {
	var lines []string
	for _, e := range cueerrors.Errors(err) {
		var buf bytes.Buffer
		cueerrors.Print(&buf, e, nil)
		lines = append(lines, strings.TrimSpace(buf.String()))
	}
	if len(lines) == 0 {
		return err.Error()
	}
	return strings.Join(lines, "; ")
}

// FreshnessOptions returns the calendar settings as policy options.
func (c *Config) FreshnessOptions() ([]freshness.Option, error) {
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return nil, fmt.Errorf("calendar timezone: %w", err)
	}
	cutoff, err := parseCutoff(c.Calendar.Cutoff)
	if err != nil {
		return nil, err
	}
	return []freshness.Option{freshness.WithLocation(loc), freshness.WithCutoff(cutoff)}, nil
}

// ISSConfig returns the upstream client settings.
func (c *Config) ISSConfig() (iss.Config, error) {
	timeout, err := time.ParseDuration(c.ISS.Timeout)
	if err != nil {
		return iss.Config{}, fmt.Errorf("iss timeout: %w", err)
	}
	openTimeout, err := time.ParseDuration(c.ISS.BreakerTimeout)
	if err != nil {
		return iss.Config{}, fmt.Errorf("iss breaker timeout: %w", err)
	}
	return iss.Config{
		BaseURL:     c.ISS.BaseURL,
		Timeout:     timeout,
		Rate:        c.ISS.Rate,
		Burst:       c.ISS.Burst,
		MaxFailures: uint32(c.ISS.BreakerFailures),
		OpenTimeout: openTimeout,
	}, nil
}

// TableSettings returns the per-group merge settings.
func (c *Config) TableSettings() (map[string]tables.Settings, error) {
	out := make(map[string]tables.Settings, len(c.Tables))
	for group, s := range c.Tables {
		mode, err := table.ParseValidateMode(s.Validate)
		if err != nil {
			return nil, fmt.Errorf("tables.%s: %w", group, err)
		}
		out[group] = tables.Settings{FromScratch: s.FromScratch, Validate: mode}
	}
	return out, nil
}

// SyncInterval is the period of the root update.
func (c *Config) SyncInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Sync.Interval)
	if err != nil {
		return 0, fmt.Errorf("sync interval: %w", err)
	}
	return d, nil
}

// LogLevel returns the configured level, info when unset.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseCutoff(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("calendar cutoff %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func formatCutoff(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
