// Package config loads retrace settings and turns them into a ready
// Dispatcher.
//
// Settings are layered: Default, then an optional YAML file, then RETRACE_
// environment variables. The result is checked against an embedded CUE
// schema before use.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RETRACE_"

// Modes.
const (
	ModePassthrough = "passthrough"
	ModeRecord      = "record"
	ModeReplay      = "replay"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendCBOR   = "cbor"
	BackendSQLite = "sqlite"
)

//go:embed schema.cue
var schemaSource string

// Config selects a mode and the trace storage behind it.
type Config struct {
	// Mode is passthrough, record or replay.
	Mode string `yaml:"mode" json:"mode" env:"MODE"`

	// Backend is memory, cbor or sqlite.
	Backend string `yaml:"backend" json:"backend" env:"BACKEND"`

	// Path is the CBOR file or SQLite database. Required unless Backend is
	// memory.
	Path string `yaml:"path" json:"path" env:"PATH"`

	// TraceID selects the SQLite trace to replay.
	TraceID string `yaml:"trace_id" json:"trace_id" env:"TRACE_ID"`

	// TraceName names a recorded SQLite trace. When replaying without a
	// TraceID, the newest trace with this name is used.
	TraceName string `yaml:"trace_name" json:"trace_name" env:"TRACE_NAME"`

	// StallWarning enables replay stall warnings. Zero disables them.
	StallWarning time.Duration `yaml:"stall_warning" json:"stall_warning" env:"STALL_WARNING"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`

	// CollisionCheck reports distinct labels that share a call id.
	CollisionCheck bool `yaml:"collision_check" json:"collision_check" env:"COLLISION_CHECK"`
}

// Default returns the passthrough configuration.
func Default() Config {
	return Config{
		Mode:     ModePassthrough,
		Backend:  BackendMemory,
		LogLevel: "info",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("load config: parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Level returns the slog level for LogLevel.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Logger returns a text logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.Level()}))
}
