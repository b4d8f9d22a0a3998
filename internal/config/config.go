package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	EnvAddr       = "FRAMESOCKET_ADDR"
	EnvMode       = "FRAMESOCKET_MODE"
	EnvAdminAddr  = "FRAMESOCKET_ADMIN_ADDR"
	EnvLogLevel   = "FRAMESOCKET_LOG_LEVEL"
	EnvLogNoColor = "FRAMESOCKET_LOG_NOCOLOR"
)

const (
	ModeRaw  = "raw"
	ModeHTTP = "http"
)

// MaxPayloadLimit is the largest accepted max_payload. Frame buffers are
// allocated at the declared length, so the limit must fit an int on every
// platform.
const MaxPayloadLimit = math.MaxInt32

// Config is the frameserver runtime configuration.
type Config struct {
	Addr           string
	Mode           string
	MaxPayload     uint64
	ChunkSize      int
	MaxRequestSize int
	MaxConns       int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	AdminAddr   string
	CorsOrigins []string

	LogLevel   string
	LogNoColor bool
}

type fileConfig struct {
	Addr            string   `toml:"addr"`
	Mode            string   `toml:"mode"`
	MaxPayload      uint64   `toml:"max_payload"`
	ChunkSize       int      `toml:"chunk_size"`
	MaxRequestSize  int      `toml:"max_request_size"`
	MaxConns        int      `toml:"max_conns"`
	ReadTimeout     string   `toml:"read_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
	AdminAddr       string   `toml:"admin_addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	LogLevel        string   `toml:"log_level"`
	LogNoColor      bool     `toml:"log_nocolor"`
}

// Default returns the built-in configuration: raw mode on :8080 with a
// 1MB payload limit.
func Default() Config {
	return Config{
		Addr:            ":8080",
		Mode:            ModeRaw,
		MaxPayload:      1024 * 1024,
		ChunkSize:       4096,
		MaxRequestSize:  4095,
		MaxConns:        128,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
	}
}

// Load reads a TOML file on top of Default. Keys absent from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("mode") {
		cfg.Mode = strings.ToLower(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("max_payload") {
		cfg.MaxPayload = raw.MaxPayload
	}
	if meta.IsDefined("chunk_size") {
		cfg.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("max_request_size") {
		cfg.MaxRequestSize = raw.MaxRequestSize
	}
	if meta.IsDefined("max_conns") {
		cfg.MaxConns = raw.MaxConns
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"shutdown_timeout", raw.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, errors.Wrapf(err, "parse %s", d.key)
		}
		*d.dst = v
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_nocolor") {
		cfg.LogNoColor = raw.LogNoColor
	}

	return cfg, nil
}

// ApplyEnv overrides cfg from FRAMESOCKET_* environment variables.
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAddr)); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(getenv(EnvMode)); v != "" {
		cfg.Mode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv(EnvAdminAddr)); v != "" {
		cfg.AdminAddr = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(getenv(EnvLogNoColor))); err == nil {
		cfg.LogNoColor = v
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("config: addr is required")
	case c.Mode != ModeRaw && c.Mode != ModeHTTP:
		return errors.Errorf("config: unknown mode %q", c.Mode)
	case c.MaxPayload == 0:
		return errors.New("config: max_payload must be positive")
	case c.MaxPayload > MaxPayloadLimit:
		return errors.Errorf("config: max_payload %d exceeds %d", c.MaxPayload, MaxPayloadLimit)
	case c.ChunkSize <= 0:
		return errors.New("config: chunk_size must be positive")
	case c.MaxRequestSize <= 0:
		return errors.New("config: max_request_size must be positive")
	case c.MaxConns <= 0:
		return errors.New("config: max_conns must be positive")
	case c.ReadTimeout <= 0 || c.WriteTimeout <= 0:
		return errors.New("config: read_timeout and write_timeout must be positive")
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
