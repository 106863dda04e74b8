package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config captures configuration values for the booking service.
type Config struct {
	HTTPPort          int           `yaml:"http_port"`
	SQLiteDSN         string        `yaml:"sqlite_dsn"`
	MigrationsEnabled bool          `yaml:"migrations_enabled"`
	Timezone          string        `yaml:"timezone"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
	ListWindow        time.Duration `yaml:"list_window"`
	MaxSeriesSpan     time.Duration `yaml:"max_series_span"`
	RateLimit         float64       `yaml:"rate_limit"`
	RateBurst         int           `yaml:"rate_burst"`
	LogLevel          string        `yaml:"log_level"`

	// Location and Level are resolved from Timezone and LogLevel.
	Location *time.Location `yaml:"-"`
	Level    slog.Level     `yaml:"-"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTPPort:          8080,
		SQLiteDSN:         "booking.db",
		MigrationsEnabled: true,
		Timezone:          "Asia/Tokyo",
		LockTimeout:       5 * time.Second,
		ListWindow:        30 * 24 * time.Hour,
		MaxSeriesSpan:     2 * 365 * 24 * time.Hour,
		RateLimit:         10,
		RateBurst:         20,
		LogLevel:          "info",
	}
}

// Load builds the configuration from an optional YAML file named by
// BOOKING_CONFIG_FILE, overridden by BOOKING_* environment variables.
//
// Errors are reported with localized messages naming the offending keys.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("BOOKING_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("設定ファイルを読み込めません: %s: %w", path, err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("設定ファイルの形式が不正です: %s: %w", path, err)
		}
	}

	invalid := make([]string, 0, 2)
	env := envReader{invalid: &invalid}

	env.readInt("BOOKING_HTTP_PORT", &cfg.HTTPPort)
	env.readString("BOOKING_SQLITE_DSN", &cfg.SQLiteDSN)
	env.readBool("BOOKING_MIGRATIONS_ENABLED", &cfg.MigrationsEnabled)
	env.readString("BOOKING_TIMEZONE", &cfg.Timezone)
	env.readDuration("BOOKING_LOCK_TIMEOUT", &cfg.LockTimeout)
	env.readDuration("BOOKING_LIST_WINDOW", &cfg.ListWindow)
	env.readDuration("BOOKING_MAX_SERIES_SPAN", &cfg.MaxSeriesSpan)
	env.readFloat("BOOKING_RATE_LIMIT", &cfg.RateLimit)
	env.readInt("BOOKING_RATE_BURST", &cfg.RateBurst)
	env.readString("BOOKING_LOG_LEVEL", &cfg.LogLevel)

	invalid = append(invalid, cfg.resolve()...)
	if strings.TrimSpace(cfg.SQLiteDSN) == "" {
		return Config{}, fmt.Errorf("必須の設定値が設定されていません: %s", "BOOKING_SQLITE_DSN")
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(dedupe(invalid), ", "))
	}

	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// resolve validates ranges and fills Location and Level, returning the
// environment keys whose values are unusable.
func (cfg *Config) resolve() []string {
	var invalid []string

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		invalid = append(invalid, "BOOKING_HTTP_PORT")
	}
	if cfg.LockTimeout <= 0 {
		invalid = append(invalid, "BOOKING_LOCK_TIMEOUT")
	}
	if cfg.ListWindow <= 0 {
		invalid = append(invalid, "BOOKING_LIST_WINDOW")
	}
	if cfg.MaxSeriesSpan < 0 {
		invalid = append(invalid, "BOOKING_MAX_SERIES_SPAN")
	}
	if cfg.RateLimit < 0 {
		invalid = append(invalid, "BOOKING_RATE_LIMIT")
	}
	if cfg.RateBurst < 0 || (cfg.RateLimit > 0 && cfg.RateBurst == 0) {
		invalid = append(invalid, "BOOKING_RATE_BURST")
	}

	loc, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone))
	if err != nil || strings.TrimSpace(cfg.Timezone) == "" {
		invalid = append(invalid, "BOOKING_TIMEZONE")
	} else {
		cfg.Location = loc
	}

	if err := cfg.Level.UnmarshalText([]byte(strings.TrimSpace(cfg.LogLevel))); err != nil {
		invalid = append(invalid, "BOOKING_LOG_LEVEL")
	}

	return invalid
}

type envReader struct {
	invalid *[]string
}

func (r envReader) lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (r envReader) fail(key string) {
	*r.invalid = append(*r.invalid, key)
}

func (r envReader) readString(key string, dst *string) {
	if value, ok := r.lookup(key); ok {
		*dst = value
	}
}

func (r envReader) readInt(key string, dst *int) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key)
		return
	}
	*dst = parsed
}

func (r envReader) readFloat(key string, dst *float64) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.fail(key)
		return
	}
	*dst = parsed
}

func (r envReader) readBool(key string, dst *bool) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.fail(key)
		return
	}
	*dst = parsed
}

func (r envReader) readDuration(key string, dst *time.Duration) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.fail(key)
		return
	}
	*dst = parsed
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
