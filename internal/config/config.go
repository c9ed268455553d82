// Package config loads service settings from defaults, an optional TOML file
// and TELLERLINE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/bcrypt"
)

const (
	envPrefix = "TELLERLINE_"
	envFile   = envPrefix + "CONFIG"
)

// Duration decodes TOML strings such as "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	PGDSN          string   `toml:"pg_dsn"`
	HTTPAddr       string   `toml:"http_addr"`
	GRPCAddr       string   `toml:"grpc_addr"`
	LogLevel       string   `toml:"log_level"`
	MigrateOnStart bool     `toml:"migrate_on_start"`
	Auth           Auth     `toml:"auth"`
	RateLimit      Rate     `toml:"rate_limit"`
	ShutdownGrace  Duration `toml:"shutdown_grace"`
}

type Auth struct {
	AssertionSecret string   `toml:"assertion_secret"`
	AssertionTTL    Duration `toml:"assertion_ttl"`
	BcryptCost      int      `toml:"bcrypt_cost"`
}

type Rate struct {
	PerSecond float64 `toml:"per_second"`
	Burst     int     `toml:"burst"`
}

// Default returns settings suitable for local development.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		LogLevel: "info",
		Auth: Auth{
			AssertionTTL: Duration{15 * time.Minute},
			BcryptCost:   bcrypt.DefaultCost,
		},
		RateLimit: Rate{
			PerSecond: 20,
			Burst:     40,
		},
		ShutdownGrace: Duration{10 * time.Second},
	}
}

// Load reads TELLERLINE_CONFIG (if set) and the process environment.
func Load() (Config, error) {
	return LoadWith(os.LookupEnv)
}

// LoadWith is Load with an injectable environment lookup.
func LoadWith(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path, ok := lookup(envFile); ok && strings.TrimSpace(path) != "" {
		if err := LoadTOML(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadTOML overlays the file at path onto cfg. Undefined keys are rejected.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overrides fields from TELLERLINE_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get("PG_DSN"); ok {
		c.PGDSN = v
	}
	if v, ok := get("HTTP_ADDR"); ok {
		c.HTTPAddr = v
	}
	if v, ok := get("GRPC_ADDR"); ok {
		c.GRPCAddr = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("ASSERTION_SECRET"); ok {
		c.Auth.AssertionSecret = v
	}

	var errList []error
	if v, ok := get("ASSERTION_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errList = append(errList, fmt.Errorf("%sASSERTION_TTL: %w", envPrefix, err))
		}
		c.Auth.AssertionTTL = Duration{d}
	}
	if v, ok := get("MIGRATE_ON_START"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errList = append(errList, fmt.Errorf("%sMIGRATE_ON_START: %w", envPrefix, err))
		}
		c.MigrateOnStart = b
	}
	if v, ok := get("BCRYPT_COST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errList = append(errList, fmt.Errorf("%sBCRYPT_COST: %w", envPrefix, err))
		}
		c.Auth.BcryptCost = n
	}
	if v, ok := get("RATE_PER_SEC"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errList = append(errList, fmt.Errorf("%sRATE_PER_SEC: %w", envPrefix, err))
		}
		c.RateLimit.PerSecond = f
	}
	if v, ok := get("RATE_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errList = append(errList, fmt.Errorf("%sRATE_BURST: %w", envPrefix, err))
		}
		c.RateLimit.Burst = n
	}
	return errors.Join(errList...)
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidateErrors collects every failed check.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var out ValidateErrors
	if strings.TrimSpace(c.HTTPAddr) == "" {
		out = append(out, ValidationError{"http_addr", "must not be empty"})
	}
	if strings.TrimSpace(c.GRPCAddr) == "" {
		out = append(out, ValidationError{"grpc_addr", "must not be empty"})
	}
	if c.Auth.AssertionTTL.Duration <= 0 {
		out = append(out, ValidationError{"auth.assertion_ttl", "must be positive"})
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		out = append(out, ValidationError{"auth.bcrypt_cost", fmt.Sprintf("must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)})
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		out = append(out, ValidationError{"rate_limit", "must not be negative"})
	}
	if c.ShutdownGrace.Duration < 0 {
		out = append(out, ValidationError{"shutdown_grace", "must not be negative"})
	}
	if len(out) > 0 {
		return out
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.Auth.AssertionSecret != "" {
		c.Auth.AssertionSecret = "[redacted]"
	}
	if c.PGDSN != "" {
		c.PGDSN = "[redacted]"
	}
	return c
}
