// Package config loads application configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the serve command's configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Redis settings. An empty address keeps everything in-process.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Session settings.
	SessionTTL  time.Duration
	LockTimeout time.Duration
	LockTTL     time.Duration

	// Execution settings.
	Workers int

	// Definition sources.
	MachineDir     string
	TemplateDir    string
	WatchTemplates bool

	// Operational settings.
	LogLevel  string
	LogFormat string
}

// Load reads the configuration with sensible defaults. A .env file in the
// working directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	p := parser{}
	cfg := Config{
		Port:           p.intVal("ESPALIER_PORT", 8080),
		ReadTimeout:    p.duration("ESPALIER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   p.duration("ESPALIER_WRITE_TIMEOUT", 30*time.Second),
		RedisAddr:      p.str("REDIS_ADDR", ""),
		RedisPassword:  p.str("REDIS_PASSWORD", ""),
		RedisDB:        p.intVal("REDIS_DB", 0),
		SessionTTL:     p.duration("ESPALIER_SESSION_TTL", 0),
		LockTimeout:    p.duration("ESPALIER_LOCK_TIMEOUT", 10*time.Second),
		LockTTL:        p.duration("ESPALIER_LOCK_TTL", 30*time.Second),
		Workers:        p.intVal("ESPALIER_WORKERS", 4),
		MachineDir:     p.str("ESPALIER_MACHINE_DIR", "machines"),
		TemplateDir:    p.str("ESPALIER_TEMPLATE_DIR", "templates"),
		WatchTemplates: p.boolVal("ESPALIER_WATCH_TEMPLATES", false),
		LogLevel:       p.str("ESPALIER_LOG_LEVEL", "info"),
		LogFormat:      p.str("ESPALIER_LOG_FORMAT", "text"),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("ESPALIER_PORT=%d is out of range", cfg.Port)
	}
	if cfg.Workers <= 0 {
		return Config{}, fmt.Errorf("ESPALIER_WORKERS must be positive, got %d", cfg.Workers)
	}
	return cfg, nil
}

// parser collects the first parse failure so Load can report it once.
type parser struct {
	err error
}

func (p *parser) str(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func (p *parser) intVal(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(fmt.Errorf("%s=%q is not a valid integer", key, v))
		return fallback
	}
	return n
}

func (p *parser) boolVal(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(fmt.Errorf("%s=%q is not a valid boolean", key, v))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(fmt.Errorf("%s=%q is not a valid duration", key, v))
		return fallback
	}
	return d
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
