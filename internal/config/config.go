package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable of the relief daemon.
type Config struct {
	HTTPAddr  string          `toml:"http_addr"`
	GRPCAddr  string          `toml:"grpc_addr"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Auth      AuthConfig      `toml:"auth"`
	Admission AdmissionConfig `toml:"admission"`
	Audit     AuditConfig     `toml:"audit"`
	HTTP      HTTPConfig      `toml:"http"`
	Notify    NotifyConfig    `toml:"notify"`
}

// DatabaseConfig configures the Postgres connection. An empty DSN selects the in-memory stores.
type DatabaseConfig struct {
	DSN          string   `toml:"dsn"`
	LockTimeout  Duration `toml:"lock_timeout"`
	MaxOpenConns int      `toml:"max_open_conns"`
}

// RedisConfig configures the shared admission counter store. An empty Addr keeps counters in process.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// AuthConfig describes how bearer tokens from the identity service are verified.
type AuthConfig struct {
	Secret string `toml:"secret"`
	Issuer string `toml:"issuer"`
}

// PolicyConfig is one admission window.
type PolicyConfig struct {
	Window Duration `toml:"window"`
	Max    int64    `toml:"max"`
}

// AdmissionConfig configures the three admission policies and overload
// shedding. A zero max_in_flight or max_heap_mb disables that check.
type AdmissionConfig struct {
	FailOpen    bool         `toml:"fail_open"`
	BypassRole  string       `toml:"bypass_role"`
	General     PolicyConfig `toml:"general"`
	Auth        PolicyConfig `toml:"auth"`
	Assistant   PolicyConfig `toml:"assistant"`
	MaxInFlight int64        `toml:"max_in_flight"`
	MaxHeapMB   int64        `toml:"max_heap_mb"`
	ShedRetry   Duration     `toml:"shed_retry"`
}

// AuditConfig tunes the asynchronous audit writer.
type AuditConfig struct {
	QueueSize    int      `toml:"queue_size"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// HTTPConfig holds HTTP surface settings.
type HTTPConfig struct {
	MaxBodyBytes   int64    `toml:"max_body_bytes"`
	AllowedOrigins []string `toml:"allowed_origins"`
	TrustForwarded bool     `toml:"trust_forwarded"`
}

// NotifyConfig tunes the push channel.
type NotifyConfig struct {
	SubscriberBuffer int `toml:"subscriber_buffer"`
}

// Duration decodes TOML strings such as "120s".
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
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Database: DatabaseConfig{
			LockTimeout:  Duration{3 * time.Second},
			MaxOpenConns: 50,
		},
		Auth: AuthConfig{Issuer: "relief-identity"},
		Admission: AdmissionConfig{
			BypassRole:  "authority",
			General:     PolicyConfig{Window: Duration{2 * time.Minute}, Max: 100},
			Auth:        PolicyConfig{Window: Duration{time.Minute}, Max: 10},
			Assistant:   PolicyConfig{Window: Duration{time.Hour}, Max: 20},
			MaxInFlight: 1024,
			MaxHeapMB:   500,
			ShedRetry:   Duration{30 * time.Second},
		},
		Audit: AuditConfig{
			QueueSize:    1024,
			WriteTimeout: Duration{2 * time.Second},
		},
		HTTP: HTTPConfig{
			MaxBodyBytes: 1 << 20,
		},
		Notify: NotifyConfig{SubscriberBuffer: 32},
	}
}

// Load reads defaults, then the optional TOML file at path, then RELIEF_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("RELIEF_HTTP_ADDR", &cfg.HTTPAddr)
	str("RELIEF_GRPC_ADDR", &cfg.GRPCAddr)
	str("RELIEF_PG_DSN", &cfg.Database.DSN)
	str("RELIEF_REDIS_ADDR", &cfg.Redis.Addr)
	str("RELIEF_REDIS_PASSWORD", &cfg.Redis.Password)
	str("RELIEF_AUTH_SECRET", &cfg.Auth.Secret)
	str("RELIEF_AUTH_ISSUER", &cfg.Auth.Issuer)

	if v, ok := lookup("RELIEF_LOCK_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RELIEF_LOCK_TIMEOUT: %w", err)
		}
		cfg.Database.LockTimeout = Duration{d}
	}
	if v, ok := lookup("RELIEF_ADMISSION_FAIL_OPEN"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RELIEF_ADMISSION_FAIL_OPEN: %w", err)
		}
		cfg.Admission.FailOpen = b
	}
	for key, dst := range map[string]*int64{
		"RELIEF_MAX_IN_FLIGHT": &cfg.Admission.MaxInFlight,
		"RELIEF_MAX_HEAP_MB":   &cfg.Admission.MaxHeapMB,
	} {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	if v, ok := lookup("RELIEF_ALLOWED_ORIGINS"); ok && v != "" {
		cfg.HTTP.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.HTTP.AllowedOrigins = append(cfg.HTTP.AllowedOrigins, o)
			}
		}
	}
	return nil
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.Database.LockTimeout.Duration < 0 {
		errs = append(errs, errors.New("database.lock_timeout must not be negative"))
	}
	for name, p := range map[string]PolicyConfig{
		"general":   c.Admission.General,
		"auth":      c.Admission.Auth,
		"assistant": c.Admission.Assistant,
	} {
		if p.Window.Duration <= 0 {
			errs = append(errs, fmt.Errorf("admission.%s.window must be positive", name))
		}
		if p.Max <= 0 {
			errs = append(errs, fmt.Errorf("admission.%s.max must be positive", name))
		}
	}
	if c.Admission.MaxInFlight < 0 || c.Admission.MaxHeapMB < 0 {
		errs = append(errs, errors.New("admission.max_in_flight and admission.max_heap_mb must not be negative"))
	}
	if c.Audit.QueueSize <= 0 {
		errs = append(errs, errors.New("audit.queue_size must be positive"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	return errors.Join(errs...)
}
