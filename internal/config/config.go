package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log         LogConfig        `mapstructure:"log"`
	HTTP        HTTPConfig       `mapstructure:"http"`
	Redis       RedisConfig      `mapstructure:"redis"`
	ClickHouse  DatabaseConfig   `mapstructure:"clickhouse"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Credentials CredentialConfig `mapstructure:"credentials"`
	Sweeper     SweeperConfig    `mapstructure:"sweeper"`
	Admin       AdminConfig      `mapstructure:"admin"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	Events      EventsConfig     `mapstructure:"events"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

func (c DatabaseConfig) Enabled() bool { return strings.TrimSpace(c.DSN) != "" }

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"` // -1 disables client retries
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 && c.Topic != "" }

type CredentialConfig struct {
	KeyPrefix   string        `mapstructure:"key_prefix"`
	ExpiryGrace time.Duration `mapstructure:"expiry_grace"`
	DefaultTerm string        `mapstructure:"default_term"`
	SeedID      string        `mapstructure:"seed_id"`
}

type SweeperConfig struct {
	StartupDelay   time.Duration `mapstructure:"startup_delay"`
	DailyAt        string        `mapstructure:"daily_at"` // HH:MM, local time
	Interval       time.Duration `mapstructure:"interval"`
	ExpiringWithin time.Duration `mapstructure:"expiring_within"`
}

type AdminConfig struct {
	MasterKey      string        `mapstructure:"master_key"`
	AllowedIPs     []string      `mapstructure:"allowed_ips"`
	FailedAttempts int           `mapstructure:"failed_attempts"`
	Window         time.Duration `mapstructure:"window"`
	Lockout        time.Duration `mapstructure:"lockout"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type EventsConfig struct {
	BufferSize int           `mapstructure:"buffer_size"`
	BatchSize  int           `mapstructure:"batch_size"`
	BatchWait  time.Duration `mapstructure:"batch_wait"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (KEYGATE_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (KEYGATE_REDIS_ADDR, KEYGATE_ADMIN_MASTER_KEY, ...)
	v.SetEnvPrefix("KEYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
