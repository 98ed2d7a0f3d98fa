// Package config loads the YAML configuration shared by the judge commands.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fujudge/internal/common/cache"
	"fujudge/internal/common/mq"
	"fujudge/internal/common/storage"
	"fujudge/internal/judge/sandbox/compiler"
	"fujudge/internal/judge/sandbox/observer"
	"fujudge/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 2 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultQueueWait       = 2 * time.Second
	defaultStatusTTL       = 24 * time.Hour
	defaultStatusTimeout   = 2 * time.Second
	defaultFinalTopic      = "judge.status.final"
	defaultCheckerName     = "lines"
	defaultMetricsPath     = "/metrics"
	defaultMetricsNS       = "fujudge"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// JudgeConfig holds judge work settings.
type JudgeConfig struct {
	WorkRoot       string        `yaml:"workRoot"`
	Concurrency    int           `yaml:"concurrency"`
	MaxRuns        int           `yaml:"maxRuns"`
	QueueWait      time.Duration `yaml:"queueWait"`
	SampleInterval time.Duration `yaml:"sampleInterval"`
	MemoryMetric   string        `yaml:"memoryMetric"`
	KillOnTimeout  *bool         `yaml:"killOnTimeout"`
}

// ShouldKillOnTimeout reports whether over-time programs are killed. Defaults to true.
func (j JudgeConfig) ShouldKillOnTimeout() bool {
	return j.KillOnTimeout == nil || *j.KillOnTimeout
}

// CheckerConfig selects the default checker. The default "lines" ignores
// trailing whitespace and reports token-only differences as ACCEPTABLE; use
// "exact" when any byte difference must be WRONG_ANSWER.
type CheckerConfig struct {
	Dir  string `yaml:"dir"`
	Name string `yaml:"name"`
}

// CompilerConfig holds the toolchain used for source submissions.
type CompilerConfig struct {
	Command      string        `yaml:"command"`
	OutputOption string        `yaml:"outputOption"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Build returns the configured compiler, or nil when no command is set.
func (c CompilerConfig) Build() (*compiler.Compiler, error) {
	if strings.TrimSpace(c.Command) == "" {
		return nil, nil
	}
	cc, err := compiler.ParseCommand(c.Command, c.OutputOption)
	if err != nil {
		return nil, err
	}
	cc.Timeout = c.Timeout
	return cc, nil
}

// KafkaConfig holds Kafka producer settings.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// ToMQConfig converts to the producer config.
func (k KafkaConfig) ToMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

// FixtureConfig holds the fixture cache settings.
type FixtureConfig struct {
	CacheRoot string        `yaml:"cacheRoot"`
	LockTTL   time.Duration `yaml:"lockTTL"`
	LockWait  time.Duration `yaml:"lockWait"`
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	Timeout    time.Duration `yaml:"timeout"`
	FinalTopic string        `yaml:"finalTopic"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// IsEnabled reports whether metrics are exported. Defaults to true.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Config is the judge configuration.
type Config struct {
	Logger   logger.Config       `yaml:"logger"`
	Judge    JudgeConfig         `yaml:"judge"`
	Checker  CheckerConfig       `yaml:"checker"`
	Compiler CompilerConfig      `yaml:"compiler"`
	Server   ServerConfig        `yaml:"server"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    KafkaConfig         `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Fixture  FixtureConfig       `yaml:"fixture"`
	Status   StatusConfig        `yaml:"status"`
	Metrics  MetricsConfig       `yaml:"metrics"`
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// MinIOEnabled reports whether an object storage endpoint is configured.
func (c *Config) MinIOEnabled() bool {
	return c.MinIO.Endpoint != ""
}

// Load reads path and fills defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultHTTPAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = defaultIdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaultShutdownTimeout
	}

	if c.Judge.WorkRoot == "" {
		c.Judge.WorkRoot = filepath.Join(os.TempDir(), "fujudge", "work")
	}
	if c.Judge.Concurrency <= 0 {
		c.Judge.Concurrency = 1
	}
	if c.Judge.MaxRuns <= 0 {
		c.Judge.MaxRuns = 1
	}
	if c.Judge.QueueWait == 0 {
		c.Judge.QueueWait = defaultQueueWait
	}
	if c.Judge.MemoryMetric == "" {
		c.Judge.MemoryMetric = string(observer.MetricRSS)
	}

	if c.Checker.Name == "" {
		c.Checker.Name = defaultCheckerName
	}

	if c.Fixture.CacheRoot == "" {
		c.Fixture.CacheRoot = filepath.Join(os.TempDir(), "fujudge", "fixtures")
	}

	if c.RedisEnabled() {
		applyRedisDefaults(&c.Redis)
	}

	if c.Status.TTL == 0 {
		c.Status.TTL = defaultStatusTTL
	}
	if c.Status.Timeout == 0 {
		c.Status.Timeout = defaultStatusTimeout
	}
	if c.Status.FinalTopic == "" {
		c.Status.FinalTopic = defaultFinalTopic
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaultMetricsNS
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
}

func (c *Config) validate() error {
	switch observer.MemoryMetric(c.Judge.MemoryMetric) {
	case observer.MetricRSS, observer.MetricVMS:
	default:
		return fmt.Errorf("judge.memoryMetric must be rss or vms, got %q", c.Judge.MemoryMetric)
	}
	if c.Judge.SampleInterval < 0 {
		return fmt.Errorf("judge.sampleInterval must not be negative")
	}
	if c.Compression() < 0 {
		return fmt.Errorf("kafka.compression %q is not supported", c.Kafka.Compression)
	}
	if c.MinIOEnabled() && (c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "") {
		return fmt.Errorf("minio accessKey and secretKey are required")
	}
	return nil
}

// Compression returns the configured kafka codec, or -1 when the name is unknown.
func (c *Config) Compression() kafka.Compression {
	switch strings.ToLower(c.Kafka.Compression) {
	case "", "none":
		return kafka.Compression(0)
	}
	if codec := parseCompression(c.Kafka.Compression); codec != 0 {
		return codec
	}
	return -1
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
