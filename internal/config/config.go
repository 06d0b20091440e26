package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

const envPrefix = "BIRD_INGESTER_"

type Config struct {
	Service   ServiceConfig         `koanf:"service"`
	Bird      BirdConfig            `koanf:"bird"`
	Kafka     KafkaConfig           `koanf:"kafka"`
	Postgres  PostgresConfig        `koanf:"postgres"`
	Ingest    IngestConfig          `koanf:"ingest"`
	Retention RetentionConfig       `koanf:"retention"`
	Routers   map[string]RouterMeta `koanf:"routers"`
}

// RouterMeta is operator-provided router metadata. Entries are keyed by an
// arbitrary label because router IDs contain the koanf key delimiter.
type RouterMeta struct {
	RouterID string `koanf:"router_id"`
	Name     string `koanf:"name"`
	Location string `koanf:"location"`
}

// RouterMetaFor returns the metadata entry for routerID, if any.
func (c *Config) RouterMetaFor(routerID string) (RouterMeta, bool) {
	for _, m := range c.Routers {
		if m.RouterID == routerID {
			return m, true
		}
	}
	return RouterMeta{}, false
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type BirdConfig struct {
	SocketPath string   `koanf:"socket_path"`
	Tables     []string `koanf:"tables"`
	// RouterID overrides the router ID reported by "show status".
	RouterID             string `koanf:"router_id"`
	PollIntervalSeconds  int    `koanf:"poll_interval_seconds"`
	QueryTimeoutSeconds  int    `koanf:"query_timeout_seconds"`
	MaxReplyBytes        int    `koanf:"max_reply_bytes"`
	MaxConcurrentQueries int    `koanf:"max_concurrent_queries"`
}

func (b BirdConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalSeconds) * time.Second
}

func (b BirdConfig) QueryTimeout() time.Duration {
	return time.Duration(b.QueryTimeoutSeconds) * time.Second
}

type KafkaConfig struct {
	Enabled  bool       `koanf:"enabled"`
	Brokers  []string   `koanf:"brokers"`
	ClientID string     `koanf:"client_id"`
	Topic    string     `koanf:"topic"`
	TLS      TLSConfig  `koanf:"tls"`
	SASL     SASLConfig `koanf:"sasl"`
	LingerMs int        `koanf:"linger_ms"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

type IngestConfig struct {
	BatchSize          int  `koanf:"batch_size"`
	FlushIntervalMs    int  `koanf:"flush_interval_ms"`
	ChannelBufferSize  int  `koanf:"channel_buffer_size"`
	StoreRawReplies    bool `koanf:"store_raw_replies"`
	CompressRawReplies bool `koanf:"compress_raw_replies"`
}

type RetentionConfig struct {
	Days     int    `koanf:"days"`
	Timezone string `koanf:"timezone"`
}

func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "bird-ingester-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Bird: BirdConfig{
			SocketPath:           "/run/bird/bird.ctl",
			PollIntervalSeconds:  30,
			QueryTimeoutSeconds:  20,
			MaxReplyBytes:        64 << 20,
			MaxConcurrentQueries: 2,
		},
		Kafka: KafkaConfig{
			ClientID: "bird-ingester",
			Topic:    "bird.route-events",
			LingerMs: 50,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			MinConns: 1,
		},
		Ingest: IngestConfig{
			BatchSize:          1000,
			FlushIntervalMs:    200,
			ChannelBufferSize:  16,
			StoreRawReplies:    true,
			CompressRawReplies: true,
		},
		Retention: RetentionConfig{
			Days:     30,
			Timezone: "UTC",
		},
	}
}

// Load reads the YAML file at path (optional) and overlays environment
// variables, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// BIRD_INGESTER_BIRD__SOCKET_PATH → bird.socket_path
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	cfg.Kafka.Brokers = splitSingle(cfg.Kafka.Brokers)
	cfg.Bird.Tables = splitSingle(cfg.Bird.Tables)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitSingle(v []string) []string {
	if len(v) == 1 && strings.Contains(v[0], ",") {
		parts := strings.Split(v[0], ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return v
}

func (c *Config) Validate() error {
	if c.Bird.SocketPath == "" {
		return fmt.Errorf("config: bird.socket_path is required")
	}
	if len(c.Bird.Tables) == 0 {
		return fmt.Errorf("config: bird.tables is required")
	}
	if c.Bird.PollIntervalSeconds <= 0 {
		return fmt.Errorf("config: bird.poll_interval_seconds must be > 0 (got %d)", c.Bird.PollIntervalSeconds)
	}
	if c.Bird.QueryTimeoutSeconds <= 0 {
		return fmt.Errorf("config: bird.query_timeout_seconds must be > 0 (got %d)", c.Bird.QueryTimeoutSeconds)
	}
	if c.Bird.QueryTimeoutSeconds > c.Bird.PollIntervalSeconds {
		return fmt.Errorf("config: bird.query_timeout_seconds (%d) exceeds bird.poll_interval_seconds (%d)",
			c.Bird.QueryTimeoutSeconds, c.Bird.PollIntervalSeconds)
	}
	if c.Bird.MaxReplyBytes <= 0 {
		return fmt.Errorf("config: bird.max_reply_bytes must be > 0 (got %d)", c.Bird.MaxReplyBytes)
	}
	if c.Bird.MaxConcurrentQueries <= 0 {
		return fmt.Errorf("config: bird.max_concurrent_queries must be > 0 (got %d)", c.Bird.MaxConcurrentQueries)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka.topic is required when kafka is enabled")
		}
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	if c.Ingest.FlushIntervalMs <= 0 {
		return fmt.Errorf("config: ingest.flush_interval_ms must be > 0 (got %d)", c.Ingest.FlushIntervalMs)
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("config: ingest.batch_size must be > 0 (got %d)", c.Ingest.BatchSize)
	}
	if c.Ingest.ChannelBufferSize <= 0 {
		return fmt.Errorf("config: ingest.channel_buffer_size must be > 0 (got %d)", c.Ingest.ChannelBufferSize)
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("config: retention.days must be > 0 (got %d)", c.Retention.Days)
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
	}
	if c.Postgres.MinConns < 0 {
		return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if _, err := time.LoadLocation(c.Retention.Timezone); err != nil {
		return fmt.Errorf("config: retention.timezone is invalid: %w", err)
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings. Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings. Returns nil if SASL is disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
