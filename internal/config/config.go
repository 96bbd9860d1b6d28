package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	ModeREST  = "rest"
	ModeKafka = "kafka"
	ModeMQTT  = "mqtt"
)

type Config struct {
	// Ingestion
	Mode     string
	HTTPPort string

	// Logging
	LogLevel  string
	LogFormat string

	// Stream processor
	Shards              int
	ShardQueueSize      int
	EntityIdleTTL       time.Duration
	EntitySweepInterval time.Duration

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// MQTT
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	// Postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Sink channels
	DBChannelSize    int
	StateChannelSize int
	AlertChannelSize int
	WSChannelSize    int

	// Batch writer tuning
	DBBatchSize       int
	DBFlushIntervalMS int

	// Auth
	AuthRedisLookup     bool
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string
}

func Load() *Config {
	return &Config{
		Mode:                strings.ToLower(getEnv("PROCESSOR_MODE", ModeREST)),
		HTTPPort:            getEnv("PORT", "8001"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "text")),
		Shards:              getEnvInt("PROCESSOR_SHARDS", runtime.NumCPU()),
		ShardQueueSize:      getEnvInt("SHARD_QUEUE_SIZE", 1024),
		EntityIdleTTL:       getEnvDuration("ENTITY_IDLE_TTL", 10*time.Minute),
		EntitySweepInterval: getEnvDuration("ENTITY_SWEEP_INTERVAL", 30*time.Second),
		KafkaBrokers:        splitList(getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "ferrari-telemetry"),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "ferrari-stream-processor"),
		MQTTBroker:          getEnv("MQTT_BROKER", "localhost:1883"),
		MQTTTopic:           getEnv("MQTT_TOPIC", "ferrari/telemetry/+"),
		MQTTClientID:        getEnv("MQTT_CLIENT_ID", "ferrari-stream-processor"),
		DBHost:              getEnv("DB_HOST", ""),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "ferrari"),
		DBPassword:          getEnv("DB_PASSWORD", "ferrari"),
		DBName:              getEnv("DB_NAME", "ferrari_telemetry"),
		DBMaxConns:          int32(getEnvInt("DB_MAX_CONNS", 10)),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		DBChannelSize:       getEnvInt("DB_CHANNEL_SIZE", 10000),
		StateChannelSize:    getEnvInt("STATE_CHANNEL_SIZE", 10000),
		AlertChannelSize:    getEnvInt("ALERT_CHANNEL_SIZE", 1000),
		WSChannelSize:       getEnvInt("WS_CHANNEL_SIZE", 1000),
		DBBatchSize:         getEnvInt("DB_BATCH_SIZE", 500),
		DBFlushIntervalMS:   getEnvInt("DB_FLUSH_INTERVAL_MS", 250),
		AuthRedisLookup:     getEnvBool("AUTH_REDIS_LOOKUP", false),
		AuthCacheTTLSeconds: getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:        splitList(getEnv("VALID_API_KEYS", "")),
	}
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeREST, ModeKafka, ModeMQTT:
	default:
		return fmt.Errorf("unknown PROCESSOR_MODE %q (want rest, kafka or mqtt)", c.Mode)
	}
	if c.Shards <= 0 {
		return fmt.Errorf("PROCESSOR_SHARDS must be positive, got %d", c.Shards)
	}
	if c.EntityIdleTTL < 0 {
		return fmt.Errorf("ENTITY_IDLE_TTL must not be negative, got %s", c.EntityIdleTTL)
	}
	if c.Mode == ModeKafka && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka mode needs KAFKA_BOOTSTRAP_SERVERS")
	}
	if c.AuthRedisLookup && c.RedisAddr == "" {
		return fmt.Errorf("AUTH_REDIS_LOOKUP needs REDIS_ADDR")
	}
	return nil
}

func (c *Config) DatabaseEnabled() bool { return c.DBHost != "" }

func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

func (c *Config) AuthEnabled() bool { return len(c.ValidAPIKeys) > 0 || c.AuthRedisLookup }

func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"pool_max_conns": {strconv.Itoa(int(c.DBMaxConns))}}.Encode(),
	}
	return u.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
