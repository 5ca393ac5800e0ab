package config

import (
	"fmt"
	"time"
)

// Config is the root process configuration.
type Config struct {
	Server   Server         `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Log      LogConfig      `yaml:"log"`
	Logbook  LogbookConfig  `yaml:"logbook"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Host            string        `yaml:"host"             env:"LOGBOOK_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"LOGBOOK_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"LOGBOOK_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"LOGBOOK_WRITE_TIMEOUT"    env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"LOGBOOK_SHUTDOWN_TIMEOUT" env-default:"10s"`
	// AdminToken guards the index tooling endpoints.
	AdminToken string `yaml:"admin_token" env:"LOGBOOK_ADMIN_TOKEN"`
}

// Addr is the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
	AutoMigrate     bool          `yaml:"auto_migrate"       env:"DATABASE_AUTO_MIGRATE"       env-default:"true"`
}

// RedisConfig holds the search index connection settings. An empty URL keeps
// the index in process memory.
type RedisConfig struct {
	URL          string        `yaml:"url"            env:"REDIS_URL"`
	PoolSize     int           `yaml:"pool_size"      env:"REDIS_POOL_SIZE"      env-default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `yaml:"dial_timeout"   env:"REDIS_DIAL_TIMEOUT"   env-default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout"   env:"REDIS_READ_TIMEOUT"   env-default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout"  env:"REDIS_WRITE_TIMEOUT"  env-default:"3s"`
	KeyPrefix    string        `yaml:"key_prefix"     env:"REDIS_KEY_PREFIX"     env-default:"logbook"`
}

// KafkaConfig holds the resync topic settings. An empty broker list disables
// Kafka; resync requests then go to an in-process worker.
type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"            env:"KAFKA_BROKERS"            env-separator:","`
	ResyncTopic       string   `yaml:"resync_topic"       env:"KAFKA_RESYNC_TOPIC"       env-default:"logbook.index.resync"`
	ConsumerGroup     string   `yaml:"consumer_group"     env:"KAFKA_CONSUMER_GROUP"     env-default:"logbook-index-sync"`
	Partitions        int32    `yaml:"partitions"         env:"KAFKA_PARTITIONS"         env-default:"3"`
	ReplicationFactor int16    `yaml:"replication_factor" env:"KAFKA_REPLICATION_FACTOR" env-default:"1"`
}

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// LogbookConfig holds the logbook core settings.
type LogbookConfig struct {
	// Tenants get their search indexes created at startup.
	Tenants []int `yaml:"tenants" env:"LOGBOOK_TENANTS" env-separator:","`
	// MaxResults caps reads whose $limit is absent or larger.
	MaxResults int `yaml:"max_results" env:"LOGBOOK_MAX_RESULTS" env-default:"10000"`
	// TxTimeout bounds commit transactions when the caller set no deadline.
	TxTimeout time.Duration `yaml:"tx_timeout" env:"LOGBOOK_TX_TIMEOUT" env-default:"5s"`
	// BreakerFailures consecutive index failures open the mirror breaker.
	BreakerFailures int `yaml:"breaker_failures" env:"LOGBOOK_BREAKER_FAILURES" env-default:"5"`
	// BreakerSuccesses consecutive resync successes close it again.
	BreakerSuccesses int `yaml:"breaker_successes" env:"LOGBOOK_BREAKER_SUCCESSES" env-default:"3"`
	// ResyncBuffer sizes the in-process resync queue used without Kafka.
	ResyncBuffer int `yaml:"resync_buffer" env:"LOGBOOK_RESYNC_BUFFER" env-default:"1024"`
}
