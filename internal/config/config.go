package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/kelseyhightower/envconfig"
)

// Config validation errors
var (
	ErrInvalidPort            = errors.New("port must be between 1 and 65535")
	ErrNoShards               = errors.New("shards cannot be empty")
	ErrInvalidShardURL        = errors.New("shard url must be absolute http(s)")
	ErrInvalidShardTimeout    = errors.New("shard_timeout must be positive")
	ErrInvalidResultWindow    = errors.New("max_result_window must be positive")
	ErrInvalidDefaultSize     = errors.New("default_size must be between 0 and max_result_window")
	ErrInvalidCacheTTL        = errors.New("cache_ttl must be positive when redis_addr is set")
	ErrInvalidLogFormat       = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel        = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidDataDir         = errors.New("data_dir cannot be empty")
	ErrInvalidShardID         = errors.New("shard_id cannot be empty")
	ErrInvalidInput           = errors.New("input cannot be empty")
	ErrInvalidOutDir          = errors.New("out_dir cannot be empty")
	ErrInvalidNumShards       = errors.New("num_shards must be positive")
	ErrInvalidVNodes          = errors.New("vnodes must be positive")
	ErrInvalidWorkers         = errors.New("workers must be positive")
	ErrInvalidBatchSize       = errors.New("batch_size must be positive")
	ErrInvalidStoreCapacity   = errors.New("store_capacity must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown_timeout must be positive")
)

// Log is shared by every binary.
type Log struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

func (l Log) validate() error {
	if l.LogFormat != "json" && l.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if l.LogLevel != "debug" && l.LogLevel != "info" && l.LogLevel != "warn" && l.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	return nil
}

// Coordinator configures the scatter-gather API server.
type Coordinator struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	Shards          []string      `envconfig:"SHARDS" default:"http://shard0:8080,http://shard1:8080,http://shard2:8080,http://shard3:8080"`
	ShardTimeout    time.Duration `envconfig:"SHARD_TIMEOUT" default:"2s"`
	MaxResultWindow int           `envconfig:"MAX_RESULT_WINDOW" default:"10000"`
	DefaultSize     int           `envconfig:"DEFAULT_SIZE" default:"10"`
	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	CacheTTL        time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	Log
}

// Shard configures a single shard node.
type Shard struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	ShardID         string        `envconfig:"SHARD_ID" default:"0"`
	DataDir         string        `envconfig:"DATA_DIR" default:"/data"`
	MaxResultWindow int           `envconfig:"MAX_RESULT_WINDOW" default:"10000"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	Log
}

// Indexer configures the offline sharding pipeline.
type Indexer struct {
	Input         string `envconfig:"INPUT" default:"data/docs.jsonl"`
	OutDir        string `envconfig:"OUT_DIR" default:"data/shards"`
	NumShards     int    `envconfig:"NUM_SHARDS" default:"4"`
	VNodes        int    `envconfig:"VNODES" default:"128"`
	Workers       int    `envconfig:"WORKERS" default:"4"`
	BatchSize     int    `envconfig:"BATCH_SIZE" default:"100"`
	StoreCapacity int    `envconfig:"STORE_CAPACITY" default:"1073741824"`

	// KeywordFields are indexed unanalyzed so they sort as whole strings.
	KeywordFields []string `envconfig:"KEYWORD_FIELDS"`
	Log
}

// LoadCoordinator reads the coordinator configuration from the environment.
func LoadCoordinator() (*Coordinator, error) {
	var cfg Coordinator
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process coordinator config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadShard reads the shard node configuration from the environment.
func LoadShard() (*Shard, error) {
	var cfg Shard
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process shard config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadIndexer reads the indexer configuration from the environment.
func LoadIndexer() (*Indexer, error) {
	var cfg Indexer
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process indexer config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Coordinator) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if len(c.Shards) == 0 {
		return ErrNoShards
	}
	for _, s := range c.Shards {
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidShardURL, s)
		}
	}
	if c.ShardTimeout <= 0 {
		return ErrInvalidShardTimeout
	}
	if c.MaxResultWindow <= 0 {
		return ErrInvalidResultWindow
	}
	if c.DefaultSize < 0 || c.DefaultSize > c.MaxResultWindow {
		return ErrInvalidDefaultSize
	}
	if c.RedisAddr != "" && c.CacheTTL <= 0 {
		return ErrInvalidCacheTTL
	}
	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}
	return c.Log.validate()
}

func (c *Shard) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.ShardID == "" {
		return ErrInvalidShardID
	}
	if c.DataDir == "" {
		return ErrInvalidDataDir
	}
	if c.MaxResultWindow <= 0 {
		return ErrInvalidResultWindow
	}
	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}
	return c.Log.validate()
}

func (c *Indexer) Validate() error {
	if c.Input == "" {
		return ErrInvalidInput
	}
	if c.OutDir == "" {
		return ErrInvalidOutDir
	}
	if c.NumShards <= 0 {
		return ErrInvalidNumShards
	}
	if c.VNodes <= 0 {
		return ErrInvalidVNodes
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.StoreCapacity <= 0 {
		return ErrInvalidStoreCapacity
	}
	return c.Log.validate()
}
