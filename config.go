package cachefn

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultAlias is the reserved registry entry used when an alias is empty or unknown.
const DefaultAlias = "default"

const (
	defaultMemoryCleanupInterval = 10 * time.Minute
	defaultSQLTable              = "cache_entries"
	defaultNATSBucket            = "cachefn"
	defaultDynamoTable           = "cachefn"
	defaultDynamoRegion          = "us-east-1"
	defaultMemcachedAddress      = "127.0.0.1:11211"
)

func defaultFileDir() string {
	return filepath.Join(os.TempDir(), "cachefn")
}

// Registry maps database aliases to connection configuration.
type Registry map[string]ConnectionConfig

// Has reports whether alias is configured. An empty entry still counts.
func (r Registry) Has(alias string) bool {
	_, ok := r[alias]
	return ok
}

// ConnectionConfig controls how the connection for one alias is constructed.
type ConnectionConfig struct {
	// Driver selects the backend. Defaults to redis.
	Driver Driver `mapstructure:"driver" yaml:"driver,omitempty"`

	// Prefix namespaces keys on shared backends. Empty keeps keys verbatim.
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`

	// URL is a redis:// or nats:// connection URL. It wins over Addr/Host/Port.
	URL      string `mapstructure:"url" yaml:"url,omitempty"`
	Addr     string `mapstructure:"addr" yaml:"addr,omitempty"`
	Host     string `mapstructure:"host" yaml:"host,omitempty"`
	Port     int    `mapstructure:"port" yaml:"port,omitempty"`
	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db,omitempty"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout,omitempty"`
	PoolSize     int           `mapstructure:"pool_size" yaml:"pool_size,omitempty"`

	// CleanupInterval controls the in-process sweep for the memory driver.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval,omitempty"`

	// Dir is where the file driver keeps entries.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`

	// Addresses lists memcached servers.
	Addresses []string `mapstructure:"addresses" yaml:"addresses,omitempty"`

	// Bucket is the JetStream key-value bucket for the nats driver.
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	// BucketTTL stores raw values and relies on the bucket max age instead of a per-entry envelope.
	BucketTTL bool `mapstructure:"bucket_ttl" yaml:"bucket_ttl,omitempty"`
	// BucketMaxAge is applied when the bucket is created.
	BucketMaxAge time.Duration `mapstructure:"bucket_max_age" yaml:"bucket_max_age,omitempty"`

	// SQLDriver is sqlite, pgx (or postgres) or mysql.
	SQLDriver string `mapstructure:"sql_driver" yaml:"sql_driver,omitempty"`
	DSN       string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	// Table is the sql table or dynamodb table name.
	Table string `mapstructure:"table" yaml:"table,omitempty"`

	Region   string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	Compression   CompressionCodec `mapstructure:"compression" yaml:"compression,omitempty"`
	MaxValueBytes int              `mapstructure:"max_value_bytes" yaml:"max_value_bytes,omitempty"`
	// EncryptionKey is 16, 24 or 32 raw bytes, or "base64:" followed by the encoded key.
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key,omitempty"`

	// Pre-built clients take precedence over the network settings above.
	RedisClient  RedisClient  `mapstructure:"-" yaml:"-"`
	NATSKeyValue NATSKeyValue `mapstructure:"-" yaml:"-"`
	DynamoClient DynamoAPI    `mapstructure:"-" yaml:"-"`
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.Driver == "" {
		c.Driver = DriverRedis
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultMemoryCleanupInterval
	}
	switch c.Driver {
	case DriverFile:
		if c.Dir == "" {
			c.Dir = defaultFileDir()
		}
	case DriverMemcached:
		if len(c.Addresses) == 0 {
			c.Addresses = []string{defaultMemcachedAddress}
		}
	case DriverNATS:
		if c.Bucket == "" {
			c.Bucket = defaultNATSBucket
		}
	case DriverSQL:
		if c.Table == "" {
			c.Table = defaultSQLTable
		}
	case DriverDynamo:
		if c.Table == "" {
			c.Table = defaultDynamoTable
		}
		if c.Region == "" {
			c.Region = defaultDynamoRegion
		}
	}
	if c.Compression == "" {
		c.Compression = CompressionNone
	}
	return c
}
