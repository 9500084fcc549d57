package cachefn

import (
	"log/slog"
	"time"
)

// ConnectionOption mutates ConnectionConfig when constructing a connection.
type ConnectionOption func(ConnectionConfig) ConnectionConfig

// WithPrefix sets the key prefix for shared backends (e.g., redis).
func WithPrefix(prefix string) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.Prefix = prefix
		return cfg
	}
}

// WithRedisClient sets a pre-built redis client.
func WithRedisClient(client RedisClient) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.RedisClient = client
		return cfg
	}
}

// WithRedisAddr points the redis driver at host:port.
func WithRedisAddr(addr string) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.Addr = addr
		return cfg
	}
}

// WithMemoryCleanupInterval overrides the sweep interval for the memory driver.
func WithMemoryCleanupInterval(interval time.Duration) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.CleanupInterval = interval
		return cfg
	}
}

// WithFileDir sets the directory used by the file driver.
func WithFileDir(dir string) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.Dir = dir
		return cfg
	}
}

// WithMemcachedAddresses sets the memcached servers.
func WithMemcachedAddresses(addrs ...string) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.Addresses = append([]string(nil), addrs...)
		return cfg
	}
}

// WithNATSKeyValue sets a pre-built JetStream key-value handle.
func WithNATSKeyValue(kv NATSKeyValue) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.NATSKeyValue = kv
		return cfg
	}
}

// WithNATSBucketTTL stores raw values and leaves expiry to the bucket.
func WithNATSBucketTTL(enabled bool) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.BucketTTL = enabled
		return cfg
	}
}

// WithSQL configures the sql driver.
func WithSQL(driverName, dsn, table string) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.SQLDriver = driverName
		cfg.DSN = dsn
		cfg.Table = table
		return cfg
	}
}

// WithDynamoClient sets a pre-built DynamoDB client.
func WithDynamoClient(client DynamoAPI) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.DynamoClient = client
		return cfg
	}
}

// WithDynamoTable sets the DynamoDB table.
func WithDynamoTable(table string) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.Table = table
		return cfg
	}
}

// WithCompression compresses payloads before they reach the backend.
func WithCompression(codec CompressionCodec) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.Compression = codec
		return cfg
	}
}

// WithMaxValueBytes rejects payloads larger than limit after shaping.
func WithMaxValueBytes(limit int) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.MaxValueBytes = limit
		return cfg
	}
}

// WithEncryptionKey encrypts payloads with AES-GCM.
func WithEncryptionKey(key string) ConnectionOption {
	return func(cfg ConnectionConfig) ConnectionConfig {
		cfg.EncryptionKey = key
		return cfg
	}
}

type settings struct {
	serializer Serializer
	observer   Observer
	logger     *slog.Logger
	factory    ConnectionFactory
	resolver   ConnectionResolver
}

// Option configures a Manager or Router.
type Option func(settings) settings

// WithSerializer replaces the default JSON serializer.
func WithSerializer(s Serializer) Option {
	return func(cfg settings) settings {
		cfg.serializer = s
		return cfg
	}
}

// WithObserver registers an observer for wrapper operations.
func WithObserver(o Observer) Option {
	return func(cfg settings) settings {
		cfg.observer = o
		return cfg
	}
}

// WithLogger sets the structured logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg settings) settings {
		cfg.logger = logger
		return cfg
	}
}

// WithConnectionFactory replaces NewConnection for every alias.
func WithConnectionFactory(factory ConnectionFactory) Option {
	return func(cfg settings) settings {
		cfg.factory = factory
		return cfg
	}
}

// WithConnectionResolver routes each wrapper operation by its rendered key.
// The resolver replaces the router lookup for wrappers; connections it
// returns are owned by the caller and are not closed by Manager.Close.
func WithConnectionResolver(resolver ConnectionResolver) Option {
	return func(cfg settings) settings {
		cfg.resolver = resolver
		return cfg
	}
}

func applyOptions(opts []Option) settings {
	var cfg settings
	for _, opt := range opts {
		if opt != nil {
			cfg = opt(cfg)
		}
	}
	if cfg.serializer == nil {
		cfg.serializer = JSONSerializer{}
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.factory == nil {
		cfg.factory = defaultConnectionFactory
	}
	return cfg
}
