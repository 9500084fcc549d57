package cachefn

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/cockroachdb/errors"
)

// ConnectionFactory builds the connection for one alias. The router calls it
// at most once per alias.
type ConnectionFactory func(ctx context.Context, alias string, cfg ConnectionConfig) (Connection, error)

// ConnectionResolver picks the connection for one cache key. alias is the
// wrapper's configured database, empty for the default.
type ConnectionResolver func(ctx context.Context, key, alias string) (Connection, error)

func defaultConnectionFactory(ctx context.Context, _ string, cfg ConnectionConfig) (Connection, error) {
	return NewConnection(ctx, cfg)
}

// NewConnection returns a concrete connection for the configured driver,
// wrapped with compression and encryption when configured.
//
// Example: memory connection
//
//	conn, _ := cachefn.NewConnection(ctx, cachefn.ConnectionConfig{Driver: cachefn.DriverMemory})
//	fmt.Println(conn.Driver()) // memory
func NewConnection(ctx context.Context, cfg ConnectionConfig) (Connection, error) {
	cfg = cfg.withDefaults()
	var (
		conn Connection
		err  error
	)
	switch cfg.Driver {
	case DriverNull:
		conn = newNullConnection()
	case DriverMemory:
		conn = newMemoryConnection(cfg.CleanupInterval)
	case DriverFile:
		conn, err = newFileConnection(cfg.Dir)
	case DriverMemcached:
		conn = newMemcachedConnection(cfg.Addresses, cfg.Prefix)
	case DriverRedis:
		conn, err = newRedisConnection(cfg)
	case DriverNATS:
		conn, err = newNATSConnection(cfg)
	case DriverSQL:
		conn, err = newSQLConnection(ctx, cfg)
	case DriverDynamo:
		conn, err = newDynamoConnection(ctx, cfg)
	default:
		return nil, errors.Newf("cachefn: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cachefn: open %s connection", cfg.Driver)
	}

	key, err := decodeEncryptionKey(cfg.EncryptionKey)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if conn, err = newEncryptingConnection(conn, key); err != nil {
		return nil, err
	}
	return newShapingConnection(conn, cfg.Compression, cfg.MaxValueBytes), nil
}

// NewConnectionWith builds a connection from a driver and functional options.
//
// Example: redis connection with a prefix
//
//	conn, _ := cachefn.NewConnectionWith(ctx, cachefn.DriverRedis,
//		cachefn.WithRedisAddr("127.0.0.1:6379"),
//		cachefn.WithPrefix("app"),
//	)
func NewConnectionWith(ctx context.Context, driver Driver, opts ...ConnectionOption) (Connection, error) {
	cfg := ConnectionConfig{Driver: driver}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return NewConnection(ctx, cfg)
}

// NewMemoryConnection is a convenience for an in-process connection.
func NewMemoryConnection(ctx context.Context, opts ...ConnectionOption) Connection {
	conn, _ := NewConnectionWith(ctx, DriverMemory, opts...)
	return conn
}

// NewRedisConnection is a convenience for a redis connection backed by client.
func NewRedisConnection(ctx context.Context, client RedisClient, opts ...ConnectionOption) (Connection, error) {
	return NewConnectionWith(ctx, DriverRedis, append([]ConnectionOption{WithRedisClient(client)}, opts...)...)
}

// NewFileConnection is a convenience for a filesystem-backed connection.
func NewFileConnection(ctx context.Context, dir string, opts ...ConnectionOption) (Connection, error) {
	return NewConnectionWith(ctx, DriverFile, append([]ConnectionOption{WithFileDir(dir)}, opts...)...)
}

// NewNullConnection returns a connection that never stores anything.
func NewNullConnection() Connection {
	return newNullConnection()
}

func decodeEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	if encoded, ok := strings.CutPrefix(raw, "base64:"); ok {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "cachefn: decode encryption key"), ErrEncryptionKey)
		}
		return key, nil
	}
	return []byte(raw), nil
}
