package cachefn

import (
	"context"
	"time"
)

// Driver identifies a connection backend.
type Driver string

const (
	DriverNull      Driver = "null"
	DriverFile      Driver = "file"
	DriverMemory    Driver = "memory"
	DriverMemcached Driver = "memcached"
	DriverDynamo    Driver = "dynamodb"
	DriverSQL       Driver = "sql"
	DriverRedis     Driver = "redis"
	DriverNATS      Driver = "nats"
)

// Connection is the key-value capability a wrapper reads from and writes to.
// Every method is a single backend round trip; errors are returned unchanged
// to the wrapper's caller.
type Connection interface {
	Driver() Driver
	// Get reports ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// SetEx stores value under key, replacing any previous entry and its ttl.
	SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	clone := make([]byte, len(value))
	copy(clone, value)
	return clone
}
