package cachefake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goforj/cachefn"
)

// Op identifies a connection operation for assertions.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "setex"
	OpDelete Op = "delete"
)

// Fake hands out in-memory connections per alias and records every operation
// so tests can assert exactly how many backend round trips a call made.
type Fake struct {
	mu      sync.Mutex
	conns   map[string]*countingConnection
	built   map[string]int
	counts  map[Op]map[string]int
	ttls    map[string]time.Duration
	errs    map[Op]error
	aliases []string
}

// New creates a Fake. Each alias gets its own memory connection on first use.
func New() *Fake {
	return &Fake{
		conns:  make(map[string]*countingConnection),
		built:  make(map[string]int),
		counts: make(map[Op]map[string]int),
		ttls:   make(map[string]time.Duration),
		errs:   make(map[Op]error),
	}
}

// Factory returns a connection factory to pass to cachefn.WithConnectionFactory.
func (f *Fake) Factory() cachefn.ConnectionFactory {
	return func(ctx context.Context, alias string, _ cachefn.ConnectionConfig) (cachefn.Connection, error) {
		return f.Connection(ctx, alias), nil
	}
}

// Manager builds a manager whose registry holds the default alias plus
// aliases, all served by the fake.
func (f *Fake) Manager(aliases []string, opts ...cachefn.Option) *cachefn.Manager {
	registry := cachefn.Registry{cachefn.DefaultAlias: {Driver: cachefn.DriverMemory}}
	for _, alias := range aliases {
		registry[alias] = cachefn.ConnectionConfig{Driver: cachefn.DriverMemory}
	}
	return cachefn.New(registry, append([]cachefn.Option{cachefn.WithConnectionFactory(f.Factory())}, opts...)...)
}

// Connection returns the recording connection for alias, creating it if needed.
func (f *Fake) Connection(ctx context.Context, alias string) cachefn.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built[alias]++
	return f.connLocked(ctx, alias)
}

func (f *Fake) connLocked(ctx context.Context, alias string) *countingConnection {
	if conn, ok := f.conns[alias]; ok {
		return conn
	}
	conn := &countingConnection{
		alias: alias,
		inner: cachefn.NewMemoryConnection(ctx),
		fake:  f,
	}
	f.conns[alias] = conn
	f.aliases = append(f.aliases, alias)
	return conn
}

// Built reports how many times the factory was asked for alias.
func (f *Fake) Built(alias string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[alias]
}

// Aliases returns the aliases that received a connection, in creation order.
func (f *Fake) Aliases() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.aliases...)
}

// SetError makes every later op fail with err. Pass nil to clear.
func (f *Fake) SetError(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Put writes a raw payload without recording the operation.
func (f *Fake) Put(ctx context.Context, alias, key string, payload []byte, ttl time.Duration) error {
	f.mu.Lock()
	conn := f.connLocked(ctx, alias)
	f.mu.Unlock()
	return conn.inner.SetEx(ctx, key, ttl, payload)
}

// Peek reads a raw payload without recording the operation.
func (f *Fake) Peek(ctx context.Context, alias, key string) ([]byte, bool) {
	f.mu.Lock()
	conn, ok := f.conns[alias]
	f.mu.Unlock()
	if !ok {
		return nil, false
	}
	body, found, err := conn.inner.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	return body, found
}

// Reset clears recorded counts and ttls. Stored entries are kept.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[Op]map[string]int)
	f.ttls = make(map[string]time.Duration)
}

// AssertCalled verifies key was touched by op the expected number of times.
func (f *Fake) AssertCalled(t *testing.T, op Op, key string, times int) {
	t.Helper()
	if got := f.Count(op, key); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", op, key, times, got)
	}
}

// AssertNotCalled ensures key was never touched by op.
func (f *Fake) AssertNotCalled(t *testing.T, op Op, key string) {
	t.Helper()
	if got := f.Count(op, key); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", op, key, got)
	}
}

// AssertTotal ensures the total call count for an op matches times.
func (f *Fake) AssertTotal(t *testing.T, op Op, times int) {
	t.Helper()
	if got := f.Total(op); got != times {
		t.Fatalf("expected %s total=%d, got %d", op, times, got)
	}
}

// Count returns calls for op+key.
func (f *Fake) Count(op Op, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[op][key]
}

// Total returns total calls for an op across keys.
func (f *Fake) Total(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int
	for _, v := range f.counts[op] {
		sum += v
	}
	return sum
}

// LastTTL returns the ttl of the most recent SetEx for key.
func (f *Fake) LastTTL(key string) (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ttl, ok := f.ttls[key]
	return ttl, ok
}

func (f *Fake) record(op Op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		f.counts[op] = make(map[string]int)
	}
	f.counts[op][key]++
	return f.errs[op]
}

// countingConnection wraps a Connection to record calls.
type countingConnection struct {
	alias string
	inner cachefn.Connection
	fake  *Fake
}

func (c *countingConnection) Driver() cachefn.Driver { return c.inner.Driver() }

func (c *countingConnection) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := c.fake.record(OpGet, key); err != nil {
		return nil, false, err
	}
	return c.inner.Get(ctx, key)
}

func (c *countingConnection) SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	if err := c.fake.record(OpSet, key); err != nil {
		return err
	}
	c.fake.mu.Lock()
	c.fake.ttls[key] = ttl
	c.fake.mu.Unlock()
	return c.inner.SetEx(ctx, key, ttl, value)
}

func (c *countingConnection) Delete(ctx context.Context, key string) error {
	if err := c.fake.record(OpDelete, key); err != nil {
		return err
	}
	return c.inner.Delete(ctx, key)
}

func (c *countingConnection) Close() error { return nil }
