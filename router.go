package cachefn

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"
)

// Router maps database aliases to live connections. Each alias is
// constructed at most once; unknown aliases share the default connection.
type Router struct {
	registry Registry
	factory  ConnectionFactory
	logger   *slog.Logger

	mu     sync.RWMutex
	conns  map[string]Connection
	closed bool
	group  singleflight.Group
}

// NewRouter builds a router over a copy of registry. Only WithConnectionFactory
// and WithLogger apply.
func NewRouter(registry Registry, opts ...Option) *Router {
	cfg := applyOptions(opts)
	copied := make(Registry, len(registry))
	for alias, conn := range registry {
		copied[alias] = conn
	}
	return &Router{
		registry: copied,
		factory:  cfg.factory,
		logger:   cfg.logger,
		conns:    make(map[string]Connection),
	}
}

// Resolve reports which registry entry serves alias without constructing it.
func (r *Router) Resolve(alias string) (string, error) {
	if alias != "" && r.registry.Has(alias) {
		return alias, nil
	}
	if r.registry.Has(DefaultAlias) {
		return DefaultAlias, nil
	}
	return "", errors.WithStack(&ConfigurationError{Alias: alias})
}

// Aliases returns the configured aliases in sorted order.
func (r *Router) Aliases() []string {
	out := make([]string, 0, len(r.registry))
	for alias := range r.registry {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Connection returns the live connection for alias, constructing it on first use.
func (r *Router) Connection(ctx context.Context, alias string) (Connection, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrRouterClosed
	}
	if alias == "" {
		if conn, ok := r.conns[DefaultAlias]; ok {
			r.mu.RUnlock()
			return conn, nil
		}
	}
	r.mu.RUnlock()

	target, err := r.Resolve(alias)
	if err != nil {
		return nil, err
	}
	if conn, ok := r.cached(target); ok {
		return conn, nil
	}

	v, err, _ := r.group.Do(target, func() (any, error) {
		if conn, ok := r.cached(target); ok {
			return conn, nil
		}
		conn, err := r.factory(context.WithoutCancel(ctx), target, r.registry[target])
		if err != nil {
			r.logger.ErrorContext(ctx, "cachefn connection failed", "alias", target, "error", err)
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			_ = conn.Close()
			return nil, ErrRouterClosed
		}
		r.conns[target] = conn
		r.logger.DebugContext(ctx, "cachefn connection opened", "alias", target, "driver", conn.Driver())
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Connection), nil
}

func (r *Router) cached(alias string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[alias]
	return conn, ok
}

// Close closes every constructed connection. Later lookups fail with ErrRouterClosed.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := r.conns
	r.conns = make(map[string]Connection)
	r.mu.Unlock()

	var errs error
	for alias, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "cachefn: close %q", alias))
			continue
		}
		r.logger.Debug("cachefn connection closed", "alias", alias)
	}
	return errs
}
