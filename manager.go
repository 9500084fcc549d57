package cachefn

import "log/slog"

// Manager owns the router and the shared wrapper settings. Build one per
// process and pass it to Cached.
type Manager struct {
	router     *Router
	serializer Serializer
	observer   Observer
	logger     *slog.Logger
	resolver   ConnectionResolver
}

// New builds a Manager with its own Router over registry.
//
// Example: memory-backed manager
//
//	m := cachefn.New(cachefn.Registry{
//		cachefn.DefaultAlias: {Driver: cachefn.DriverMemory},
//	})
//	defer m.Close()
func New(registry Registry, opts ...Option) *Manager {
	return NewWithRouter(NewRouter(registry, opts...), opts...)
}

// NewWithRouter builds a Manager around an existing router.
func NewWithRouter(router *Router, opts ...Option) *Manager {
	cfg := applyOptions(opts)
	return &Manager{
		router:     router,
		serializer: cfg.serializer,
		observer:   cfg.observer,
		logger:     cfg.logger,
		resolver:   cfg.resolver,
	}
}

// Router returns the manager's router.
func (m *Manager) Router() *Router { return m.router }

// Close closes every connection the router opened.
func (m *Manager) Close() error { return m.router.Close() }
