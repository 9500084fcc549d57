package cachefn

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
)

// Invocation carries the receiver and bound parameters of one call.
type Invocation struct {
	receiver any
	params   Params
}

// Receiver returns the instance (or type token) a method wrapper is bound to.
func (i Invocation) Receiver() any { return i.receiver }

// Params returns the bound parameters, receiver included for methods.
func (i Invocation) Params() Params { return i.params }

// Arg returns the bound value of name converted to T. It returns the zero
// value when the parameter is absent, nil, or of another type.
func Arg[T any](inv Invocation, name string) T {
	raw, _ := inv.params.Get(name)
	v, _ := raw.(T)
	return v
}

// Target is a cacheable function. Its result must round-trip through the
// manager's serializer.
type Target[R any] func(ctx context.Context, inv Invocation) (R, error)

type wrapConfig struct {
	formatter KeyFormatter
	database  string
	name      string
}

// WrapOption configures a single wrapper.
type WrapOption func(wrapConfig) wrapConfig

// WithKeyFormatter replaces template rendering for this wrapper.
func WithKeyFormatter(f KeyFormatter) WrapOption {
	return func(cfg wrapConfig) wrapConfig {
		cfg.formatter = f
		return cfg
	}
}

// WithDatabase routes this wrapper to the named alias instead of the default.
func WithDatabase(alias string) WrapOption {
	return func(cfg wrapConfig) wrapConfig {
		cfg.database = alias
		return cfg
	}
}

// WithName labels the wrapper in errors and logs. Defaults to the template.
func WithName(name string) WrapOption {
	return func(cfg wrapConfig) wrapConfig {
		cfg.name = name
		return cfg
	}
}

// Wrapper caches the results of fn under keys rendered from a template.
// A Wrapper is either unbound or bound to a receiver; Bind returns the bound
// variant and never mutates the original.
type Wrapper[R any] struct {
	manager   *Manager
	name      string
	template  string
	parsed    *Template
	ttl       time.Duration
	sig       Signature
	fn        Target[R]
	formatter KeyFormatter
	database  string

	receiver any
	bound    bool
}

// Cached wraps fn. The template is parsed and checked against sig immediately;
// ttl must be positive.
//
// Example: cache a lookup for five minutes
//
//	getUser := cachefn.MustCached(m, "user:{id}", 5*time.Minute,
//		cachefn.Func(cachefn.Required("id")),
//		func(ctx context.Context, inv cachefn.Invocation) (User, error) {
//			return db.LoadUser(ctx, cachefn.Arg[int](inv, "id"))
//		})
//	user, err := getUser.Invoke(ctx, cachefn.Pos(42))
func Cached[R any](m *Manager, template string, ttl time.Duration, sig Signature, fn Target[R], opts ...WrapOption) (*Wrapper[R], error) {
	if m == nil {
		return nil, errors.New("cachefn: nil manager")
	}
	if fn == nil {
		return nil, errors.New("cachefn: nil function")
	}
	if ttl <= 0 {
		return nil, errors.Wrapf(ErrInvalidTTL, "cachefn: ttl %s for %q", ttl, template)
	}
	var cfg wrapConfig
	for _, opt := range opts {
		if opt != nil {
			cfg = opt(cfg)
		}
	}
	name := cfg.name
	if name == "" {
		name = template
	}
	if err := sig.validate(name); err != nil {
		return nil, err
	}

	w := &Wrapper[R]{
		manager:   m,
		name:      name,
		template:  template,
		ttl:       ttl,
		sig:       sig,
		fn:        fn,
		formatter: cfg.formatter,
		database:  cfg.database,
	}
	if w.formatter == nil {
		parsed, err := ParseTemplate(template)
		if err != nil {
			return nil, err
		}
		known := sig.names()
		for _, field := range parsed.Fields() {
			if !slices.Contains(known, field) {
				return nil, errors.Mark(errors.Newf("cachefn: template %q references %q, which %s does not declare", template, field, name), ErrInvalidTemplate)
			}
		}
		w.parsed = parsed
	}
	return w, nil
}

// MustCached is Cached that panics on error.
func MustCached[R any](m *Manager, template string, ttl time.Duration, sig Signature, fn Target[R], opts ...WrapOption) *Wrapper[R] {
	w, err := Cached(m, template, ttl, sig, fn, opts...)
	if err != nil {
		panic(err)
	}
	return w
}

// Bind returns a copy of w bound to receiver. For methods the receiver fills
// the implicit first parameter of every call.
func (w *Wrapper[R]) Bind(receiver any) *Wrapper[R] {
	bound := *w
	bound.receiver = receiver
	bound.bound = true
	return &bound
}

// Bound reports whether w carries a receiver.
func (w *Wrapper[R]) Bound() bool { return w.bound }

// Receiver returns the bound receiver, or nil when unbound.
func (w *Wrapper[R]) Receiver() any { return w.receiver }

// TTL returns the expiry applied to every stored entry.
func (w *Wrapper[R]) TTL() time.Duration { return w.ttl }

// CacheKey returns the key a call with args would read and write.
func (w *Wrapper[R]) CacheKey(args Args) (string, error) {
	inv, err := w.bind(args)
	if err != nil {
		return "", err
	}
	return w.key(inv)
}

// Invoke returns the cached result for args, or executes the target and
// stores its result on a miss.
func (w *Wrapper[R]) Invoke(ctx context.Context, args Args) (R, error) {
	start := time.Now()
	var zero R
	inv, key, conn, err := w.prepare(ctx, args)
	if err != nil {
		w.observe(ctx, "invoke", key, false, err, start, conn)
		return zero, err
	}

	body, ok, err := conn.Get(ctx, key)
	if err != nil {
		w.observe(ctx, "invoke", key, false, err, start, conn)
		return zero, err
	}
	if ok {
		var out R
		if err := w.manager.serializer.Loads(body, &out); err != nil {
			err = serializationError(err, "decode", key)
			w.observe(ctx, "invoke", key, true, err, start, conn)
			return zero, err
		}
		w.observe(ctx, "invoke", key, true, nil, start, conn)
		return out, nil
	}

	result, err := w.fn(ctx, inv)
	if err != nil {
		w.observe(ctx, "invoke", key, false, err, start, conn)
		return zero, err
	}
	if err := w.store(ctx, conn, key, result); err != nil {
		w.observe(ctx, "invoke", key, false, err, start, conn)
		return zero, err
	}
	w.observe(ctx, "invoke", key, false, nil, start, conn)
	return result, nil
}

// Call executes the target directly without reading or writing the cache.
func (w *Wrapper[R]) Call(ctx context.Context, args Args) (R, error) {
	start := time.Now()
	var zero R
	inv, err := w.bind(args)
	if err != nil {
		w.observe(ctx, "call", "", false, err, start, nil)
		return zero, err
	}
	result, err := w.fn(ctx, inv)
	w.observe(ctx, "call", "", false, err, start, nil)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// RefreshCache executes the target and overwrites the entry, resetting its
// ttl. A null result deletes the entry instead. The fresh result is returned
// either way.
func (w *Wrapper[R]) RefreshCache(ctx context.Context, args Args) (R, error) {
	start := time.Now()
	var zero R
	inv, err := w.bind(args)
	if err != nil {
		w.observe(ctx, "refresh", "", false, err, start, nil)
		return zero, err
	}
	result, err := w.fn(ctx, inv)
	if err != nil {
		w.observe(ctx, "refresh", "", false, err, start, nil)
		return zero, err
	}
	key, err := w.key(inv)
	if err != nil {
		w.observe(ctx, "refresh", "", false, err, start, nil)
		return zero, err
	}
	conn, err := w.connection(ctx, key)
	if err != nil {
		w.observe(ctx, "refresh", key, false, err, start, nil)
		return zero, err
	}
	if isNull(result) {
		err = conn.Delete(ctx, key)
	} else {
		err = w.store(ctx, conn, key, result)
	}
	w.observe(ctx, "refresh", key, false, err, start, conn)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// DeleteCache removes the entry for args. Deleting a missing entry is not an error.
func (w *Wrapper[R]) DeleteCache(ctx context.Context, args Args) error {
	start := time.Now()
	_, key, conn, err := w.prepare(ctx, args)
	if err == nil {
		err = conn.Delete(ctx, key)
	}
	w.observe(ctx, "delete", key, false, err, start, conn)
	return err
}

// prepare binds args, renders the key and resolves the connection before any
// backend round trip.
func (w *Wrapper[R]) prepare(ctx context.Context, args Args) (Invocation, string, Connection, error) {
	inv, err := w.bind(args)
	if err != nil {
		return Invocation{}, "", nil, err
	}
	key, err := w.key(inv)
	if err != nil {
		return Invocation{}, "", nil, err
	}
	conn, err := w.connection(ctx, key)
	if err != nil {
		return Invocation{}, key, nil, err
	}
	return inv, key, conn, nil
}

// connection asks the manager's resolver, when set, and the router otherwise.
func (w *Wrapper[R]) connection(ctx context.Context, key string) (Connection, error) {
	if w.manager.resolver != nil {
		return w.manager.resolver(ctx, key, w.database)
	}
	return w.manager.router.Connection(ctx, w.database)
}

func (w *Wrapper[R]) bind(args Args) (Invocation, error) {
	if w.sig.Kind == KindStaticMethod || w.sig.Kind == KindClassMethod {
		return Invocation{}, errors.WithStack(&UnsupportedCallableError{Callable: w.name, Kind: w.sig.Kind})
	}
	params, err := w.sig.Bind(w.name, w.receiver, w.bound, args)
	if err != nil {
		return Invocation{}, err
	}
	receiver := w.receiver
	if !w.bound && w.sig.Kind == KindMethod {
		receiver, _ = params.Get(w.sig.receiverName())
	}
	return Invocation{receiver: receiver, params: params}, nil
}

func (w *Wrapper[R]) key(inv Invocation) (string, error) {
	if w.formatter != nil {
		key, err := w.formatter.Format(w.template, inv.params)
		if err != nil {
			if errors.Is(err, ErrKeyFormat) || errors.Is(err, ErrInvalidTemplate) {
				return "", err
			}
			return "", errors.Mark(errors.Wrapf(err, "cachefn: format key for %s", w.name), ErrKeyFormat)
		}
		return key, nil
	}
	return w.parsed.Render(inv.params)
}

func (w *Wrapper[R]) store(ctx context.Context, conn Connection, key string, result R) error {
	payload, err := w.manager.serializer.Dumps(result)
	if err != nil {
		return serializationError(err, "encode", key)
	}
	return conn.SetEx(ctx, key, w.ttl, payload)
}

func (w *Wrapper[R]) observe(ctx context.Context, op, key string, hit bool, err error, start time.Time, conn Connection) {
	var driver Driver
	if conn != nil {
		driver = conn.Driver()
	}
	if err != nil {
		w.manager.logger.DebugContext(ctx, "cachefn operation failed", "op", op, "name", w.name, "key", key, "error", err)
	}
	if w.manager.observer == nil {
		return
	}
	w.manager.observer.OnCacheOp(ctx, op, key, hit, err, time.Since(start), driver)
}
