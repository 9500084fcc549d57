package cachefn_test

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goforj/cachefn"
	"github.com/goforj/cachefn/cachefake"
)

type report struct {
	ID    int      `json:"id" msgpack:"id"`
	Tags  []string `json:"tags" msgpack:"tags"`
	Owner string   `json:"owner" msgpack:"owner"`
}

type service struct {
	Name  string
	calls atomic.Int32
}

type named struct {
	Name string
}

func newFakeManager(t *testing.T, aliases ...string) (*cachefake.Fake, *cachefn.Manager) {
	t.Helper()
	fake := cachefake.New()
	m := fake.Manager(aliases)
	t.Cleanup(func() { _ = m.Close() })
	return fake, m
}

func countingReport(calls *atomic.Int32) cachefn.Target[report] {
	return func(ctx context.Context, inv cachefn.Invocation) (report, error) {
		n := calls.Add(1)
		return report{ID: cachefn.Arg[int](inv, "id"), Tags: []string{"run", fmt.Sprint(n)}, Owner: "ops"}, nil
	}
}

func TestCacheKeyUsesDeclaredDefaults(t *testing.T) {
	_, m := newFakeManager(t)
	w := cachefn.MustCached(m, "k_{arg1}_{arg2}_{arg3}", time.Minute,
		cachefn.Func(cachefn.Required("arg1"), cachefn.Optional("arg2", 3), cachefn.Optional("arg3", nil)),
		func(ctx context.Context, inv cachefn.Invocation) (int, error) { return 1, nil })

	key, err := w.CacheKey(cachefn.Kw("arg1", 1))
	if err != nil {
		t.Fatalf("cache key failed: %v", err)
	}
	if key != "k_1_3_None" {
		t.Fatalf("expected k_1_3_None, got %q", key)
	}
	positional, err := w.CacheKey(cachefn.Pos(1))
	if err != nil || positional != key {
		t.Fatalf("expected positional binding to match keyword binding, got %q err=%v", positional, err)
	}
}

func TestInvokeIsIdempotent(t *testing.T) {
	fake, m := newFakeManager(t)
	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", time.Minute, cachefn.Func(cachefn.Required("id")), countingReport(&calls))
	ctx := context.Background()

	first, err := w.Invoke(ctx, cachefn.Pos(7))
	if err != nil {
		t.Fatalf("first invoke failed: %v", err)
	}
	second, err := w.Invoke(ctx, cachefn.Pos(7))
	if err != nil {
		t.Fatalf("second invoke failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one execution, got %d", calls.Load())
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected cached value %+v, got %+v", first, second)
	}

	stored, ok := fake.Peek(ctx, cachefn.DefaultAlias, "report:7")
	want, _ := json.Marshal(first)
	if !ok || string(stored) != string(want) {
		t.Fatalf("expected stored payload %s, got %s (ok=%v)", want, stored, ok)
	}
	fake.AssertCalled(t, cachefake.OpGet, "report:7", 2)
	fake.AssertCalled(t, cachefake.OpSet, "report:7", 1)
	if ttl, ok := fake.LastTTL("report:7"); !ok || ttl != time.Minute {
		t.Fatalf("expected ttl %s, got %s (ok=%v)", time.Minute, ttl, ok)
	}
}

func TestCallBypassesBackend(t *testing.T) {
	fake, m := newFakeManager(t)
	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", time.Minute, cachefn.Func(cachefn.Required("id")), countingReport(&calls))
	ctx := context.Background()

	if _, err := w.Invoke(ctx, cachefn.Pos(1)); err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	fake.Reset()

	for i := 0; i < 2; i++ {
		got, err := w.Call(ctx, cachefn.Pos(1))
		if err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if got.Tags[1] != fmt.Sprint(i+2) {
			t.Fatalf("expected a fresh execution, got %+v", got)
		}
	}
	fake.AssertTotal(t, cachefake.OpGet, 0)
	fake.AssertTotal(t, cachefake.OpSet, 0)
	fake.AssertTotal(t, cachefake.OpDelete, 0)

	if _, err := w.Call(ctx, cachefn.Pos(2)); err != nil {
		t.Fatalf("call on cold key failed: %v", err)
	}
	if _, ok := fake.Peek(ctx, cachefn.DefaultAlias, "report:2"); ok {
		t.Fatalf("expected call to leave the cache untouched")
	}
}

func TestRefreshCacheOverwritesAndResetsTTL(t *testing.T) {
	fake, m := newFakeManager(t)
	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", 90*time.Second, cachefn.Func(cachefn.Required("id")), countingReport(&calls))
	ctx := context.Background()

	if err := fake.Put(ctx, cachefn.DefaultAlias, "report:3", []byte(`{"id":3,"tags":["stale"],"owner":"old"}`), time.Second); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	fresh, err := w.RefreshCache(ctx, cachefn.Pos(3))
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one execution, got %d", calls.Load())
	}
	fake.AssertNotCalled(t, cachefake.OpGet, "report:3")
	fake.AssertCalled(t, cachefake.OpSet, "report:3", 1)
	if ttl, _ := fake.LastTTL("report:3"); ttl != 90*time.Second {
		t.Fatalf("expected ttl reset to 90s, got %s", ttl)
	}

	got, err := w.Invoke(ctx, cachefn.Pos(3))
	if err != nil {
		t.Fatalf("invoke after refresh failed: %v", err)
	}
	if !reflect.DeepEqual(got, fresh) || calls.Load() != 1 {
		t.Fatalf("expected refreshed value %+v, got %+v after %d calls", fresh, got, calls.Load())
	}
}

func TestRefreshCacheDeletesOnNullResult(t *testing.T) {
	fake, m := newFakeManager(t)
	var calls atomic.Int32
	w := cachefn.MustCached(m, "maybe:{id}", time.Minute, cachefn.Func(cachefn.Required("id")),
		func(ctx context.Context, inv cachefn.Invocation) (*report, error) {
			calls.Add(1)
			return nil, nil
		})
	ctx := context.Background()

	if err := fake.Put(ctx, cachefn.DefaultAlias, "maybe:1", []byte(`{"id":1}`), time.Minute); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	got, err := w.RefreshCache(ctx, cachefn.Pos(1))
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil result, got %+v", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one execution, got %d", calls.Load())
	}
	fake.AssertCalled(t, cachefake.OpDelete, "maybe:1", 1)
	fake.AssertNotCalled(t, cachefake.OpSet, "maybe:1")
	if _, ok := fake.Peek(ctx, cachefn.DefaultAlias, "maybe:1"); ok {
		t.Fatalf("expected entry removed")
	}
}

func TestDeleteCacheForcesMiss(t *testing.T) {
	fake, m := newFakeManager(t)
	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", time.Minute, cachefn.Func(cachefn.Required("id")), countingReport(&calls))
	ctx := context.Background()

	if err := w.DeleteCache(ctx, cachefn.Pos(9)); err != nil {
		t.Fatalf("delete of a missing entry should not fail: %v", err)
	}
	if _, err := w.Invoke(ctx, cachefn.Pos(9)); err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if err := w.DeleteCache(ctx, cachefn.Kw("id", 9)); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := w.Invoke(ctx, cachefn.Pos(9)); err != nil {
		t.Fatalf("invoke after delete failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected re-execution after delete, got %d calls", calls.Load())
	}
	fake.AssertCalled(t, cachefake.OpDelete, "report:9", 2)
}

func TestWrapperRoutesByAlias(t *testing.T) {
	fake, m := newFakeManager(t, "reports")
	ctx := context.Background()
	fn := func(ctx context.Context, inv cachefn.Invocation) (string, error) { return "v", nil }

	cases := []struct {
		database string
		alias    string
	}{
		{database: "reports", alias: "reports"},
		{database: "", alias: cachefn.DefaultAlias},
		{database: "archive", alias: cachefn.DefaultAlias},
	}
	for _, tc := range cases {
		key := "route:" + tc.database
		w := cachefn.MustCached(m, key, time.Minute, cachefn.Func(), fn, cachefn.WithDatabase(tc.database))
		if _, err := w.Invoke(ctx, cachefn.Args{}); err != nil {
			t.Fatalf("invoke via %q failed: %v", tc.database, err)
		}
		if _, ok := fake.Peek(ctx, tc.alias, key); !ok {
			t.Fatalf("expected %q to reach the %q connection", tc.database, tc.alias)
		}
	}
	if fake.Built("reports") != 1 || fake.Built(cachefn.DefaultAlias) != 1 {
		t.Fatalf("expected one construction per alias, got reports=%d default=%d", fake.Built("reports"), fake.Built(cachefn.DefaultAlias))
	}
	if got := fake.Aliases(); len(got) != 2 {
		t.Fatalf("expected two aliases built, got %v", got)
	}
}

func TestWrapperWithoutDefaultIsConfigurationError(t *testing.T) {
	fake := cachefake.New()
	m := cachefn.New(cachefn.Registry{"reports": {Driver: cachefn.DriverMemory}}, cachefn.WithConnectionFactory(fake.Factory()))
	defer m.Close()

	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", time.Minute, cachefn.Func(cachefn.Required("id")), countingReport(&calls),
		cachefn.WithDatabase("archive"))

	_, err := w.Invoke(context.Background(), cachefn.Pos(1))
	if !errors.Is(err, cachefn.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	var ce *cachefn.ConfigurationError
	if !errors.As(err, &ce) || ce.Alias != "archive" {
		t.Fatalf("expected ConfigurationError for archive, got %#v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no execution without a connection")
	}
}

func TestRefreshCacheExecutesBeforeResolvingConnection(t *testing.T) {
	fake := cachefake.New()
	m := cachefn.New(cachefn.Registry{"reports": {Driver: cachefn.DriverMemory}}, cachefn.WithConnectionFactory(fake.Factory()))
	defer m.Close()

	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", time.Minute, cachefn.Func(cachefn.Required("id")), countingReport(&calls),
		cachefn.WithDatabase("archive"))

	if _, err := w.RefreshCache(context.Background(), cachefn.Pos(1)); !errors.Is(err, cachefn.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected refresh to execute the target once, got %d", calls.Load())
	}
}

func TestConnectionResolverRoutesByKey(t *testing.T) {
	ctx := context.Background()
	fake := cachefake.New()
	type routed struct{ key, alias string }
	var seen []routed
	resolver := func(ctx context.Context, key, alias string) (cachefn.Connection, error) {
		seen = append(seen, routed{key, alias})
		shard := "shard-even"
		if key[len(key)-1]%2 == 1 {
			shard = "shard-odd"
		}
		return fake.Connection(ctx, shard), nil
	}
	m := cachefn.New(cachefn.Registry{}, cachefn.WithConnectionResolver(resolver))
	defer m.Close()

	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", time.Minute, cachefn.Func(cachefn.Required("id")), countingReport(&calls),
		cachefn.WithDatabase("reports"))
	for _, id := range []int{1, 2, 1, 2} {
		if _, err := w.Invoke(ctx, cachefn.Pos(id)); err != nil {
			t.Fatalf("invoke %d failed: %v", id, err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one execution per key, got %d", calls.Load())
	}
	if _, ok := fake.Peek(ctx, "shard-odd", "report:1"); !ok {
		t.Fatalf("expected report:1 on the odd shard")
	}
	if _, ok := fake.Peek(ctx, "shard-even", "report:2"); !ok {
		t.Fatalf("expected report:2 on the even shard")
	}
	if _, ok := fake.Peek(ctx, "shard-even", "report:1"); ok {
		t.Fatalf("expected report:1 absent from the even shard")
	}
	if len(seen) != 4 || seen[0] != (routed{"report:1", "reports"}) {
		t.Fatalf("unexpected resolver calls %v", seen)
	}

	if err := w.DeleteCache(ctx, cachefn.Pos(2)); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	fake.AssertCalled(t, cachefake.OpDelete, "report:2", 1)
	if _, ok := fake.Peek(ctx, "shard-even", "report:2"); ok {
		t.Fatalf("expected report:2 deleted from the even shard")
	}
}

func TestMethodBindingUsesEachReceiver(t *testing.T) {
	_, m := newFakeManager(t)
	lookup := cachefn.MustCached(m, "svc_{x}", time.Minute, cachefn.Method(cachefn.Required("x")),
		func(ctx context.Context, inv cachefn.Invocation) (string, error) {
			svc := inv.Receiver().(*service)
			svc.calls.Add(1)
			return svc.Name + ":" + fmt.Sprint(cachefn.Arg[int](inv, "x")), nil
		})
	a, b := &service{Name: "a"}, &service{Name: "b"}
	boundA, boundB := lookup.Bind(a), lookup.Bind(b)
	ctx := context.Background()

	if lookup.Bound() || !boundA.Bound() || boundA.Receiver() != a {
		t.Fatalf("expected Bind to return a bound copy")
	}

	gotA, err := boundA.Call(ctx, cachefn.Pos(1))
	if err != nil {
		t.Fatalf("call a failed: %v", err)
	}
	gotB, err := boundB.Call(ctx, cachefn.Pos(1))
	if err != nil {
		t.Fatalf("call b failed: %v", err)
	}
	if gotA != "a:1" || gotB != "b:1" || a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Fatalf("expected independent executions, got %q %q", gotA, gotB)
	}

	keyA, _ := boundA.CacheKey(cachefn.Pos(1))
	keyB, _ := boundB.CacheKey(cachefn.Pos(1))
	if keyA != "svc_1" || keyA != keyB {
		t.Fatalf("expected receiver-independent keys, got %q %q", keyA, keyB)
	}

	unbound, err := lookup.Invoke(ctx, cachefn.Pos(b, 2))
	if err != nil {
		t.Fatalf("unbound invoke failed: %v", err)
	}
	if unbound != "b:2" {
		t.Fatalf("expected the explicit receiver to execute, got %q", unbound)
	}
}

func TestMethodTemplateCanReferenceReceiver(t *testing.T) {
	_, m := newFakeManager(t)
	lookup := cachefn.MustCached(m, "svc_{self.Name}_{x}", time.Minute, cachefn.Method(cachefn.Required("x")),
		func(ctx context.Context, inv cachefn.Invocation) (int, error) { return 0, nil })

	keyA, err := lookup.Bind(&service{Name: "a"}).CacheKey(cachefn.Pos(1))
	if err != nil {
		t.Fatalf("cache key failed: %v", err)
	}
	keyB, _ := lookup.Bind(&service{Name: "b"}).CacheKey(cachefn.Pos(1))
	if keyA != "svc_a_1" || keyB != "svc_b_1" {
		t.Fatalf("unexpected keys %q %q", keyA, keyB)
	}
}

func TestAttributePlaceholders(t *testing.T) {
	_, m := newFakeManager(t)
	w := cachefn.MustCached(m, "obj_param_{obj1.name}_{obj2.name}", time.Minute,
		cachefn.Func(cachefn.Required("obj1"), cachefn.Required("obj2")),
		func(ctx context.Context, inv cachefn.Invocation) (bool, error) { return true, nil })

	key, err := w.CacheKey(cachefn.Pos(named{Name: "name1"}, &named{Name: "name2"}))
	if err != nil {
		t.Fatalf("cache key failed: %v", err)
	}
	if key != "obj_param_name1_name2" {
		t.Fatalf("expected obj_param_name1_name2, got %q", key)
	}
}

func TestUnsupportedCallablesFailBeforeBackend(t *testing.T) {
	fake, m := newFakeManager(t)
	fn := func(ctx context.Context, inv cachefn.Invocation) (int, error) { return 1, nil }
	ctx := context.Background()

	for _, sig := range []cachefn.Signature{cachefn.StaticMethod(), cachefn.ClassMethod()} {
		w, err := cachefn.Cached(m, "static", time.Minute, sig, fn, cachefn.WithName("Widget.build"))
		if err != nil {
			t.Fatalf("wrap failed: %v", err)
		}
		if _, err := w.Invoke(ctx, cachefn.Args{}); !errors.Is(err, cachefn.ErrUnsupportedCallable) {
			t.Fatalf("invoke: expected ErrUnsupportedCallable, got %v", err)
		}
		if _, err := w.Call(ctx, cachefn.Args{}); !errors.Is(err, cachefn.ErrUnsupportedCallable) {
			t.Fatalf("call: expected ErrUnsupportedCallable, got %v", err)
		}
		var ue *cachefn.UnsupportedCallableError
		if _, err := w.CacheKey(cachefn.Args{}); !errors.As(err, &ue) || ue.Kind != sig.Kind || ue.Callable != "Widget.build" {
			t.Fatalf("expected UnsupportedCallableError, got %#v", err)
		}
	}
	fake.AssertTotal(t, cachefake.OpGet, 0)
}

func TestCorruptPayloadIsSerializationError(t *testing.T) {
	fake, m := newFakeManager(t)
	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", time.Minute, cachefn.Func(cachefn.Required("id")), countingReport(&calls))
	ctx := context.Background()

	if err := fake.Put(ctx, cachefn.DefaultAlias, "report:5", []byte("not-json"), time.Minute); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	_, err := w.Invoke(ctx, cachefn.Pos(5))
	if !errors.Is(err, cachefn.ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
	var se *cachefn.SerializationError
	if !errors.As(err, &se) || se.Key != "report:5" || se.Op != "decode" {
		t.Fatalf("expected decode SerializationError, got %#v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected a corrupt entry not to be treated as a miss")
	}
}

func TestUnencodableResultIsSerializationError(t *testing.T) {
	_, m := newFakeManager(t)
	w := cachefn.MustCached(m, "fn", time.Minute, cachefn.Func(),
		func(ctx context.Context, inv cachefn.Invocation) (func(), error) { return func() {}, nil })

	if _, err := w.Invoke(context.Background(), cachefn.Args{}); !errors.Is(err, cachefn.ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
}

func TestBackendErrorsPropagate(t *testing.T) {
	fake, m := newFakeManager(t)
	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", time.Minute, cachefn.Func(cachefn.Required("id")), countingReport(&calls))
	ctx := context.Background()
	boom := errors.New("backend down")

	fake.SetError(cachefake.OpGet, boom)
	if _, err := w.Invoke(ctx, cachefn.Pos(1)); !errors.Is(err, boom) {
		t.Fatalf("expected get error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no execution when the read fails")
	}
	fake.SetError(cachefake.OpGet, nil)

	fake.SetError(cachefake.OpSet, boom)
	if _, err := w.Invoke(ctx, cachefn.Pos(1)); !errors.Is(err, boom) {
		t.Fatalf("expected set error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected execution before the failed write, got %d", calls.Load())
	}
	fake.SetError(cachefake.OpSet, nil)

	fake.SetError(cachefake.OpDelete, boom)
	if err := w.DeleteCache(ctx, cachefn.Pos(1)); !errors.Is(err, boom) {
		t.Fatalf("expected delete error, got %v", err)
	}
}

func TestTargetErrorIsNotCached(t *testing.T) {
	fake, m := newFakeManager(t)
	boom := errors.New("lookup failed")
	w := cachefn.MustCached(m, "fail", time.Minute, cachefn.Func(),
		func(ctx context.Context, inv cachefn.Invocation) (int, error) { return 0, boom })

	if _, err := w.Invoke(context.Background(), cachefn.Args{}); !errors.Is(err, boom) {
		t.Fatalf("expected target error, got %v", err)
	}
	fake.AssertTotal(t, cachefake.OpSet, 0)
}

func TestBindingErrorsFailBeforeBackend(t *testing.T) {
	fake, m := newFakeManager(t)
	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", time.Minute, cachefn.Func(cachefn.Required("id")), countingReport(&calls))

	if _, err := w.Invoke(context.Background(), cachefn.Pos(1, 2)); !errors.Is(err, cachefn.ErrBinding) {
		t.Fatalf("expected ErrBinding, got %v", err)
	}
	if _, err := w.Invoke(context.Background(), cachefn.Kw("other", 1)); !errors.Is(err, cachefn.ErrBinding) {
		t.Fatalf("expected ErrBinding, got %v", err)
	}
	fake.AssertTotal(t, cachefake.OpGet, 0)
	if calls.Load() != 0 {
		t.Fatalf("expected no execution")
	}
}

func TestCachedValidatesConfiguration(t *testing.T) {
	_, m := newFakeManager(t)
	fn := func(ctx context.Context, inv cachefn.Invocation) (int, error) { return 0, nil }
	sig := cachefn.Func(cachefn.Required("id"))

	if _, err := cachefn.Cached(m, "k:{id}", 0, sig, fn); !errors.Is(err, cachefn.ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
	if _, err := cachefn.Cached(m, "k:{id}", -time.Second, sig, fn); !errors.Is(err, cachefn.ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL for negative ttl, got %v", err)
	}
	if _, err := cachefn.Cached(m, "k:{other}", time.Minute, sig, fn); !errors.Is(err, cachefn.ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
	if _, err := cachefn.Cached(m, "k:{id", time.Minute, sig, fn); !errors.Is(err, cachefn.ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate for malformed template, got %v", err)
	}
	if _, err := cachefn.Cached(m, "k", time.Minute, cachefn.Func(cachefn.Optional("a", 1), cachefn.Required("b")), fn); !errors.Is(err, cachefn.ErrBinding) {
		t.Fatalf("expected ErrBinding for bad signature, got %v", err)
	}
	if _, err := cachefn.Cached[int](nil, "k", time.Minute, sig, fn); err == nil {
		t.Fatalf("expected nil manager error")
	}
	if _, err := cachefn.Cached[int](m, "k", time.Minute, sig, nil); err == nil {
		t.Fatalf("expected nil function error")
	}

	w, err := cachefn.Cached(m, "k:{id}", 2*time.Minute, sig, fn)
	if err != nil || w.TTL() != 2*time.Minute {
		t.Fatalf("expected valid wrapper, got %v", err)
	}
}

func TestMustCachedPanics(t *testing.T) {
	_, m := newFakeManager(t)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	cachefn.MustCached(m, "k", 0, cachefn.Func(),
		func(ctx context.Context, inv cachefn.Invocation) (int, error) { return 0, nil })
}

func TestCustomKeyFormatter(t *testing.T) {
	fake, m := newFakeManager(t)
	formatter := cachefn.FormatterFunc(func(template string, params cachefn.Params) (string, error) {
		id, _ := params.Get("id")
		if id == nil {
			return "", errors.New("id required")
		}
		return fmt.Sprintf("custom/%s/%v", template, id), nil
	})
	w := cachefn.MustCached(m, "users", time.Minute, cachefn.Func(cachefn.Optional("id", nil)),
		func(ctx context.Context, inv cachefn.Invocation) (int, error) { return 1, nil },
		cachefn.WithKeyFormatter(formatter))
	ctx := context.Background()

	if _, err := w.Invoke(ctx, cachefn.Pos(4)); err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	fake.AssertCalled(t, cachefake.OpSet, "custom/users/4", 1)

	if _, err := w.Invoke(ctx, cachefn.Args{}); !errors.Is(err, cachefn.ErrKeyFormat) {
		t.Fatalf("expected ErrKeyFormat, got %v", err)
	}
}

func TestManagerSerializerOption(t *testing.T) {
	fake := cachefake.New()
	m := fake.Manager(nil, cachefn.WithSerializer(cachefn.MsgpackSerializer{}))
	defer m.Close()
	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", time.Minute, cachefn.Func(cachefn.Required("id")), countingReport(&calls))
	ctx := context.Background()

	first, err := w.Invoke(ctx, cachefn.Pos(2))
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	second, err := w.Invoke(ctx, cachefn.Pos(2))
	if err != nil {
		t.Fatalf("cached invoke failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) || calls.Load() != 1 {
		t.Fatalf("expected msgpack round trip, got %+v vs %+v", first, second)
	}
	stored, _ := fake.Peek(ctx, cachefn.DefaultAlias, "report:2")
	if json.Valid(stored) {
		t.Fatalf("expected a msgpack payload, got %s", stored)
	}
}

func TestObserverSeesEachOperation(t *testing.T) {
	type event struct {
		op     string
		key    string
		hit    bool
		failed bool
		driver cachefn.Driver
	}
	var events []event
	obs := cachefn.ObserverFunc(func(ctx context.Context, op, key string, hit bool, err error, dur time.Duration, driver cachefn.Driver) {
		events = append(events, event{op: op, key: key, hit: hit, failed: err != nil, driver: driver})
	})
	fake := cachefake.New()
	m := fake.Manager(nil, cachefn.WithObserver(obs))
	defer m.Close()
	var calls atomic.Int32
	w := cachefn.MustCached(m, "report:{id}", time.Minute, cachefn.Func(cachefn.Required("id")), countingReport(&calls))
	ctx := context.Background()

	_, _ = w.Invoke(ctx, cachefn.Pos(1))
	_, _ = w.Invoke(ctx, cachefn.Pos(1))
	_, _ = w.Call(ctx, cachefn.Pos(1))
	_, _ = w.RefreshCache(ctx, cachefn.Pos(1))
	_ = w.DeleteCache(ctx, cachefn.Pos(1))
	_, _ = w.Invoke(ctx, cachefn.Pos(1, 2))

	want := []event{
		{op: "invoke", key: "report:1", driver: cachefn.DriverMemory},
		{op: "invoke", key: "report:1", hit: true, driver: cachefn.DriverMemory},
		{op: "call"},
		{op: "refresh", key: "report:1", driver: cachefn.DriverMemory},
		{op: "delete", key: "report:1", driver: cachefn.DriverMemory},
		{op: "invoke", failed: true},
	}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("unexpected events:\n got %+v\nwant %+v", events, want)
	}
}

func TestArgConversion(t *testing.T) {
	_, m := newFakeManager(t)
	w := cachefn.MustCached(m, "arg:{n}:{s}", time.Minute, cachefn.Func(cachefn.Required("n"), cachefn.Optional("s", nil)),
		func(ctx context.Context, inv cachefn.Invocation) (string, error) {
			if got := cachefn.Arg[string](inv, "n"); got != "" {
				return "", errors.Newf("expected zero value for mismatched type, got %q", got)
			}
			if got := cachefn.Arg[string](inv, "missing"); got != "" {
				return "", errors.Newf("expected zero value for missing name, got %q", got)
			}
			if inv.Params().Len() != 2 {
				return "", errors.Newf("expected two params, got %d", inv.Params().Len())
			}
			return fmt.Sprint(cachefn.Arg[int](inv, "n")), nil
		})

	got, err := w.Call(context.Background(), cachefn.Pos(5))
	if err != nil || got != "5" {
		t.Fatalf("unexpected call result %q err=%v", got, err)
	}
}
