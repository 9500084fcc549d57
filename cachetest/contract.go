package cachetest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goforj/cachefn"
)

// Options configures shared connection contract checks.
type Options struct {
	// CaseName is used to namespace keys. Defaults to t.Name().
	CaseName string
	// NullSemantics expects every read to miss.
	NullSemantics bool
	// SkipCloneCheck disables the "get returns a cloned value" assertion.
	SkipCloneCheck bool
	// TTL controls the expiry duration used in TTL tests.
	TTL time.Duration
	// TTLWait is how long the harness waits for expiry to occur.
	TTLWait time.Duration
	// SkipTTL disables the expiry assertion for backends with second granularity.
	SkipTTL bool
}

// RunConnectionContract runs a backend-agnostic connection contract suite.
func RunConnectionContract(t *testing.T, conn cachefn.Connection, opts Options) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 50 * time.Millisecond
	}
	wait := opts.TTLWait
	if wait <= 0 {
		wait = 120 * time.Millisecond
	}

	ctx := context.Background()
	key := func(s string) string {
		return sanitize(caseName) + ":" + s
	}

	// SetEx/Get round-trip.
	if err := conn.SetEx(ctx, key("alpha"), time.Minute, []byte("value")); err != nil {
		t.Fatalf("setex failed: %v", err)
	}
	body, ok, err := conn.Get(ctx, key("alpha"))
	if err != nil {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if opts.NullSemantics {
		if ok {
			t.Fatalf("expected miss for null semantics")
		}
	} else {
		if !ok || string(body) != "value" {
			t.Fatalf("unexpected get result: ok=%v body=%q", ok, string(body))
		}
		if !opts.SkipCloneCheck {
			body[0] = 'X'
			body2, ok2, err2 := conn.Get(ctx, key("alpha"))
			if err2 != nil || !ok2 || string(body2) != "value" {
				t.Fatalf("expected stored value unchanged, got ok=%v body=%q err=%v", ok2, string(body2), err2)
			}
		}
	}

	// Overwrite replaces the payload.
	if err := conn.SetEx(ctx, key("alpha"), time.Minute, []byte("second")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if !opts.NullSemantics {
		body, ok, err = conn.Get(ctx, key("alpha"))
		if err != nil || !ok || string(body) != "second" {
			t.Fatalf("expected overwritten value, got ok=%v body=%q err=%v", ok, string(body), err)
		}
	}

	// Missing keys miss without error.
	if _, ok, err := conn.Get(ctx, key("missing")); err != nil || ok {
		t.Fatalf("expected clean miss; ok=%v err=%v", ok, err)
	}

	// TTL expiry.
	if !opts.SkipTTL {
		if err := conn.SetEx(ctx, key("ttl"), ttl, []byte("v")); err != nil {
			t.Fatalf("setex ttl failed: %v", err)
		}
		if err := waitForMiss(ctx, conn, key("ttl"), wait); err != nil {
			t.Fatalf("expected ttl expiry: %v", err)
		}
	}

	// Delete, including a key that was never stored.
	if err := conn.SetEx(ctx, key("a"), time.Minute, []byte("1")); err != nil {
		t.Fatalf("setex a failed: %v", err)
	}
	if err := conn.Delete(ctx, key("a")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, err := conn.Get(ctx, key("a")); err != nil || ok {
		t.Fatalf("expected key a deleted; ok=%v err=%v", ok, err)
	}
	if err := conn.Delete(ctx, key("never")); err != nil {
		t.Fatalf("expected delete of missing key to succeed: %v", err)
	}
}

func waitForMiss(ctx context.Context, conn cachefn.Connection, key string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		_, ok, err := conn.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	_, ok, err := conn.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("key %q still present after %s", key, wait)
	}
	return nil
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
