// Package cachetest provides a reusable contract suite for cachefn.Connection
// implementations.
//
// Example pattern:
//
//	func TestRedisConnectionContract(t *testing.T) {
//		conn, err := cachefn.NewConnection(ctx, cachefn.ConnectionConfig{
//			Driver: cachefn.DriverRedis,
//			Addr:   addr,
//			Prefix: "test",
//		})
//		if err != nil {
//			t.Fatalf("new redis connection: %v", err)
//		}
//		t.Cleanup(func() { _ = conn.Close() })
//
//		cachetest.RunConnectionContract(t, conn, cachetest.Options{
//			TTL:     time.Second,
//			TTLWait: 1500 * time.Millisecond,
//		})
//	}
package cachetest
