package cachefn

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	memcachedMaxKeyLength = 250
	// exptimes above this are read by the server as absolute unix timestamps.
	memcachedMaxRelativeExpiry = 30 * 24 * 60 * 60
)

var dialMemcached = func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: 3 * time.Second}
	return d.DialContext(ctx, network, addr)
}

type memcachedConnection struct {
	addrs  []string
	prefix string
	pools  map[string]chan *memcachedConn
	rr     uint32
}

type memcachedConn struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
}

func newMemcachedConnection(addrs []string, prefix string) Connection {
	if len(addrs) == 0 {
		addrs = []string{defaultMemcachedAddress}
	}
	pools := make(map[string]chan *memcachedConn, len(addrs))
	for _, addr := range addrs {
		pools[addr] = make(chan *memcachedConn, 16)
	}
	return &memcachedConnection{addrs: addrs, prefix: prefix, pools: pools}
}

func (c *memcachedConnection) Driver() Driver { return DriverMemcached }

func (c *memcachedConnection) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cacheKey, err := c.cacheKey(key)
	if err != nil {
		return nil, false, err
	}
	mc, err := c.acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	bad := false
	defer func() { c.release(mc, bad) }()

	if _, err := fmt.Fprintf(mc.conn, "get %s\r\n", cacheKey); err != nil {
		bad = true
		return nil, false, err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return nil, false, err
	}
	if line == "END\r\n" {
		return nil, false, nil
	}

	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 4 || fields[0] != "VALUE" {
		bad = true
		return nil, false, errors.Newf("memcached unexpected response: %s", strings.TrimSpace(line))
	}
	size, err := strconv.Atoi(fields[3])
	if err != nil {
		bad = true
		return nil, false, errors.Wrap(err, "memcached parse length")
	}
	value := make([]byte, size)
	if _, err := io.ReadFull(mc.reader, value); err != nil {
		bad = true
		return nil, false, err
	}
	// trailing \r\n then END
	for i := 0; i < 2; i++ {
		if _, err := mc.reader.ReadString('\n'); err != nil {
			bad = true
			return nil, false, err
		}
	}
	return value, true, nil
}

func (c *memcachedConnection) SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	cacheKey, err := c.cacheKey(key)
	if err != nil {
		return err
	}
	mc, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	bad := false
	defer func() { c.release(mc, bad) }()

	if _, err := fmt.Fprintf(mc.conn, "set %s 0 %d %d\r\n", cacheKey, memcachedExptime(ttl, time.Now()), len(value)); err != nil {
		bad = true
		return err
	}
	if _, err := mc.conn.Write(append(cloneBytes(value), '\r', '\n')); err != nil {
		bad = true
		return err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return err
	}
	if !strings.HasPrefix(line, "STORED") {
		bad = true
		return errors.Newf("memcached set failed: %s", strings.TrimSpace(line))
	}
	return nil
}

func (c *memcachedConnection) Delete(ctx context.Context, key string) error {
	cacheKey, err := c.cacheKey(key)
	if err != nil {
		return err
	}
	mc, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	bad := false
	defer func() { c.release(mc, bad) }()

	if _, err := fmt.Fprintf(mc.conn, "delete %s\r\n", cacheKey); err != nil {
		bad = true
		return err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return err
	}
	switch strings.TrimSpace(line) {
	case "DELETED", "NOT_FOUND":
		return nil
	default:
		bad = true
		return errors.Newf("memcached delete failed: %s", strings.TrimSpace(line))
	}
}

// Close drops every pooled socket.
func (c *memcachedConnection) Close() error {
	for _, pool := range c.pools {
	drain:
		for {
			select {
			case mc := <-pool:
				if mc != nil && mc.conn != nil {
					_ = mc.conn.Close()
				}
			default:
				break drain
			}
		}
	}
	return nil
}

func (c *memcachedConnection) acquire(ctx context.Context) (*memcachedConn, error) {
	var errs bytes.Buffer
	start := int(atomic.AddUint32(&c.rr, 1)-1) % len(c.addrs)
	for i := 0; i < len(c.addrs); i++ {
		addr := c.addrs[(start+i)%len(c.addrs)]
		if pool, ok := c.pools[addr]; ok {
			select {
			case mc := <-pool:
				if mc != nil {
					return mc, nil
				}
			default:
			}
		}
		conn, err := dialMemcached(ctx, "tcp", addr)
		if err == nil {
			return &memcachedConn{addr: addr, conn: conn, reader: bufio.NewReader(conn)}, nil
		}
		fmt.Fprintf(&errs, "%s: %v; ", addr, err)
	}
	return nil, errors.Newf("memcached dial failed: %s", errs.String())
}

func (c *memcachedConnection) release(mc *memcachedConn, bad bool) {
	if mc == nil || mc.conn == nil {
		return
	}
	if bad {
		_ = mc.conn.Close()
		return
	}
	pool, ok := c.pools[mc.addr]
	if !ok {
		_ = mc.conn.Close()
		return
	}
	select {
	case pool <- mc:
	default:
		_ = mc.conn.Close()
	}
}

// cacheKey prefixes key and rejects anything the text protocol cannot frame.
func (c *memcachedConnection) cacheKey(key string) (string, error) {
	if c.prefix != "" {
		key = c.prefix + ":" + key
	}
	if key == "" || len(key) > memcachedMaxKeyLength {
		return "", errors.Wrapf(ErrInvalidKey, "memcached key length %d", len(key))
	}
	for i := 0; i < len(key); i++ {
		if b := key[i]; b <= ' ' || b == 0x7f {
			return "", errors.Wrapf(ErrInvalidKey, "memcached key %q contains whitespace or control bytes", key)
		}
	}
	return key, nil
}

func memcachedExptime(ttl time.Duration, now time.Time) int64 {
	if ttl <= 0 {
		return 0
	}
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		return 1
	}
	if seconds > memcachedMaxRelativeExpiry {
		return now.Add(ttl).Unix()
	}
	return seconds
}
