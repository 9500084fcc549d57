package cachefn

import (
	"context"
	"time"
)

// shapingConnection enforces compression and size limits on top of any
// concrete Connection.
type shapingConnection struct {
	inner Connection
	codec CompressionCodec
	max   int
}

func newShapingConnection(inner Connection, codec CompressionCodec, max int) Connection {
	if (codec == CompressionNone || codec == "") && max <= 0 {
		return inner
	}
	return &shapingConnection{inner: inner, codec: codec, max: max}
}

func (c *shapingConnection) Driver() Driver { return c.inner.Driver() }

func (c *shapingConnection) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, ok, err := c.inner.Get(ctx, key)
	if err != nil || !ok {
		return body, ok, err
	}
	decoded, err := decodeValue(body)
	if err != nil {
		return nil, false, serializationError(err, "decode", key)
	}
	return decoded, true, nil
}

func (c *shapingConnection) SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	encoded, err := encodeValue(c.codec, c.max, value)
	if err != nil {
		return err
	}
	return c.inner.SetEx(ctx, key, ttl, encoded)
}

func (c *shapingConnection) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

func (c *shapingConnection) Close() error { return c.inner.Close() }
