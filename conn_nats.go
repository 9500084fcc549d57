package cachefn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const natsEnvelopeMarker = "cachefn-v1"

// NATSKeyValue captures the subset of nats.KeyValue used by the connection.
type NATSKeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
	Purge(key string, opts ...nats.DeleteOpt) error
}

type natsConnection struct {
	kv        NATSKeyValue
	prefix    string
	bucketTTL bool
	nc        *nats.Conn
}

type natsEnvelope struct {
	Marker    string `json:"m"`
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"ea"`
}

func newNATSConnection(cfg ConnectionConfig) (Connection, error) {
	if cfg.NATSKeyValue != nil {
		return &natsConnection{kv: cfg.NATSKeyValue, prefix: cfg.Prefix, bucketTTL: cfg.BucketTTL}, nil
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	opts := []nats.Option{nats.Name("cachefn")}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.DialTimeout))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	kv, err := openNATSBucket(nc, cfg.Bucket, cfg.BucketMaxAge)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &natsConnection{kv: kv, prefix: cfg.Prefix, bucketTTL: cfg.BucketTTL, nc: nc}, nil
}

func openNATSBucket(nc *nats.Conn, bucket string, maxAge time.Duration) (nats.KeyValue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		return js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket, TTL: maxAge})
	}
	return kv, err
}

func (c *natsConnection) Driver() Driver { return DriverNATS }

func (c *natsConnection) Get(_ context.Context, key string) ([]byte, bool, error) {
	cacheKey := c.cacheKey(key)
	entry, err := c.kv.Get(cacheKey)
	if isNATSMiss(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if entry.Operation() == nats.KeyValueDelete || entry.Operation() == nats.KeyValuePurge {
		return nil, false, nil
	}
	if c.bucketTTL {
		return cloneBytes(entry.Value()), true, nil
	}
	envelope, wrapped, err := decodeNATSEnvelope(entry.Value())
	if err != nil {
		return nil, false, err
	}
	if !wrapped {
		return cloneBytes(entry.Value()), true, nil
	}
	if envelope.ExpiresAt > 0 && time.Now().UnixMilli() > envelope.ExpiresAt {
		_ = c.kv.Purge(cacheKey)
		return nil, false, nil
	}
	return cloneBytes(envelope.Value), true, nil
}

func (c *natsConnection) SetEx(_ context.Context, key string, ttl time.Duration, value []byte) error {
	body := cloneBytes(value)
	if !c.bucketTTL {
		var err error
		if body, err = encodeNATSEnvelope(value, ttl); err != nil {
			return err
		}
	}
	_, err := c.kv.Put(c.cacheKey(key), body)
	return err
}

func (c *natsConnection) Delete(_ context.Context, key string) error {
	err := c.kv.Delete(c.cacheKey(key))
	if isNATSMiss(err) {
		return nil
	}
	return err
}

func (c *natsConnection) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}

func (c *natsConnection) cacheKey(key string) string {
	return "p." + encodeNATSKeyPart(c.prefix) + ".k." + encodeNATSKeyPart(key)
}

func encodeNATSEnvelope(value []byte, ttl time.Duration) ([]byte, error) {
	envelope := natsEnvelope{Marker: natsEnvelopeMarker, Value: cloneBytes(value)}
	if ttl > 0 {
		envelope.ExpiresAt = time.Now().Add(ttl).UnixMilli()
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal nats cache envelope: %w", err)
	}
	return body, nil
}

func decodeNATSEnvelope(body []byte) (natsEnvelope, bool, error) {
	var envelope natsEnvelope
	if len(body) == 0 || body[0] != '{' {
		return envelope, false, nil
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return natsEnvelope{}, false, fmt.Errorf("decode nats cache envelope: %w", err)
	}
	if envelope.Marker != natsEnvelopeMarker {
		return natsEnvelope{}, false, nil
	}
	return envelope, true, nil
}

func isNATSMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

func encodeNATSKeyPart(part string) string {
	if part == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(part))
}
