package cachefn

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	encryptionMagic = []byte("ENC1")

	ErrEncryptionKey = errors.New("cachefn: encryption key must be 16, 24, or 32 bytes")
	ErrDecryptFailed = errors.New("cachefn: decrypt failed")
)

type encryptingConnection struct {
	inner Connection
	aead  cipher.AEAD
}

func newEncryptingConnection(inner Connection, key []byte) (Connection, error) {
	if len(key) == 0 {
		return inner, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		_ = inner.Close()
		return nil, ErrEncryptionKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return &encryptingConnection{inner: inner, aead: aead}, nil
}

func (c *encryptingConnection) Driver() Driver { return c.inner.Driver() }

func (c *encryptingConnection) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, ok, err := c.inner.Get(ctx, key)
	if err != nil || !ok {
		return body, ok, err
	}
	plain, err := c.decrypt(body)
	if err != nil {
		return nil, false, serializationError(err, "decode", key)
	}
	return plain, true, nil
}

func (c *encryptingConnection) SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	enc, err := c.encrypt(value)
	if err != nil {
		return err
	}
	return c.inner.SetEx(ctx, key, ttl, enc)
}

func (c *encryptingConnection) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

func (c *encryptingConnection) Close() error { return c.inner.Close() }

func (c *encryptingConnection) encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ct := c.aead.Seal(nil, nonce, plain, nil)
	buf := make([]byte, 0, len(encryptionMagic)+1+len(nonce)+len(ct))
	buf = append(buf, encryptionMagic...)
	buf = append(buf, byte(len(nonce)))
	buf = append(buf, nonce...)
	buf = append(buf, ct...)
	return buf, nil
}

// decrypt rejects payloads that lack the encryption header.
func (c *encryptingConnection) decrypt(in []byte) ([]byte, error) {
	if len(in) < len(encryptionMagic)+1 || !bytes.Equal(in[:len(encryptionMagic)], encryptionMagic) {
		return nil, ErrDecryptFailed
	}
	nonceLen := int(in[len(encryptionMagic)])
	offset := len(encryptionMagic) + 1
	if len(in) < offset+nonceLen {
		return nil, ErrDecryptFailed
	}
	plain, err := c.aead.Open(nil, in[offset:offset+nonceLen], in[offset+nonceLen:], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
