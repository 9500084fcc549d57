package cachefn

import (
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// KeyFormatter renders the cache key for one call from the wrapper's template
// and the call's bound parameters.
type KeyFormatter interface {
	Format(template string, params Params) (string, error)
}

// FormatterFunc adapts a function to the KeyFormatter interface.
type FormatterFunc func(template string, params Params) (string, error)

// Format implements KeyFormatter.
func (f FormatterFunc) Format(template string, params Params) (string, error) {
	return f(template, params)
}

// TemplateFormatter is the default formatter. Parsed templates are cached.
type TemplateFormatter struct {
	parsed sync.Map
}

// Format implements KeyFormatter.
func (f *TemplateFormatter) Format(template string, params Params) (string, error) {
	if cached, ok := f.parsed.Load(template); ok {
		return cached.(*Template).Render(params)
	}
	t, err := ParseTemplate(template)
	if err != nil {
		return "", err
	}
	f.parsed.Store(template, t)
	return t.Render(params)
}

const (
	defaultHashMaxLength = 250
	hashPrefixLength     = 64
)

// HashingFormatter shortens keys that are too long or contain whitespace or
// control characters, which memcached and NATS reject. Safe keys pass through
// unchanged; others keep a readable prefix followed by an xxhash digest.
type HashingFormatter struct {
	// Inner renders the key first. Defaults to TemplateFormatter.
	Inner KeyFormatter
	// MaxLength defaults to 250.
	MaxLength int

	once  sync.Once
	inner KeyFormatter
}

// Format implements KeyFormatter.
func (f *HashingFormatter) Format(template string, params Params) (string, error) {
	f.once.Do(func() {
		f.inner = f.Inner
		if f.inner == nil {
			f.inner = &TemplateFormatter{}
		}
	})
	key, err := f.inner.Format(template, params)
	if err != nil {
		return "", err
	}
	max := f.MaxLength
	if max <= 0 {
		max = defaultHashMaxLength
	}
	if len(key) <= max && !strings.ContainsFunc(key, unsafeKeyRune) {
		return key, nil
	}
	return hashKey(key), nil
}

func unsafeKeyRune(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}

func hashKey(key string) string {
	prefix := strings.Map(func(r rune) rune {
		if unsafeKeyRune(r) {
			return '_'
		}
		return r
	}, key)
	if len(prefix) > hashPrefixLength {
		prefix = strings.ToValidUTF8(prefix[:hashPrefixLength], "")
	}
	return prefix + "#" + strconv.FormatUint(xxhash.Sum64String(key), 16)
}
