package cachefn

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrBinding reports call arguments that do not satisfy the wrapped signature.
	ErrBinding = errors.New("cachefn: arguments do not match signature")
	// ErrConfiguration reports a database alias with no configuration and no default.
	ErrConfiguration = errors.New("cachefn: connection not configured")
	// ErrUnsupportedCallable reports a static or class-level target.
	ErrUnsupportedCallable = errors.New("cachefn: unsupported callable")
	// ErrSerialization marks payloads that fail to encode or decode.
	ErrSerialization = errors.New("cachefn: serialization failed")
	// ErrKeyFormat reports placeholders that cannot be resolved against bound arguments.
	ErrKeyFormat = errors.New("cachefn: key format failed")

	ErrInvalidTemplate = errors.New("cachefn: invalid key template")
	ErrInvalidTTL      = errors.New("cachefn: ttl must be positive")
	ErrRouterClosed    = errors.New("cachefn: router closed")

	// ErrInvalidKey reports a rendered key the backend cannot store verbatim.
	// Wrap with HashingFormatter to make such keys safe.
	ErrInvalidKey = errors.New("cachefn: invalid key for backend")
)

// BindingError describes why arguments could not be bound to a signature.
type BindingError struct {
	Callable string
	Reason   string
}

func (e *BindingError) Error() string {
	if e.Callable == "" {
		return fmt.Sprintf("cachefn: %s", e.Reason)
	}
	return fmt.Sprintf("cachefn: %s: %s", e.Callable, e.Reason)
}

func (e *BindingError) Is(target error) bool { return target == ErrBinding }

// ConfigurationError reports an alias that resolves to no configuration.
type ConfigurationError struct {
	Alias string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("cachefn: no connection configured for %q and no %q connection is available", e.Alias, DefaultAlias)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// UnsupportedCallableError reports a static or class-level wrapper target.
type UnsupportedCallableError struct {
	Callable string
	Kind     CallableKind
}

func (e *UnsupportedCallableError) Error() string {
	return fmt.Sprintf("cachefn: %s targets are not supported, use a plain function for %s", e.Kind, e.Callable)
}

func (e *UnsupportedCallableError) Is(target error) bool { return target == ErrUnsupportedCallable }

// SerializationError reports a stored payload that could not be encoded or
// decoded. A corrupt entry is never treated as a miss.
type SerializationError struct {
	Op  string
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("cachefn: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

func serializationError(err error, op, key string) error {
	return errors.WithStack(&SerializationError{Op: op, Key: key, Err: err})
}

func bindingErrorf(callable, format string, args ...any) error {
	return errors.WithStack(&BindingError{Callable: callable, Reason: fmt.Sprintf(format, args...)})
}
