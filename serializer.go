package cachefn

import (
	"encoding/json"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer converts wrapped results to and from stored payloads.
// Loads(Dumps(v), &out) must reproduce v.
type Serializer interface {
	Dumps(v any) ([]byte, error)
	Loads(data []byte, out any) error
}

// JSONSerializer is the default serializer.
type JSONSerializer struct{}

func (JSONSerializer) Dumps(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONSerializer) Loads(data []byte, out any) error { return json.Unmarshal(data, out) }

// MsgpackSerializer stores payloads as MessagePack.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Dumps(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (MsgpackSerializer) Loads(data []byte, out any) error { return msgpack.Unmarshal(data, out) }

// isNull reports results that refresh treats as absent: untyped nil and nil
// pointers, maps, slices, channels, funcs or interfaces.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
