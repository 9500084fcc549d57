package cachefn

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

// NoneToken is rendered for absent values so keys stay compatible with
// existing deployments that produced them.
const NoneToken = "None"

// Attributer lets a value resolve placeholder attributes without reflection.
type Attributer interface {
	CacheAttr(name string) (any, bool)
}

// Template is a parsed key template. Placeholders use the format-string
// syntax {name}, {name.attr}, {name[key]} and {name:spec}; {{ and }} escape braces.
type Template struct {
	raw      string
	segments []segment
}

type segment struct {
	literal string
	field   *fieldRef
}

type fieldRef struct {
	expr string
	root string
	path []accessor
	spec string
}

type accessor struct {
	name  string
	index bool
}

// ParseTemplate parses a key template.
func ParseTemplate(raw string) (*Template, error) {
	exprs, literals, err := splitTemplate(raw)
	if err != nil {
		return nil, err
	}
	t := &Template{raw: raw}
	for i, lit := range literals {
		if lit != "" {
			t.segments = append(t.segments, segment{literal: lit})
		}
		if i >= len(exprs) {
			continue
		}
		ref, err := parseField(exprs[i])
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "template %q", raw), ErrInvalidTemplate)
		}
		t.segments = append(t.segments, segment{field: ref})
	}
	return t, nil
}

// MustParseTemplate is ParseTemplate that panics on error.
func MustParseTemplate(raw string) *Template {
	t, err := ParseTemplate(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the raw template text.
func (t *Template) String() string { return t.raw }

// Fields returns the root parameter names referenced by the template.
func (t *Template) Fields() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, seg := range t.segments {
		if seg.field == nil {
			continue
		}
		if _, ok := seen[seg.field.root]; ok {
			continue
		}
		seen[seg.field.root] = struct{}{}
		out = append(out, seg.field.root)
	}
	return out
}

// Render substitutes every placeholder with the string form of its bound value.
func (t *Template) Render(params Params) (string, error) {
	var b strings.Builder
	b.Grow(len(t.raw))
	for _, seg := range t.segments {
		if seg.field == nil {
			b.WriteString(seg.literal)
			continue
		}
		root, ok := params.Get(seg.field.root)
		if !ok {
			return "", errors.Mark(errors.Newf("cachefn: placeholder %q references unknown parameter %q", seg.field.expr, seg.field.root), ErrKeyFormat)
		}
		value, err := resolvePath(root, seg.field.path)
		if err != nil {
			return "", errors.Mark(errors.Wrapf(err, "cachefn: placeholder %q", seg.field.expr), ErrKeyFormat)
		}
		b.WriteString(formatValue(value, seg.field.spec))
	}
	return b.String(), nil
}

// splitTemplate separates literal text from placeholder bodies. There is
// always exactly one more literal than placeholder.
func splitTemplate(raw string) ([]string, []string, error) {
	var (
		exprs    []string
		literals []string
		lit      strings.Builder
	)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '{':
			if i+1 < len(raw) && raw[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(raw[i+1:], '}')
			if end < 0 {
				return nil, nil, errors.Mark(errors.Newf("template %q: unclosed placeholder at offset %d", raw, i), ErrInvalidTemplate)
			}
			body := raw[i+1 : i+1+end]
			if strings.ContainsRune(body, '{') {
				return nil, nil, errors.Mark(errors.Newf("template %q: nested placeholder at offset %d", raw, i), ErrInvalidTemplate)
			}
			literals = append(literals, lit.String())
			lit.Reset()
			exprs = append(exprs, body)
			i += end + 1
		case '}':
			if i+1 < len(raw) && raw[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, nil, errors.Mark(errors.Newf("template %q: single '}' at offset %d", raw, i), ErrInvalidTemplate)
		default:
			lit.WriteByte(c)
		}
	}
	literals = append(literals, lit.String())
	return exprs, literals, nil
}

func parseField(expr string) (*fieldRef, error) {
	ref := &fieldRef{expr: expr}
	name := expr
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		ref.spec = name[idx+1:]
		name = name[:idx]
	}
	if idx := strings.IndexByte(name, '!'); idx >= 0 {
		if conv := name[idx+1:]; conv != "s" {
			return nil, errors.Newf("unsupported conversion !%s", conv)
		}
		name = name[:idx]
	}
	if name == "" {
		return nil, errors.New("positional placeholders are not supported, name the parameter")
	}

	end := strings.IndexAny(name, ".[")
	if end < 0 {
		end = len(name)
	}
	ref.root = name[:end]
	if !isIdentifier(ref.root) {
		return nil, errors.Newf("placeholder root %q is not a parameter name", ref.root)
	}

	rest := name[end:]
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			stop := strings.IndexAny(rest, ".[")
			if stop < 0 {
				stop = len(rest)
			}
			attr := rest[:stop]
			if attr == "" {
				return nil, errors.Newf("empty attribute in %q", expr)
			}
			ref.path = append(ref.path, accessor{name: attr})
			rest = rest[stop:]
		case '[':
			stop := strings.IndexByte(rest, ']')
			if stop < 0 {
				return nil, errors.Newf("missing ']' in %q", expr)
			}
			key := rest[1:stop]
			if key == "" {
				return nil, errors.Newf("empty index in %q", expr)
			}
			ref.path = append(ref.path, accessor{name: key, index: true})
			rest = rest[stop+1:]
		default:
			return nil, errors.Newf("only '.' or '[' may follow ']' in %q", expr)
		}
	}
	return ref, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func resolvePath(value any, path []accessor) (any, error) {
	for _, step := range path {
		var err error
		if step.index {
			value, err = indexValue(value, step.name)
		} else {
			value, err = attrValue(value, step.name)
		}
		if err != nil {
			return nil, err
		}
	}
	return value, nil
}

func attrValue(value any, name string) (any, error) {
	if isNil(value) {
		return nil, errors.Newf("%s has no attribute %q", NoneToken, name)
	}
	if a, ok := value.(Attributer); ok {
		if v, ok := a.CacheAttr(name); ok {
			return v, nil
		}
		return nil, errors.Newf("%T has no attribute %q", value, name)
	}

	if m, ok := methodValue(reflect.ValueOf(value), name); ok {
		return m, nil
	}
	rv := indirect(reflect.ValueOf(value))
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			if v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key())); v.IsValid() {
				return v.Interface(), nil
			}
		}
	case reflect.Struct:
		if f, ok := structField(rv, name); ok {
			return f.Interface(), nil
		}
	}
	return nil, errors.Newf("%T has no attribute %q", value, name)
}

func indexValue(value any, key string) (any, error) {
	if isNil(value) {
		return nil, errors.Newf("%s is not subscriptable", NoneToken)
	}
	rv := indirect(reflect.ValueOf(value))
	switch rv.Kind() {
	case reflect.Map:
		kv, err := mapKey(rv.Type().Key(), key)
		if err != nil {
			return nil, err
		}
		if v := rv.MapIndex(kv); v.IsValid() {
			return v.Interface(), nil
		}
		return nil, errors.Newf("key %q not found in %T", key, value)
	case reflect.Slice, reflect.Array, reflect.String:
		i, err := strconv.Atoi(key)
		if err != nil {
			return nil, errors.Newf("%T indices must be integers, got %q", value, key)
		}
		if i < 0 {
			i += rv.Len()
		}
		if i < 0 || i >= rv.Len() {
			return nil, errors.Newf("index %s out of range for %T of length %d", key, value, rv.Len())
		}
		if rv.Kind() == reflect.String {
			return string(rv.String()[i]), nil
		}
		return rv.Index(i).Interface(), nil
	}
	return nil, errors.Newf("%T is not subscriptable", value)
}

func mapKey(keyType reflect.Type, key string) (reflect.Value, error) {
	switch keyType.Kind() {
	case reflect.String:
		return reflect.ValueOf(key).Convert(keyType), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return reflect.Value{}, errors.Newf("map key %q is not an integer", key)
		}
		return reflect.ValueOf(n).Convert(keyType), nil
	case reflect.Interface:
		if n, err := strconv.Atoi(key); err == nil {
			return reflect.ValueOf(n), nil
		}
		return reflect.ValueOf(key), nil
	}
	return reflect.Value{}, errors.Newf("unsupported map key type %s", keyType)
}

func structField(rv reflect.Value, name string) (reflect.Value, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, ok := f.Tag.Lookup("cache"); ok && tag == name {
			return rv.Field(i), true
		}
	}
	if f, ok := rt.FieldByName(name); ok && f.IsExported() {
		return rv.FieldByIndex(f.Index), true
	}
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.IsExported() && strings.EqualFold(f.Name, name) {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// methodValue calls a niladic method named name (or its exported form) that
// returns a single value.
func methodValue(rv reflect.Value, name string) (any, bool) {
	candidates := []string{name}
	if exported := exportName(name); exported != name {
		candidates = append(candidates, exported)
	}
	for _, candidate := range candidates {
		m := rv.MethodByName(candidate)
		if !m.IsValid() {
			continue
		}
		mt := m.Type()
		if mt.NumIn() != 0 || mt.NumOut() != 1 {
			continue
		}
		return m.Call(nil)[0].Interface(), true
	}
	return nil, false
}

func exportName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return rv
		}
		rv = rv.Elem()
	}
	return rv
}

// isNil reports untyped nil and nil pointers or interfaces.
func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func formatValue(value any, spec string) string {
	if isNil(value) {
		return NoneToken
	}
	if spec != "" {
		last := spec[len(spec)-1]
		if (last >= 'a' && last <= 'z') || (last >= 'A' && last <= 'Z') {
			return fmt.Sprintf("%"+spec, value)
		}
		return fmt.Sprintf("%"+spec+"v", value)
	}
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}
	return fmt.Sprint(value)
}
