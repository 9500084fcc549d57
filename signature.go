package cachefn

import "sort"

// DefaultReceiverName is the parameter name a method receiver binds to.
const DefaultReceiverName = "self"

// CallableKind classifies the wrapped target.
type CallableKind int

const (
	// KindFunc is a plain function with no receiver.
	KindFunc CallableKind = iota
	// KindMethod receives an instance (or a type token) as its implicit first argument.
	KindMethod
	// KindStaticMethod and KindClassMethod are declared for completeness and rejected at key build.
	KindStaticMethod
	KindClassMethod
)

func (k CallableKind) String() string {
	switch k {
	case KindFunc:
		return "function"
	case KindMethod:
		return "method"
	case KindStaticMethod:
		return "static method"
	case KindClassMethod:
		return "class method"
	default:
		return "unknown"
	}
}

// Param declares one formal parameter and its optional default.
type Param struct {
	Name       string
	Default    any
	HasDefault bool
}

// Required declares a parameter that must be supplied by every call.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a parameter with a default. A nil default renders as None.
func Optional(name string, def any) Param {
	return Param{Name: name, Default: def, HasDefault: true}
}

// Signature is the statically declared parameter table of a wrapped target.
type Signature struct {
	Kind CallableKind
	// Receiver names the implicit first parameter of a method. Defaults to "self".
	Receiver string
	Params   []Param
}

// Func declares the signature of a plain function.
func Func(params ...Param) Signature {
	return Signature{Kind: KindFunc, Params: params}
}

// Method declares the signature of an instance method; the receiver binds to "self".
func Method(params ...Param) Signature {
	return Signature{Kind: KindMethod, Receiver: DefaultReceiverName, Params: params}
}

// StaticMethod declares a static target. Wrappers built from it fail with ErrUnsupportedCallable.
func StaticMethod(params ...Param) Signature {
	return Signature{Kind: KindStaticMethod, Params: params}
}

// ClassMethod declares a class-level target. Wrappers built from it fail with ErrUnsupportedCallable.
func ClassMethod(params ...Param) Signature {
	return Signature{Kind: KindClassMethod, Params: params}
}

func (s Signature) receiverName() string {
	if s.Receiver == "" {
		return DefaultReceiverName
	}
	return s.Receiver
}

// names returns every bindable name, receiver first for methods.
func (s Signature) names() []string {
	out := make([]string, 0, len(s.Params)+1)
	if s.Kind == KindMethod {
		out = append(out, s.receiverName())
	}
	for _, p := range s.Params {
		out = append(out, p.Name)
	}
	return out
}

// formals returns the full positional parameter list, receiver first for methods.
func (s Signature) formals() []Param {
	if s.Kind != KindMethod {
		return s.Params
	}
	out := make([]Param, 0, len(s.Params)+1)
	out = append(out, Required(s.receiverName()))
	return append(out, s.Params...)
}

// Args carries the actual arguments of one call.
type Args struct {
	Positional []any
	Keywords   map[string]any
}

// Pos builds Args from positional values.
func Pos(values ...any) Args {
	return Args{Positional: values}
}

// Kw builds Args holding a single keyword argument.
func Kw(name string, value any) Args {
	return Args{}.Kw(name, value)
}

// Kw returns a copy of a with the keyword argument added.
func (a Args) Kw(name string, value any) Args {
	kw := make(map[string]any, len(a.Keywords)+1)
	for k, v := range a.Keywords {
		kw[k] = v
	}
	kw[name] = value
	return Args{Positional: a.Positional, Keywords: kw}
}

// Params is the bound parameter set of one call, in declaration order.
type Params struct {
	names  []string
	values map[string]any
}

// Get returns the bound value for name.
func (p Params) Get(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Names returns parameter names in declaration order.
func (p Params) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Len reports the number of bound parameters.
func (p Params) Len() int { return len(p.names) }

// Map returns a copy of the bound values keyed by name.
func (p Params) Map() map[string]any {
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Bind resolves args against the signature. When bound is true the receiver
// fills the implicit first parameter of a method before any positional value.
func (s Signature) Bind(callable string, receiver any, bound bool, args Args) (Params, error) {
	formals := s.formals()
	positional := args.Positional
	if bound && s.Kind == KindMethod {
		positional = append([]any{receiver}, positional...)
	}

	if len(positional) > len(formals) {
		return Params{}, bindingErrorf(callable, "takes %d positional arguments but %d were given", len(formals), len(positional))
	}

	values := make(map[string]any, len(formals))
	for i, v := range positional {
		values[formals[i].Name] = v
	}

	declared := make(map[string]struct{}, len(formals))
	for _, p := range formals {
		declared[p.Name] = struct{}{}
	}
	for _, name := range sortedKeys(args.Keywords) {
		if _, ok := declared[name]; !ok {
			return Params{}, bindingErrorf(callable, "got an unexpected keyword argument %q", name)
		}
		if _, dup := values[name]; dup {
			return Params{}, bindingErrorf(callable, "got multiple values for argument %q", name)
		}
		values[name] = args.Keywords[name]
	}

	var missing []string
	names := make([]string, 0, len(formals))
	for _, p := range formals {
		names = append(names, p.Name)
		if _, ok := values[p.Name]; ok {
			continue
		}
		if p.HasDefault {
			values[p.Name] = p.Default
			continue
		}
		missing = append(missing, p.Name)
	}
	if len(missing) > 0 {
		return Params{}, bindingErrorf(callable, "missing required arguments %q", missing)
	}
	return Params{names: names, values: values}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s Signature) validate(callable string) error {
	seen := make(map[string]struct{}, len(s.Params)+1)
	optional := false
	for _, p := range s.formals() {
		if p.Name == "" {
			return bindingErrorf(callable, "parameter names must not be empty")
		}
		if _, dup := seen[p.Name]; dup {
			return bindingErrorf(callable, "duplicate parameter %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.HasDefault {
			optional = true
		} else if optional {
			return bindingErrorf(callable, "required parameter %q follows a parameter with a default", p.Name)
		}
	}
	return nil
}
