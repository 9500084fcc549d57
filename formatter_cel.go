package cachefn

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/cel-go/cel"
	"google.golang.org/protobuf/types/known/structpb"
)

// CELFormatter evaluates every placeholder as a CEL expression over the bound
// parameters, so "{user.id}:{size * 2}" or "{has(opts.page) ? opts.page : 1}"
// are valid templates. Parameters are declared dynamically typed; values must be
// primitives, slices or maps for CEL to inspect them.
type CELFormatter struct {
	programs sync.Map
}

type celTemplate struct {
	literals []string
	programs []cel.Program
}

// Format implements KeyFormatter.
func (f *CELFormatter) Format(template string, params Params) (string, error) {
	names := params.Names()
	cacheKey := strings.Join(names, ",") + "\x00" + template
	var compiled *celTemplate
	if cached, ok := f.programs.Load(cacheKey); ok {
		compiled = cached.(*celTemplate)
	} else {
		var err error
		if compiled, err = compileCELTemplate(template, names); err != nil {
			return "", err
		}
		f.programs.Store(cacheKey, compiled)
	}

	activation := params.Map()
	var b strings.Builder
	for i, lit := range compiled.literals {
		b.WriteString(lit)
		if i >= len(compiled.programs) {
			continue
		}
		out, _, err := compiled.programs[i].Eval(activation)
		if err != nil {
			return "", errors.Mark(errors.Wrapf(err, "cachefn: evaluate placeholder %d of %q", i, template), ErrKeyFormat)
		}
		value := out.Value()
		if value == structpb.NullValue_NULL_VALUE {
			b.WriteString(NoneToken)
			continue
		}
		b.WriteString(formatValue(value, ""))
	}
	return b.String(), nil
}

func compileCELTemplate(template string, names []string) (*celTemplate, error) {
	exprs, literals, err := splitTemplate(template)
	if err != nil {
		return nil, err
	}
	decls := make([]cel.EnvOption, 0, len(names))
	for _, name := range names {
		decls = append(decls, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(decls...)
	if err != nil {
		return nil, errors.Wrap(err, "cachefn: cel environment")
	}
	compiled := &celTemplate{literals: literals}
	for _, expr := range exprs {
		ast, iss := env.Compile(strings.TrimSpace(expr))
		if iss != nil && iss.Err() != nil {
			return nil, errors.Mark(errors.Wrapf(iss.Err(), "cachefn: compile %q", expr), ErrInvalidTemplate)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "cachefn: program %q", expr), ErrInvalidTemplate)
		}
		compiled.programs = append(compiled.programs, prg)
	}
	return compiled, nil
}
