package starbind

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.starlark.net/starlark"

	"github.com/framepac/frinspect/pkg/inspect"
)

// interfaceToStarlarkValue converts the arguments of a main function into
// starlark values.
func interfaceToStarlarkValue(v interface{}) starlark.Value {
	switch v := v.(type) {
	case uint8:
		return starlark.MakeUint64(uint64(v))
	case uint16:
		return starlark.MakeUint64(uint64(v))
	case uint32:
		return starlark.MakeUint64(uint64(v))
	case uint64:
		return starlark.MakeUint64(v)
	case uintptr:
		return starlark.MakeUint64(uint64(v))
	case uint:
		return starlark.MakeUint64(uint64(v))
	case int8:
		return starlark.MakeInt64(int64(v))
	case int16:
		return starlark.MakeInt64(int64(v))
	case int32:
		return starlark.MakeInt64(int64(v))
	case int64:
		return starlark.MakeInt64(v)
	case int:
		return starlark.MakeInt64(int64(v))
	case string:
		return starlark.String(v)
	case bool:
		return starlark.Bool(v)
	case []string:
		r := make([]starlark.Value, len(v))
		for i := range v {
			r[i] = starlark.String(v[i])
		}
		return starlark.NewList(r)
	case nil:
		return starlark.None
	case error:
		return starlark.String(v.Error())
	}
	return starlark.String(fmt.Sprintf("%v", v))
}

// toAddr converts an int or a numeric string ("0x..." accepted) to an
// address.
func toAddr(v starlark.Value) (uint64, error) {
	switch v := v.(type) {
	case starlark.Int:
		addr, ok := v.Uint64()
		if !ok {
			return 0, fmt.Errorf("address %v out of range", v)
		}
		return addr, nil
	case starlark.String:
		addr, err := strconv.ParseUint(string(v), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid address %q", string(v))
		}
		return addr, nil
	}
	return 0, fmt.Errorf("address must be an int or a string, not %s", v.Type())
}

func unpackAddr(fnname string, args starlark.Tuple, kwargs []starlark.Tuple, addr *uint64) error {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(fnname, args, kwargs, 1, &v); err != nil {
		return err
	}
	var err error
	*addr, err = toAddr(v)
	return err
}

// scriptResult is what a decoder written in starlark returned for one
// object.
type scriptResult struct {
	summary  string
	children []inspect.Child
	hasList  bool
}

// convertResult converts the return value of a starlark decoder, either a
// string, a list of (label, value) tuples or a (summary, list) tuple.
func convertResult(v starlark.Value) (scriptResult, error) {
	switch v := v.(type) {
	case starlark.String:
		return scriptResult{summary: string(v)}, nil
	case *starlark.List:
		children, err := convertChildren(v)
		return scriptResult{children: children, hasList: true}, err
	case starlark.Tuple:
		if len(v) != 2 {
			return scriptResult{}, errors.New("decoder must return a (summary, children) pair")
		}
		summary, ok := v[0].(starlark.String)
		if !ok {
			return scriptResult{}, fmt.Errorf("summary must be a string, not %s", v[0].Type())
		}
		list, ok := v[1].(*starlark.List)
		if !ok {
			return scriptResult{}, fmt.Errorf("children must be a list, not %s", v[1].Type())
		}
		children, err := convertChildren(list)
		return scriptResult{summary: string(summary), children: children, hasList: true}, err
	}
	return scriptResult{}, fmt.Errorf("unsupported decoder result of type %s", v.Type())
}

func convertChildren(list *starlark.List) ([]inspect.Child, error) {
	children := make([]inspect.Child, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		tuple, ok := list.Index(i).(starlark.Tuple)
		if !ok || len(tuple) != 2 {
			return nil, fmt.Errorf("child %d is not a (label, value) pair", i)
		}
		label, ok := tuple[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("label of child %d is not a string", i)
		}
		var summary string
		switch x := tuple[1].(type) {
		case starlark.String:
			summary = string(x)
		default:
			summary = x.String()
		}
		children = append(children, inspect.Child{Label: string(label), Value: inspect.NewScalar(summary)})
	}
	return children, nil
}

// scriptDecoder runs a decoder written in starlark. The function is called
// once per object, the result is shared by Summary and Enumerate.
type scriptDecoder struct {
	env *Env
	fn  starlark.Callable
	obj inspect.Object

	once   sync.Once
	result scriptResult
	err    error
}

func (env *Env) decoderFactory(fn starlark.Callable) inspect.Factory {
	return func(d *inspect.Dispatcher, obj inspect.Object) inspect.Decoder {
		return &scriptDecoder{env: env, fn: fn, obj: obj}
	}
}

func (s *scriptDecoder) call(depth int) {
	s.once.Do(func() {
		s.env.decoderMu.Lock()
		defer s.env.decoderMu.Unlock()
		thread := &starlark.Thread{Name: "decoder", Print: s.env.printFunc()}
		args := starlark.Tuple{starlark.MakeUint64(s.obj.Addr), starlark.MakeInt(depth)}
		v, err := starlark.Call(thread, s.fn, args, nil)
		if err != nil {
			s.err = err
			return
		}
		s.result, s.err = convertResult(v)
	})
}

func (s *scriptDecoder) Summary(ctx inspect.Context) inspect.Value {
	s.call(ctx.Depth)
	if s.err != nil {
		logger().WithError(s.err).Errorf("decoder for %s failed at %#x", s.obj.Type, s.obj.Addr)
		return inspect.Value{Kind: inspect.Opaque, Summary: fmt.Sprintf("%s @ %#x (%v)", s.obj.Type, s.obj.Addr, s.err), Type: s.obj.Type, Addr: s.obj.Addr}
	}
	v := inspect.Value{Kind: inspect.Scalar, Summary: s.result.summary, Type: s.obj.Type, Addr: s.obj.Addr}
	if s.result.hasList {
		v.Kind = inspect.Mapping
		if v.Summary == "" {
			v.Summary = s.obj.Family
		}
	}
	return v
}

func (s *scriptDecoder) Enumerate(ctx inspect.Context) []inspect.Child {
	s.call(ctx.Depth)
	if s.err != nil {
		return nil
	}
	return s.result.children
}
