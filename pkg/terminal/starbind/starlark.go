package starbind

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/framepac/frinspect/pkg/inspect"
	"github.com/framepac/frinspect/pkg/logflags"
	"github.com/framepac/frinspect/pkg/proc"
)

const (
	commandBuiltinName         = "frinspect_command"
	readFileBuiltinName        = "read_file"
	writeFileBuiltinName       = "write_file"
	readWordBuiltinName        = "read_word"
	readBytesBuiltinName       = "read_bytes"
	typeTagBuiltinName         = "type_tag"
	decodeBuiltinName          = "decode"
	childrenBuiltinName        = "children"
	readTextBuiltinName        = "read_text"
	layoutBuiltinName          = "layout"
	registerDecoderBuiltinName = "register_decoder"
	helpBuiltinName            = "help"
	commandPrefix              = "command_"
	contextName                = "frinspect_context"

	maxReadBytes = 1 << 20
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
type Context interface {
	Dispatcher() *inspect.Dispatcher
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	// decoderMu serializes calls into decoders written in starlark, a
	// starlark thread must not be used concurrently.
	decoderMu sync.Mutex

	ctx Context
	out EchoWriter
}

// New creates a new starlark binding environment.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{ctx: ctx, out: out, env: starlark.StringDict{}}
	doc := map[string]string{}

	builtindoc := func(name, args, descr string) {
		doc[name] = name + args + "\n\n" + name + " " + descr
	}
	builtin := func(name string, fn func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)) {
		env.env[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := isCancelled(thread); err != nil {
				return starlark.None, err
			}
			return fn(thread, args, kwargs)
		})
	}

	builtin(commandBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		argstrs := make([]string, len(args))
		for i := range args {
			a, ok := args[i].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("argument of %s is not a string", commandBuiltinName)
			}
			argstrs[i] = string(a)
		}
		return starlark.None, decorateError(thread, env.ctx.CallCommand(strings.Join(argstrs, " ")))
	})
	builtindoc(commandBuiltinName, "(Command)", "executes a terminal command.")

	builtin(readFileBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackPositionalArgs(readFileBuiltinName, args, kwargs, 1, &path); err != nil {
			return nil, decorateError(thread, err)
		}
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.String(string(buf)), nil
	})
	builtindoc(readFileBuiltinName, "(Path)", "reads a file.")

	builtin(writeFileBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) != 2 {
			return nil, decorateError(thread, fmt.Errorf("wrong number of arguments"))
		}
		path, ok := args[0].(starlark.String)
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("first argument of write_file was not a string"))
		}
		text := args[1].String()
		if s, ok := args[1].(starlark.String); ok {
			text = string(s)
		}
		err := os.WriteFile(string(path), []byte(text), 0640)
		return starlark.None, decorateError(thread, err)
	})
	builtindoc(writeFileBuiltinName, "(Path, Text)", "writes text to the specified file.")

	builtin(readWordBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint64
		if err := unpackAddr(readWordBuiltinName, args, kwargs, &addr); err != nil {
			return nil, decorateError(thread, err)
		}
		w, err := proc.ReadUint64(env.ctx.Dispatcher().Memory(), addr)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.MakeUint64(w), nil
	})
	builtindoc(readWordBuiltinName, "(Addr)", "reads the 64bit little endian word at Addr.")

	builtin(readBytesBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addrv starlark.Value
		var n int
		if err := starlark.UnpackPositionalArgs(readBytesBuiltinName, args, kwargs, 2, &addrv, &n); err != nil {
			return nil, decorateError(thread, err)
		}
		addr, err := toAddr(addrv)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		if n < 0 || n > maxReadBytes {
			return nil, decorateError(thread, fmt.Errorf("byte count %d out of range", n))
		}
		buf, err := proc.ReadBytes(env.ctx.Dispatcher().Memory(), addr, n)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.Bytes(buf), nil
	})
	builtindoc(readBytesBuiltinName, "(Addr, N)", "reads N bytes starting at Addr.")

	builtin(typeTagBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint64
		if err := unpackAddr(typeTagBuiltinName, args, kwargs, &addr); err != nil {
			return nil, decorateError(thread, err)
		}
		tag, err := env.ctx.Dispatcher().TypeTag(addr)
		if err != nil {
			return starlark.None, nil
		}
		return starlark.String(tag), nil
	})
	builtindoc(typeTagBuiltinName, "(Addr)", "returns the runtime type name of the object at Addr, or None.")

	builtin(decodeBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addrv starlark.Value
		var typ string
		if err := starlark.UnpackArgs(decodeBuiltinName, args, kwargs, "addr", &addrv, "type?", &typ); err != nil {
			return nil, decorateError(thread, err)
		}
		addr, err := toAddr(addrv)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		v := env.ctx.Dispatcher().Decode(addr, typ)
		return starlark.String(v.MultilineString("")), nil
	})
	builtindoc(decodeBuiltinName, "(Addr, type=\"\")", "decodes the object at Addr and returns its printed form.")

	builtin(childrenBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addrv starlark.Value
		var typ string
		if err := starlark.UnpackArgs(childrenBuiltinName, args, kwargs, "addr", &addrv, "type?", &typ); err != nil {
			return nil, decorateError(thread, err)
		}
		addr, err := toAddr(addrv)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		kids := env.ctx.Dispatcher().Enumerate(addr, typ)
		r := make([]starlark.Value, 0, len(kids))
		for i := range kids {
			c := &kids[i]
			label := c.Label
			if c.Key != nil {
				label = c.Key.SinglelineString()
			}
			r = append(r, starlark.Tuple{starlark.String(label), starlark.String(c.Value.SinglelineString())})
		}
		return starlark.NewList(r), nil
	})
	builtindoc(childrenBuiltinName, "(Addr, type=\"\")", "returns the children of the object at Addr as a list of (label, value) string tuples.")

	builtin(readTextBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var wordv starlark.Value
		var quoted bool
		if err := starlark.UnpackArgs(readTextBuiltinName, args, kwargs, "word", &wordv, "quoted?", &quoted); err != nil {
			return nil, decorateError(thread, err)
		}
		w, err := toAddr(wordv)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		n, ptr := inspect.DecodePackedText(w)
		return starlark.String(inspect.RenderText(env.ctx.Dispatcher().Memory(), ptr, n, quoted)), nil
	})
	builtindoc(readTextBuiltinName, "(Word, quoted=False)", "renders the text referenced by a packed length and pointer word.")

	builtin(layoutBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var typ string
		if err := starlark.UnpackPositionalArgs(layoutBuiltinName, args, kwargs, 1, &typ); err != nil {
			return nil, decorateError(thread, err)
		}
		l, ok := env.ctx.Dispatcher().Layouts().Lookup(typ)
		if !ok {
			return starlark.None, nil
		}
		d := starlark.NewDict(len(l.Fields))
		for field, off := range l.Fields {
			if err := d.SetKey(starlark.String(field), starlark.MakeUint64(off)); err != nil {
				return nil, decorateError(thread, err)
			}
		}
		return d, nil
	})
	builtindoc(layoutBuiltinName, "(Type)", "returns the field offsets of Type as a dict, or None.")

	builtin(registerDecoderBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var pattern string
		var fn starlark.Callable
		if err := starlark.UnpackPositionalArgs(registerDecoderBuiltinName, args, kwargs, 2, &pattern, &fn); err != nil {
			return nil, decorateError(thread, err)
		}
		err := env.ctx.Dispatcher().RegisterDecoder(pattern, env.decoderFactory(fn))
		return starlark.None, decorateError(thread, err)
	})
	builtindoc(registerDecoderBuiltinName, "(Pattern, Fn)", `registers Fn as the decoder for the types matching Pattern.
Fn is called with the address of the object and the current depth and
returns either a summary string, a list of (label, value) tuples or a
(summary, list) tuple.`)

	builtin(helpBuiltinName, func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		switch len(args) {
		case 0:
			fmt.Fprintln(env.out, "Available builtins:")
			bins := make([]string, 0, len(env.env))
			for name, value := range env.env {
				switch value.(type) {
				case *starlark.Builtin:
					bins = append(bins, name)
				}
			}
			sort.Strings(bins)
			for _, bin := range bins {
				fmt.Fprintf(env.out, "\t%s\n", bin)
			}
		case 1:
			switch x := args[0].(type) {
			case *starlark.Builtin:
				if doc[x.Name()] != "" {
					fmt.Fprintf(env.out, "%s\n", doc[x.Name()])
				} else {
					fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
				}
			case *starlark.Function:
				fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
				if doc := x.Doc(); doc != "" {
					fmt.Fprintln(env.out, doc)
				}
			default:
				fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
			}
		default:
			fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
		}
		return starlark.None, nil
	})
	builtindoc(helpBuiltinName, "(Object)", "prints help for Object.")

	return env
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out EchoWriter) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it will be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	err = env.exportGlobals(globals)
	if err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_"
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			err := env.createCommand(name, val)
			if err != nil {
				return err
			}
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
		Load:  env.makeLoad(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(contextName, ctx)
	return thread
}

func (env *Env) createCommand(name string, val starlark.Value) error {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return nil
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fnval.NumParams() == 1 {
		if p0, _ := fnval.Param(0); p0 == "args" {
			env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
				_, err := starlark.Call(env.newThread(), fnval, starlark.Tuple{starlark.String(args)}, nil)
				return err
			})
			return nil
		}
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		argval, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
		if err != nil {
			return err
		}
		argtuple, ok := argval.(starlark.Tuple)
		if !ok {
			argtuple = starlark.Tuple{argval}
		}
		_, err = starlark.Call(thread, fnval, argtuple, nil)
		return err
	})
	return nil
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []interface{}) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = interfaceToStarlarkValue(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(contextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %w", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %w", pos.Filename(), pos.Line, err)
}

// EchoWriter is the output of the starlark environment, Echo writes only
// to the transcript if there is one.
type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}

func logger() logflags.Logger {
	return logflags.StarlarkLogger()
}
