package starbind

// Code in this file is derived from go.starlark.net/repl/repl.go
// Which is licensed under the following copyright:
//
// Copyright (c) 2017 The Bazel Authors.  All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are
// met:
//
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the
//    distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived
//    from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/liner"
)

const (
	normalPrompt = ">>> "
	extraPrompt  = "... "

	exitCommand = "exit"
)

// lineReader is where the REPL reads its input from.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// REPL executes a read, eval, print loop on the terminal. Globals defined
// during the session are exported like the globals of a sourced script.
func (env *Env) REPL() error {
	rl := liner.NewLiner()
	defer rl.Close()
	rl.SetCtrlCAborts(true)
	return env.repl(rl)
}

func (env *Env) repl(in lineReader) error {
	s := &replSession{env: env, in: in, thread: env.newThread(), globals: starlark.StringDict{}}
	for k, v := range env.env {
		s.globals[k] = v
	}
	for {
		if err := isCancelled(s.thread); err != nil {
			return err
		}
		if err := s.step(); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	fmt.Fprintln(env.out)
	return env.exportGlobals(s.globals)
}

type replSession struct {
	env     *Env
	in      lineReader
	thread  *starlark.Thread
	globals starlark.StringDict
}

// step reads one statement, possibly spanning several lines, and runs it.
// Only input errors are returned, starlark errors are reported to the
// output and the session continues.
func (s *replSession) step() error {
	defer s.env.out.Flush()

	var eof, aborted bool
	prompt := normalPrompt
	readline := func() ([]byte, error) {
		line, err := s.in.Prompt(prompt)
		switch {
		case err == liner.ErrPromptAborted:
			aborted = true
			return nil, err
		case err == io.EOF:
			eof = true
			return nil, err
		case err != nil:
			return nil, err
		}
		s.env.out.Echo(prompt + line)
		if prompt == normalPrompt && strings.TrimSpace(line) == exitCommand {
			eof = true
			return nil, io.EOF
		}
		s.in.AppendHistory(line)
		prompt = extraPrompt
		return []byte(line + "\n"), nil
	}

	f, err := syntax.ParseCompoundStmt("<stdin>", readline)
	switch {
	case eof:
		return io.EOF
	case aborted:
		return nil
	case err != nil:
		s.report(err)
		return nil
	}

	if expr := soleExpr(f); expr != nil {
		v, err := starlark.EvalExpr(s.thread, expr, s.globals)
		if err != nil {
			s.report(err)
			return nil
		}
		if v != starlark.None {
			fmt.Fprintln(s.env.out, v)
		}
		return nil
	}

	prog, err := starlark.FileProgram(f, s.globals.Has)
	if err != nil {
		s.report(err)
		return nil
	}
	// Globals are not frozen so that later lines can update them, names
	// bound before a failure are kept.
	res, err := prog.Init(s.thread, s.globals)
	if err != nil {
		s.report(err)
	}
	for k, v := range res {
		s.globals[k] = v
	}
	s.bindLoads(f)
	return nil
}

// bindLoads makes the names imported by the load statements of f visible
// to the following lines, newer starlark resolvers keep load bindings
// local to the chunk that contains them. Modules are cached by the
// thread's load function so this does not execute them again.
func (s *replSession) bindLoads(f *syntax.File) {
	for _, stmt := range f.Stmts {
		load, ok := stmt.(*syntax.LoadStmt)
		if !ok {
			continue
		}
		module, err := s.thread.Load(s.thread, load.ModuleName())
		if err != nil {
			continue
		}
		for i, from := range load.From {
			if v, ok := module[from.Name]; ok {
				s.globals[load.To[i].Name] = v
			}
		}
	}
}

func (s *replSession) report(err error) {
	logger().WithError(err).Debug("starlark repl")
	if evalErr, ok := err.(*starlark.EvalError); ok {
		fmt.Fprintln(s.env.out, evalErr.Backtrace())
		return
	}
	fmt.Fprintln(s.env.out, err)
}

func soleExpr(f *syntax.File) syntax.Expr {
	if len(f.Stmts) == 1 {
		if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			return stmt.X
		}
	}
	return nil
}

// makeLoad returns the load function of a starlark thread. Modules see the
// same builtins as top level scripts, so a library of decoders can call
// read_word or register_decoder directly. Each module is executed once per
// thread, relative paths are resolved against the loading module.
func (env *Env) makeLoad() func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	type entry struct {
		globals starlark.StringDict
		err     error
	}
	cache := make(map[string]*entry)

	var load func(thread *starlark.Thread, module string) (starlark.StringDict, error)
	load = func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
		path := module
		if !filepath.IsAbs(path) && thread.CallStackDepth() > 0 {
			if from := thread.CallFrame(0).Pos.Filename(); from != "" && from != "<stdin>" {
				path = filepath.Join(filepath.Dir(from), path)
			}
		}
		e, ok := cache[path]
		if ok && e == nil {
			return nil, fmt.Errorf("cycle in load graph at %s", module)
		}
		if e == nil {
			cache[path] = nil
			mthread := &starlark.Thread{Name: "load " + path, Load: load, Print: env.printFunc()}
			mthread.SetLocal(contextName, thread.Local(contextName))
			globals, err := starlark.ExecFile(mthread, path, nil, env.env)
			e = &entry{globals, err}
			cache[path] = e
		}
		return e.globals, e.err
	}
	return load
}
