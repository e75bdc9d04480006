// Package sandbox runs generated data-transformation programs against an
// in-memory table. Programs are Lua chunks evaluated in a fresh interpreter
// per call that can see only the dataset and a small set of table
// primitives: no file system, network, process, or module loading.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/table"
)

// SummaryTimeout is the failure summary for programs that exceed the
// wall-clock limit.
const SummaryTimeout = "timeout"

// Outcome is the result of one execution: a table on success or a short
// error summary on failure.
type Outcome struct {
	Table   table.Table
	Err     string
	Success bool
}

// Succeeded wraps t in a successful Outcome.
func Succeeded(t table.Table) Outcome { return Outcome{Table: t, Success: true} }

// Failed wraps summary in a failed Outcome.
func Failed(summary string) Outcome { return Outcome{Err: summary} }

// Error returns the outcome as an error, or nil on success.
func (o Outcome) Error() error {
	if o.Success {
		return nil
	}
	return &ExecutionError{Summary: o.Err}
}

// ExecutionError carries a failed Outcome's summary.
type ExecutionError struct {
	Summary string
}

// Error implements the error interface.
func (e *ExecutionError) Error() string { return e.Summary }

// Config bounds a single execution.
type Config struct {
	// Timeout is the wall-clock limit per execution.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxRows caps the number of rows a program may return.
	MaxRows int `yaml:"maxRows,omitempty"`
}

// DefaultConfig returns a 5s timeout and a 10000-row cap.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second, MaxRows: 10000}
}

// Executor evaluates programs. It holds no per-execution state and is safe
// for concurrent use.
type Executor struct {
	cfg    Config
	logger *zap.Logger
}

// New creates an Executor. Zero fields in cfg take their default values.
func New(cfg Config, logger *zap.Logger) *Executor {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = def.MaxRows
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Execute runs program against a private copy of dataset. The program sees
// the rows as the global `rows`, the header names as `columns`, and the
// primitives in `df`, and must return a table of rows.
func (e *Executor) Execute(ctx context.Context, program string, dataset table.Table) Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Warn("sandbox: interpreter panicked", zap.Any("panic", r))
				done <- Failed(fmt.Sprintf("runtime error: %v", r))
			}
		}()
		done <- e.run(ctx, program, dataset)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return interrupted(ctx)
	}
}

func (e *Executor) run(ctx context.Context, program string, dataset table.Table) Outcome {
	L := lua.NewState(lua.Options{SkipOpenLibs: true, CallStackSize: 256})
	defer L.Close()
	L.SetContext(ctx)

	if err := openSafeLibs(L); err != nil {
		return Failed(fmt.Sprintf("runtime error: %v", err))
	}
	s := newSession(dataset.Headers)
	s.install(L, dataset)

	fn, err := L.LoadString(program)
	if err != nil {
		return Failed("syntax error: " + firstLine(err.Error()))
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}
		return Failed("runtime error: " + luaMessage(err))
	}
	ret := L.Get(-1)
	L.Pop(1)

	out, err := s.toTable(L, ret)
	if err != nil {
		return Failed("malformed result: " + err.Error())
	}
	if out.Len() > e.cfg.MaxRows {
		return Failed(fmt.Sprintf("malformed result: %d rows exceeds the limit of %d; aggregate or limit the output", out.Len(), e.cfg.MaxRows))
	}
	return Succeeded(out)
}

func interrupted(ctx context.Context) Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Failed(SummaryTimeout)
	}
	return Failed("canceled")
}

// openSafeLibs opens base, table, string, and math, then removes the base
// functions that load code or touch the host.
func openSafeLibs(L *lua.LState) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("sandbox: open %s: %w", lib.name, err)
		}
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "collectgarbage", "_printregs", "newproxy"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(func(*lua.LState) int { return 0 }))
	if strlib, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable); ok {
		strlib.RawSetString("rep", L.NewFunction(stringRep))
	}
	return nil
}

// maxRepBytes caps the length of a string built by string.rep. The
// interpreter only observes the timeout between instructions, so a single
// rep call must stay small.
const maxRepBytes = 1 << 20

func stringRep(L *lua.LState) int {
	s := L.CheckString(1)
	n := L.CheckInt(2)
	if n <= 0 || s == "" {
		L.Push(lua.LString(""))
		return 1
	}
	if int64(len(s))*int64(n) > maxRepBytes {
		L.RaiseError("string.rep: result would exceed %d bytes", maxRepBytes)
		return 0
	}
	L.Push(lua.LString(strings.Repeat(s, n)))
	return 1
}

// luaMessage returns the error value without the interpreter stack trace.
func luaMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return firstLine(apiErr.Object.String())
	}
	return firstLine(err.Error())
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
