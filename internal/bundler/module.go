package bundler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/conneroisu/hotssr/internal/logging"
	"github.com/conneroisu/hotssr/internal/ssr"
)

// program is a compiled server bundle.
type program struct {
	entry string
	prog  *goja.Program
}

// SSRLoadModule compiles the server entry, a root-relative path such as
// "/src/entry-server.js". Compiled programs are cached until the next
// change in the watched tree; concurrent loads share one build.
func (s *DevServer) SSRLoadModule(ctx context.Context, entry string) (ssr.Module, error) {
	file := s.resolve(entry)

	s.cacheMutex.Lock()
	p, ok := s.modules[file]
	generation := s.generation
	s.cacheMutex.Unlock()

	if ok {
		return s.newModule(p), nil
	}

	key := fmt.Sprintf("ssr:%s#%d", file, generation)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.compile(context.WithoutCancel(ctx), entry, file, generation)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return s.newModule(res.Val.(*program)), nil
	}
}

func (s *DevServer) compile(ctx context.Context, entry, file string, generation uint64) (*program, error) {
	code, err := s.build(ctx, kindSSR, file, s.ssrOptions(file))
	if err != nil {
		return nil, err
	}

	prog, err := goja.Compile(entry, string(code), false)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", entry, err)
	}

	p := &program{entry: entry, prog: prog}

	s.cacheMutex.Lock()
	if s.generation == generation {
		s.modules[file] = p
	}
	s.cacheMutex.Unlock()

	return p, nil
}

func (s *DevServer) newModule(p *program) *module {
	return &module{
		program: p,
		timeout: s.renderTimeout,
		logger:  s.logger.With("entry", p.entry),
	}
}

// module runs a compiled server bundle. Every Render gets a fresh runtime,
// so no state leaks between requests.
type module struct {
	*program
	timeout time.Duration
	logger  logging.Logger
}

// Render evaluates the bundle and calls its render export with url. The
// export may return {html} or a promise of it.
func (m *module) Render(ctx context.Context, url string) (ssr.RenderResult, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return ssr.RenderResult{}, err
	}

	vm := goja.New()
	installConsole(ctx, vm, m.logger)

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	result, err := m.run(vm, url)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) && ctx.Err() != nil {
			return ssr.RenderResult{}, fmt.Errorf("render %s interrupted: %w", m.entry, ctx.Err())
		}
		return ssr.RenderResult{}, err
	}

	return result, nil
}

func (m *module) run(vm *goja.Runtime, url string) (ssr.RenderResult, error) {
	if _, err := vm.RunProgram(m.prog); err != nil {
		return ssr.RenderResult{}, fmt.Errorf("evaluating %s: %w", m.entry, err)
	}

	render, err := renderExport(vm)
	if err != nil {
		return ssr.RenderResult{}, fmt.Errorf("%s: %w", m.entry, err)
	}

	value, err := render(goja.Undefined(), vm.ToValue(url))
	if err != nil {
		return ssr.RenderResult{}, fmt.Errorf("render: %w", err)
	}

	value, err = settle(value)
	if err != nil {
		return ssr.RenderResult{}, err
	}

	return toResult(vm, value)
}

// renderExport finds the render function among the entry's exports, or the
// default export when that is itself a function.
func renderExport(vm *goja.Runtime) (goja.Callable, error) {
	exports := vm.Get(entryGlobal)
	if isNullish(exports) {
		return nil, errors.New("entry has no exports")
	}
	obj := exports.ToObject(vm)

	if fn, ok := goja.AssertFunction(obj.Get("render")); ok {
		return fn, nil
	}
	if fn, ok := goja.AssertFunction(obj.Get("default")); ok {
		return fn, nil
	}

	return nil, errors.New("entry does not export a render function")
}

// settle unwraps a promise. The job queue has already been drained when the
// call returns, so a promise still pending will never settle.
func settle(value goja.Value) (goja.Value, error) {
	if isNullish(value) {
		return value, nil
	}

	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return value, nil
	}

	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		reason := "undefined"
		if r := promise.Result(); r != nil {
			reason = r.String()
		}
		return nil, fmt.Errorf("render rejected: %s", reason)
	default:
		return nil, errors.New("render returned a promise that never settled")
	}
}

func toResult(vm *goja.Runtime, value goja.Value) (ssr.RenderResult, error) {
	if isNullish(value) {
		return ssr.RenderResult{}, errors.New("render returned no result")
	}

	html := value.ToObject(vm).Get("html")
	if isNullish(html) {
		return ssr.RenderResult{}, errors.New("render result has no html field")
	}

	s, ok := html.Export().(string)
	if !ok {
		return ssr.RenderResult{}, fmt.Errorf("render result html is %s, not a string", html.ExportType())
	}

	return ssr.RenderResult{HTML: s}, nil
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// installConsole routes console.* to the logger.
func installConsole(ctx context.Context, vm *goja.Runtime, logger logging.Logger) {
	console := vm.NewObject()

	methods := map[string]logging.LogLevel{
		"debug": logging.LevelDebug,
		"log":   logging.LevelInfo,
		"info":  logging.LevelInfo,
		"warn":  logging.LevelWarn,
		"error": logging.LevelError,
	}

	for name, level := range methods {
		level := level
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			msg := formatArgs(call.Arguments)
			switch level {
			case logging.LevelDebug:
				logger.Debug(ctx, msg, "source", "console")
			case logging.LevelInfo:
				logger.Info(ctx, msg, "source", "console")
			case logging.LevelWarn:
				logger.Warn(ctx, nil, msg, "source", "console")
			default:
				logger.Error(ctx, nil, msg, "source", "console")
			}
			return goja.Undefined()
		})
	}

	_ = vm.Set("console", console)
}

func formatArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = formatArg(arg)
	}
	return strings.Join(parts, " ")
}

// formatArg stringifies plain objects and arrays as JSON, everything else
// the way String() would.
func formatArg(arg goja.Value) string {
	obj, ok := arg.(*goja.Object)
	if !ok || obj.ClassName() == "Error" || obj.ClassName() == "Function" {
		return arg.String()
	}

	b, err := obj.MarshalJSON()
	if err != nil {
		return arg.String()
	}
	return string(b)
}
