package jsbind

import (
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// initConsole routes console output to the environment logger.
func (e *Environment) initConsole() {
	console := e.vm.NewObject()
	logFunc := func(level zapcore.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = e.stringify(a)
			}
			e.logger.Log(level, "[JS Console]", zap.String("message", strings.Join(parts, " ")))
			return goja.Undefined()
		}
	}

	_ = console.Set("log", logFunc(zapcore.InfoLevel))
	_ = console.Set("info", logFunc(zapcore.InfoLevel))
	_ = console.Set("warn", logFunc(zapcore.WarnLevel))
	_ = console.Set("error", logFunc(zapcore.ErrorLevel))
	_ = console.Set("debug", logFunc(zapcore.DebugLevel))
	_ = e.vm.Set("console", console)
}

func (e *Environment) stringify(v goja.Value) string {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if _, callable := goja.AssertFunction(obj); callable {
		return v.String()
	}
	if json, ok := e.vm.Get("JSON").(*goja.Object); ok {
		if stringify, ok := goja.AssertFunction(json.Get("stringify")); ok {
			if out, err := stringify(goja.Undefined(), v); err == nil && !goja.IsUndefined(out) {
				return out.String()
			}
		}
	}
	return v.String()
}

// forwardTimer hands a timer call made through window to the scheduler the
// script host installs as globals.
func (e *Environment) forwardTimer(name string, args []goja.Value) goja.Value {
	fn, ok := goja.AssertFunction(e.vm.GlobalObject().Get(name))
	if !ok {
		e.logger.Warn("No timer scheduler installed", zap.String("function", name))
		return goja.Undefined()
	}
	v, err := fn(goja.Undefined(), args...)
	if err != nil {
		if ex, ok := err.(*goja.Exception); ok {
			panic(ex.Value())
		}
		panic(e.vm.NewGoError(err))
	}
	return v
}
