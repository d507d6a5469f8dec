package intercept

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/browser/jsbind"
	"github.com/xkilldash9x/hostenv/internal/profile"
	"github.com/xkilldash9x/hostenv/internal/registry"
)

// ErrBundle is returned when a site implementation bundle cannot be loaded.
var ErrBundle = errors.New("invalid implementation bundle")

// Compiler evaluates JavaScript implementation bundles in a runtime. A bundle
// is an object literal keyed by implementation names
// ("Navigator_platform_get", "Navigator_javaEnabled", ...) whose values are
// functions, or a function that receives the host object and returns such a
// literal. The functions run in the same runtime as page scripts.
//
// The host object reads the session of the implementation call in progress:
// fingerprint(key), cookie, get(key), set(key, value) and log(...).
type Compiler struct {
	vm *goja.Runtime

	scope registry.Scope
	host  *goja.Object
}

// NewCompiler returns a compiler for vm.
func NewCompiler(vm *goja.Runtime) *Compiler {
	return &Compiler{vm: vm}
}

// Compile implements session.BundleCompiler.
func (c *Compiler) Compile(name string, raw profile.Raw) (*registry.Registry, error) {
	if raw.Format != profile.FormatJS {
		return nil, fmt.Errorf("%w: %s: unsupported format %q", ErrBundle, name, raw.Format)
	}
	prog, err := goja.Compile(name+".js", string(raw.Body), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBundle, name, err)
	}
	v, err := c.vm.RunProgram(prog)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBundle, name, err)
	}
	if factory, ok := goja.AssertFunction(v); ok {
		if v, err = factory(goja.Undefined(), c.hostObject()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBundle, name, err)
		}
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("%w: %s: bundle must evaluate to an object", ErrBundle, name)
	}

	keys := obj.Keys()
	sort.Strings(keys)
	reg := registry.New()
	for _, k := range keys {
		fn, ok := goja.AssertFunction(obj.Get(k))
		if !ok {
			return nil, fmt.Errorf("%w: %s: %q is not a function", ErrBundle, name, k)
		}
		if err := reg.RegisterNamed(k, c.wrap(fn)); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBundle, name, err)
		}
	}
	return reg, nil
}

func (c *Compiler) wrap(fn goja.Callable) registry.Func {
	return func(s registry.Scope, this any, args ...any) (any, error) {
		prev := c.scope
		c.scope = s
		defer func() { c.scope = prev }()

		jsArgs := make([]goja.Value, len(args))
		for i, a := range args {
			jsArgs[i] = jsbind.ToJS(c.vm, a)
		}
		v, err := fn(jsbind.ToJS(c.vm, this), jsArgs...)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (c *Compiler) active() registry.Scope {
	if c.scope == nil {
		panic(c.vm.NewTypeError("host object used outside an implementation call"))
	}
	return c.scope
}

func (c *Compiler) hostObject() *goja.Object {
	if c.host != nil {
		return c.host
	}
	vm := c.vm
	host := vm.NewObject()

	_ = host.Set("fingerprint", func(call goja.FunctionCall) goja.Value {
		v, ok := c.active().Fingerprint()[call.Argument(0).String()]
		if !ok {
			return goja.Undefined()
		}
		return jsbind.ToJS(vm, v)
	})
	_ = host.Set("get", func(call goja.FunctionCall) goja.Value {
		v, ok := c.active().Cache().Get(call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return jsbind.ToJS(vm, v)
	})
	_ = host.Set("set", func(call goja.FunctionCall) goja.Value {
		c.active().Cache().Set(call.Argument(0).String(), jsbind.FromJS(call.Argument(1)))
		return goja.Undefined()
	})
	_ = host.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		c.active().Logger().Info("[Bundle]", zap.String("message", strings.Join(parts, " ")))
		return goja.Undefined()
	})

	getter := vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(c.active().Cache().Cookie())
	})
	setter := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		c.active().Cache().SetCookie(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = host.DefineAccessorProperty("cookie", getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE)

	c.host = host
	return host
}
