// Package intercept wraps host objects in goja proxies that consult the
// session's resolution entry points on every property read and write.
package intercept

import (
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/browser/jsbind"
	"github.com/xkilldash9x/hostenv/internal/envmodel"
	"github.com/xkilldash9x/hostenv/internal/registry"
	"github.com/xkilldash9x/hostenv/internal/resolve"
)

// Resolver is the session surface the proxies call into.
type Resolver interface {
	ResolveGet(receiver, target any, prop string) *resolve.Result
	ResolveSet(receiver, target any, prop string, value any) *resolve.Result
	Invoke(res *resolve.Result, args ...any) (any, error)
}

// Prototypes locates class prototypes for the receiver check on methods.
type Prototypes interface {
	Prototype(class envmodel.ClassName) (*goja.Object, bool)
}

// target is what resolution sees: the raw object plus its explicit class.
type target struct {
	obj   *goja.Object
	class envmodel.ClassName
}

func (t target) ClassTag() envmodel.ClassName { return t.class }

// Layer creates interception proxies. Method implementations are turned into
// script functions once per key so repeated reads return the same function.
type Layer struct {
	vm       *goja.Runtime
	resolver Resolver
	protos   Prototypes
	logger   *zap.Logger

	methods map[registry.Key]*goja.Object
}

// New returns a layer for vm.
func New(vm *goja.Runtime, resolver Resolver, protos Prototypes, logger *zap.Logger) *Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layer{
		vm:       vm,
		resolver: resolver,
		protos:   protos,
		logger:   logger.Named("intercept"),
		methods:  make(map[registry.Key]*goja.Object),
	}
}

// Wrap returns a proxy around obj that resolves accesses as class. It
// satisfies jsbind.Wrapper.
func (l *Layer) Wrap(obj *goja.Object, class envmodel.ClassName) *goja.Object {
	t := target{obj: obj, class: class}
	proxy := l.vm.NewProxy(obj, &goja.ProxyTrapConfig{
		Get: func(raw *goja.Object, prop string, receiver goja.Value) goja.Value {
			return l.get(t, raw, prop, receiver)
		},
		Set: func(raw *goja.Object, prop string, value goja.Value, receiver goja.Value) bool {
			return l.set(t, raw, prop, value, receiver)
		},
	})
	l.logger.Debug("Wrapped host object", zap.String("class", string(class)))
	return l.vm.ToValue(proxy).(*goja.Object)
}

func (l *Layer) get(t target, raw *goja.Object, prop string, receiver goja.Value) goja.Value {
	res := l.resolver.ResolveGet(receiver, t, prop)
	if res == nil {
		return orUndefined(raw.Get(prop))
	}

	switch res.Kind {
	case resolve.KindAccessor:
		v, err := l.resolver.Invoke(res)
		if err != nil {
			panic(l.throw(err))
		}
		return jsbind.ToJS(l.vm, v)
	default:
		return l.method(res)
	}
}

func (l *Layer) set(t target, raw *goja.Object, prop string, value, receiver goja.Value) bool {
	res := l.resolver.ResolveSet(receiver, t, prop, jsbind.FromJS(value))
	if res == nil {
		return raw.Set(prop, value) == nil
	}
	if _, err := l.resolver.Invoke(res, jsbind.FromJS(value)); err != nil {
		panic(l.throw(err))
	}
	return true
}

// method returns the script function serving a method resolution. Calls
// with a receiver that is not an instance of the owning class throw
// "Illegal invocation".
func (l *Layer) method(res *resolve.Result) goja.Value {
	if fn, ok := l.methods[res.Key]; ok {
		return fn
	}
	r := *res
	fn := l.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if !l.legal(call.This, r.OwningClass) {
			panic(l.vm.NewTypeError("Illegal invocation"))
		}
		bound := r
		bound.BindingTarget = call.This
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = jsbind.FromJS(a)
		}
		v, err := l.resolver.Invoke(&bound, args...)
		if err != nil {
			panic(l.throw(err))
		}
		return jsbind.ToJS(l.vm, v)
	}).(*goja.Object)
	_ = fn.DefineDataProperty("name", l.vm.ToValue(r.Key.Prop), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)

	l.methods[r.Key] = fn
	return fn
}

func (l *Layer) legal(this goja.Value, owner envmodel.ClassName) bool {
	proto, ok := l.protos.Prototype(owner)
	if !ok {
		return true
	}
	obj, ok := this.(*goja.Object)
	if !ok {
		return false
	}
	for p := obj.Prototype(); p != nil; p = p.Prototype() {
		if p == proto {
			return true
		}
	}
	return false
}

func (l *Layer) throw(err error) goja.Value {
	if ex, ok := err.(*goja.Exception); ok {
		return ex.Value()
	}
	return l.vm.NewGoError(err)
}

func orUndefined(v goja.Value) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	return v
}
