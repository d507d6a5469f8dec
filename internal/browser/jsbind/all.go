package jsbind

import (
	"github.com/dop251/goja"

	"github.com/xkilldash9x/hostenv/internal/collection"
	"github.com/xkilldash9x/hostenv/internal/envmodel"
)

// newAllCollection creates document.all: a callable object whose prototype is
// HTMLAllCollection.prototype. Calling it goes through the collection
// handler, so document.all(), document.all(2) and document.all("main")
// behave like the index and name lookups.
func (e *Environment) newAllCollection(h *collection.Handler) *goja.Object {
	e.allHandler = h
	fn := e.vm.ToValue(func(c goja.FunctionCall) goja.Value {
		args := make([]any, len(c.Arguments))
		for i, a := range c.Arguments {
			args[i] = FromJS(a)
		}
		return e.dispatchAll(args...)
	}).(*goja.Object)

	// Own function properties would shadow the collection's length and name.
	_ = fn.Delete("length")
	_ = fn.Delete("name")
	if proto, ok := e.protos["HTMLAllCollection"]; ok {
		_ = fn.SetPrototype(proto)
	}
	return fn
}

func (e *Environment) dispatchAll(args ...any) goja.Value {
	if e.allHandler == nil {
		return goja.Undefined()
	}
	if len(args) == 1 && envmodel.IsUndefined(args[0]) {
		args = nil
	}
	res := e.allHandler.Dispatch(args...)
	switch {
	case res.All:
		return e.vm.NewArray(res.Snapshot...)
	case res.Found:
		return ToJS(e.vm, res.Element)
	default:
		return goja.Null()
	}
}

func (e *Environment) allCollectionNatives() map[string]native {
	return map[string]native{
		"length": {get: func(*goja.Object) goja.Value {
			return e.vm.ToValue(len(e.Elements()))
		}},
		"item": {length: 1, call: func(_ *goja.Object, args []goja.Value) goja.Value {
			if len(args) == 0 {
				return goja.Null()
			}
			return e.dispatchAll(FromJS(args[0]))
		}},
		"namedItem": {length: 1, call: func(_ *goja.Object, args []goja.Value) goja.Value {
			if e.allHandler == nil {
				return goja.Null()
			}
			if el, ok := e.allHandler.NamedItem(arg(args, 0).String()); ok {
				return ToJS(e.vm, el)
			}
			return goja.Null()
		}},
	}
}
