// Package resolve decides, for each intercepted property access on a spoofed
// host object, whether a registered implementation serves it or the access
// falls through to the emulated environment.
package resolve

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/envmodel"
	"github.com/xkilldash9x/hostenv/internal/registry"
)

// Operation is the intercepted access type.
type Operation string

const (
	OpGet Operation = "get"
	OpSet Operation = "set"
)

// Kind tells the interception layer how to install the answer.
type Kind string

const (
	KindValue    Kind = "value"
	KindAccessor Kind = "accessor"
	KindSetter   Kind = "setter"
)

// MethodType tells the interception layer how to invoke the implementation.
type MethodType string

const (
	MethodGet   MethodType = "get"
	MethodSet   MethodType = "set"
	MethodValue MethodType = "value"
)

// UnknownClass is the identity of a target that exposes no class information.
const UnknownClass envmodel.ClassName = "Unknown"

// Tagged is implemented by emulated objects that carry an explicit class tag.
type Tagged interface {
	ClassTag() envmodel.ClassName
}

// Constructed is implemented by emulated objects that expose the name of
// their nominal constructor.
type Constructed interface {
	ConstructorName() string
}

// IdentityClass returns the class name used to start proto-chain lookups:
// the explicit tag, else the constructor name, else UnknownClass.
func IdentityClass(target any) envmodel.ClassName {
	if t, ok := target.(Tagged); ok {
		if tag := t.ClassTag(); tag != "" {
			return tag
		}
	}
	if c, ok := target.(Constructed); ok {
		if name := c.ConstructorName(); name != "" {
			return envmodel.ClassName(name)
		}
	}
	return UnknownClass
}

// Attrs echoes the attribute contract of the resolved descriptor.
type Attrs = envmodel.Attributes

// Result is one resolution decision. It is built per call and never retained.
type Result struct {
	Impl registry.Func
	Key  registry.Key
	// BindingTarget is the externally visible receiver, not the raw emulated object.
	BindingTarget any
	Kind          Kind
	MethodType    MethodType
	OwningClass   envmodel.ClassName
	Attrs         Attrs
}

// Call invokes the implementation bound to the resolution's receiver.
func (r *Result) Call(s registry.Scope, args ...any) (any, error) {
	return r.Impl(s, r.BindingTarget, args...)
}

// Engine resolves accesses against a merged class table and a registry. It
// keeps no per-call state, so implementations may re-enter it freely.
type Engine struct {
	table    envmodel.Table
	registry *registry.Registry
	logger   *zap.Logger
}

// New returns an engine over table and reg.
func New(table envmodel.Table, reg *registry.Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		table:    table,
		registry: reg,
		logger:   logger.Named("resolve"),
	}
}

// FindProtoOwner returns the class on className's proto chain that declares prop.
func (e *Engine) FindProtoOwner(className envmodel.ClassName, prop string) (envmodel.ClassName, bool) {
	return e.table.FindProtoOwner(className, prop)
}

// ResolveGet resolves a read of prop on target as seen through receiver.
func (e *Engine) ResolveGet(receiver, target any, prop string) *Result {
	return e.Resolve(OpGet, receiver, target, prop)
}

// ResolveSet resolves a write of prop. The value does not influence routing;
// the interception layer passes it to the implementation.
func (e *Engine) ResolveSet(receiver, target any, prop string, _ any) *Result {
	return e.Resolve(OpSet, receiver, target, prop)
}

// Resolve returns the implementation serving op on prop, or nil when the
// access must fall through to the emulated environment.
func (e *Engine) Resolve(op Operation, receiver, target any, prop string) *Result {
	owner, ok := e.table.FindProtoOwner(IdentityClass(target), prop)
	if !ok {
		return nil
	}
	desc, ok := e.table.Property(owner, prop)
	if !ok {
		return nil
	}

	switch op {
	case OpGet:
		key := registry.Key{Class: owner, Prop: prop, Op: registry.OpValue}
		kind, method := KindValue, MethodValue
		if desc.AccessorLike() {
			key.Op = registry.OpGet
			kind, method = KindAccessor, MethodGet
		}
		impl, ok := e.registry.Lookup(key)
		if !ok {
			return nil
		}
		e.logger.Debug("Resolved getter", zap.Stringer("key", key))
		return &Result{
			Impl:          impl,
			Key:           key,
			BindingTarget: receiver,
			Kind:          kind,
			MethodType:    method,
			OwningClass:   owner,
			Attrs:         attrs(desc, false),
		}

	case OpSet:
		if desc.Kind == envmodel.KindMethod {
			return nil
		}
		if desc.Writable != nil && !*desc.Writable {
			return nil
		}
		key := registry.Key{Class: owner, Prop: prop, Op: registry.OpSet}
		impl, ok := e.registry.Lookup(key)
		if !ok {
			return nil
		}
		e.logger.Debug("Resolved setter", zap.Stringer("key", key))
		return &Result{
			Impl:          impl,
			Key:           key,
			BindingTarget: receiver,
			Kind:          KindSetter,
			MethodType:    MethodSet,
			OwningClass:   owner,
			Attrs:         attrs(desc, true),
		}
	}
	return nil
}

func attrs(d envmodel.PropertyDescriptor, writableDefault bool) Attrs {
	return d.Attributes(writableDefault)
}
