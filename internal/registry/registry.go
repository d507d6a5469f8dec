// Package registry maps structured implementation keys to the functions that
// serve intercepted property reads, writes and method calls.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hostenv/internal/collection"
	"github.com/xkilldash9x/hostenv/internal/envmodel"
)

// Op is the operation an implementation serves.
type Op uint8

const (
	// OpValue serves a method: the "get" of a method returns the callable itself.
	OpValue Op = iota
	// OpGet serves the read path of an accessor or property.
	OpGet
	// OpSet serves the write path of an accessor or property.
	OpSet
)

func (o Op) suffix() string {
	switch o {
	case OpGet:
		return "_get"
	case OpSet:
		return "_set"
	default:
		return ""
	}
}

// Key identifies one implementation by owning class, property and operation.
type Key struct {
	Class envmodel.ClassName
	Prop  string
	Op    Op
}

// String renders the key in the "<Class>_<prop>[_get|_set]" form used by
// implementation bundles and logs.
func (k Key) String() string {
	return string(k.Class) + "_" + k.Prop + k.Op.suffix()
}

// ParseKey is the inverse of Key.String. The class is everything before the
// first underscore; a trailing _get or _set selects the operation.
func ParseKey(s string) (Key, error) {
	idx := strings.IndexByte(s, '_')
	if idx <= 0 || idx == len(s)-1 {
		return Key{}, fmt.Errorf("malformed implementation key %q", s)
	}
	k := Key{Class: envmodel.ClassName(s[:idx]), Prop: s[idx+1:]}
	switch {
	case strings.HasSuffix(k.Prop, "_get") && len(k.Prop) > len("_get"):
		k.Prop, k.Op = strings.TrimSuffix(k.Prop, "_get"), OpGet
	case strings.HasSuffix(k.Prop, "_set") && len(k.Prop) > len("_set"):
		k.Prop, k.Op = strings.TrimSuffix(k.Prop, "_set"), OpSet
	}
	return k, nil
}

// Scope is the session state an implementation may consult. It replaces
// process-wide globals: every call receives the scope of the session it
// runs in.
type Scope interface {
	Fingerprint() envmodel.Fingerprint
	Cache() *envmodel.Cache
	// Collection returns the document.all handler, or nil before host objects are bound.
	Collection() *collection.Handler
	Logger() *zap.Logger
}

// Func is one implementation. this is the externally visible receiver. For
// getters args is empty; for setters it holds the assigned value; for
// methods it holds the call arguments.
type Func func(s Scope, this any, args ...any) (any, error)

// Registry is a mapping of Key to Func. It is not safe for concurrent
// mutation; sessions clone a shared registry before extending it.
type Registry struct {
	funcs map[Key]Func
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{funcs: make(map[Key]Func)}
}

// Register stores f under k, replacing any previous entry.
func (r *Registry) Register(k Key, f Func) {
	r.funcs[k] = f
}

// RegisterNamed stores f under the key parsed from name.
func (r *Registry) RegisterNamed(name string, f Func) error {
	k, err := ParseKey(name)
	if err != nil {
		return err
	}
	r.Register(k, f)
	return nil
}

// Lookup returns the implementation registered under k.
func (r *Registry) Lookup(k Key) (Func, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.funcs[k]
	return f, ok && f != nil
}

// Merge copies every entry of other over r (last writer wins per key) and
// returns the number of entries copied.
func (r *Registry) Merge(other *Registry) int {
	if other == nil {
		return 0
	}
	for k, f := range other.funcs {
		r.funcs[k] = f
	}
	return len(other.funcs)
}

// Clone returns an independent copy of r.
func (r *Registry) Clone() *Registry {
	c := New()
	c.Merge(r)
	return c
}

// Len returns the number of registered implementations.
func (r *Registry) Len() int {
	return len(r.funcs)
}

// Keys returns every registered key ordered by its string form.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.funcs))
	for k := range r.funcs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
