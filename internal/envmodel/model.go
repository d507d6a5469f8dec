// Package envmodel holds the merged data model shared by the builder, the
// resolution engine and the emulated environment: class descriptors, property
// descriptors, the fingerprint record and the per-session runtime cache.
package envmodel

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrProtoCycle is returned by Validate when a proto chain revisits a class.
	ErrProtoCycle = errors.New("proto chain contains a cycle")
	// ErrDanglingProto is returned by Validate when a proto reference names a class missing from the table.
	ErrDanglingProto = errors.New("proto references an unknown class")
)

// ClassName identifies a spoofed class or interface (Navigator, HTMLDocument, ...).
type ClassName string

// Kind is the shape of a class member.
type Kind string

const (
	// KindMethod is a callable member. Writes are never intercepted.
	KindMethod Kind = "method"
	// KindAccessor is a getter/setter pair.
	KindAccessor Kind = "accessor"
	// KindProperty is a data-like read path that may or may not be writable.
	KindProperty Kind = "property"
)

// ParseKind maps a profile "type" string onto a Kind. Unknown or missing
// values degrade to KindProperty, matching how profiles are generated.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindMethod, KindAccessor, KindProperty:
		return Kind(s)
	default:
		return KindProperty
	}
}

// PropertyDescriptor is the attribute contract of one class member. Flags are
// tri-state: nil means the profile did not state the flag and the consumer
// applies its own default.
type PropertyDescriptor struct {
	Kind         Kind
	Configurable *bool
	Writable     *bool
	Enumerable   *bool
}

// AccessorLike reports whether reads go through a getter (accessor or property).
func (d PropertyDescriptor) AccessorLike() bool {
	return d.Kind == KindAccessor || d.Kind == KindProperty
}

// Attributes are the resolved flags of a descriptor.
type Attributes struct {
	Configurable bool
	Writable     bool
	Enumerable   bool
}

// Attributes resolves the tri-state flags. Unset flags default to not
// configurable and enumerable; an unset writable takes writableDefault.
func (d PropertyDescriptor) Attributes(writableDefault bool) Attributes {
	return Attributes{
		Configurable: Flag(d.Configurable, false),
		Writable:     Flag(d.Writable, writableDefault),
		Enumerable:   Flag(d.Enumerable, true),
	}
}

// Flag returns the value of an optional flag, or def when it is unset.
func Flag(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Bool returns a pointer to b, for building descriptors in code.
func Bool(b bool) *bool { return &b }

// ClassDescriptor describes one spoofed class. An empty Proto means the chain ends here.
type ClassDescriptor struct {
	Proto              ClassName
	Props              map[string]PropertyDescriptor
	IllegalConstructor bool
}

// Table is the merged configuration: one descriptor per class name.
type Table map[ClassName]*ClassDescriptor

// Property returns the descriptor declared directly on class for prop.
func (t Table) Property(class ClassName, prop string) (PropertyDescriptor, bool) {
	cd, ok := t[class]
	if !ok || cd == nil {
		return PropertyDescriptor{}, false
	}
	d, ok := cd.Props[prop]
	return d, ok
}

// FindProtoOwner walks the proto chain starting at class and returns the first
// class whose descriptor map declares prop. A revisited class is treated as
// the end of the chain, so malformed cyclic tables still terminate.
func (t Table) FindProtoOwner(class ClassName, prop string) (ClassName, bool) {
	seen := make(map[ClassName]struct{}, 4)
	for current := class; current != ""; {
		if _, loop := seen[current]; loop {
			return "", false
		}
		seen[current] = struct{}{}

		cd, ok := t[current]
		if !ok || cd == nil {
			return "", false
		}
		if _, ok := cd.Props[prop]; ok {
			return current, true
		}
		current = cd.Proto
	}
	return "", false
}

// Chain returns class followed by its ancestors, stopping at the first
// unknown or revisited class.
func (t Table) Chain(class ClassName) []ClassName {
	var out []ClassName
	seen := make(map[ClassName]struct{}, 4)
	for current := class; current != ""; {
		if _, loop := seen[current]; loop {
			break
		}
		seen[current] = struct{}{}
		cd, ok := t[current]
		if !ok || cd == nil {
			break
		}
		out = append(out, current)
		current = cd.Proto
	}
	return out
}

// Names returns the class names in sorted order.
func (t Table) Names() []ClassName {
	names := make([]ClassName, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Validate checks that every proto reference resolves to a class in the
// table and that no chain loops.
func (t Table) Validate() error {
	for _, name := range t.Names() {
		cd := t[name]
		if cd == nil {
			continue
		}
		if cd.Proto != "" {
			if _, ok := t[cd.Proto]; !ok {
				return fmt.Errorf("class %s: %w: %s", name, ErrDanglingProto, cd.Proto)
			}
		}

		seen := map[ClassName]struct{}{}
		for current := name; current != ""; current = t[current].Proto {
			if _, loop := seen[current]; loop {
				return fmt.Errorf("class %s: %w at %s", name, ErrProtoCycle, current)
			}
			seen[current] = struct{}{}
			if t[current] == nil {
				break
			}
		}
	}
	return nil
}
