// Package jsbind builds the emulated browser environment inside a goja
// runtime: one constructor and prototype per class of the merged table, the
// window/document/navigator instances, and a document tree backed by
// golang.org/x/net/html.
package jsbind

import (
	"fmt"
	"io"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/hostenv/internal/collection"
	"github.com/xkilldash9x/hostenv/internal/envmodel"
)

// Wrapper turns a raw host object into the object scripts observe. The
// interception layer supplies it.
type Wrapper func(obj *goja.Object, class envmodel.ClassName) *goja.Object

// Environment is bound to the goroutine that owns its runtime.
type Environment struct {
	vm     *goja.Runtime
	logger *zap.Logger
	table  envmodel.Table

	ctors  map[envmodel.ClassName]*goja.Object
	protos map[envmodel.ClassName]*goja.Object

	root    *html.Node
	url     string
	nodes   map[*html.Node]*goja.Object
	nodeOf  map[*goja.Object]*html.Node
	aliases map[*goja.Object]*goja.Object

	window    *goja.Object
	document  *goja.Object
	navigator *goja.Object
	all       *goja.Object

	allHandler *collection.Handler

	cookie     string
	windowName string
	nav        NavigatorDefaults
}

var _ collection.Source = (*Environment)(nil)

// New defines every class of table in vm and creates the host instances.
// The document starts empty until LoadHTML.
func New(vm *goja.Runtime, table envmodel.Table, logger *zap.Logger) *Environment {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Environment{
		vm:      vm,
		logger:  logger.Named("jsbind"),
		table:   table,
		ctors:   make(map[envmodel.ClassName]*goja.Object),
		protos:  make(map[envmodel.ClassName]*goja.Object),
		nodes:   make(map[*html.Node]*goja.Object),
		nodeOf:  make(map[*goja.Object]*html.Node),
		aliases: make(map[*goja.Object]*goja.Object),
		url:     "about:blank",
		nav:     DefaultNavigator(),
	}

	natives := e.natives()
	visiting := make(map[envmodel.ClassName]bool)
	for _, name := range table.Names() {
		e.defineClass(name, natives, visiting)
	}

	e.window = e.instance("Window")
	e.navigator = e.instance("Navigator")
	e.document = e.instance("HTMLDocument", "Document")
	e.setRoot(&html.Node{Type: html.DocumentNode})

	e.logger.Debug("Environment defined", zap.Int("classes", len(e.ctors)))
	return e
}

// Runtime returns the goja runtime the environment lives in.
func (e *Environment) Runtime() *goja.Runtime { return e.vm }

// Prototype returns the prototype object of class.
func (e *Environment) Prototype(class envmodel.ClassName) (*goja.Object, bool) {
	p, ok := e.protos[class]
	return p, ok
}

// Constructor returns the constructor function of class.
func (e *Environment) Constructor(class envmodel.ClassName) (*goja.Object, bool) {
	c, ok := e.ctors[class]
	return c, ok
}

// SetNavigator replaces the values the emulated navigator reports when no
// implementation overrides them.
func (e *Environment) SetNavigator(n NavigatorDefaults) { e.nav = n }

// LoadHTML parses a page into the document tree.
func (e *Environment) LoadHTML(r io.Reader, url string) error {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if url != "" {
		e.url = url
	}
	e.setRoot(root)
	return nil
}

func (e *Environment) setRoot(root *html.Node) {
	if e.root != nil {
		delete(e.nodeOf, e.document)
		delete(e.nodes, e.root)
	}
	e.root = root
	e.nodes[root] = e.document
	e.nodeOf[e.document] = root
}

// Install exposes the host objects to scripts. document.all is created and
// attached before wrap runs, so the handler is in place before any proxy
// exists around the document. It returns the raw hosts keyed by variable
// name, ready for session initialization.
func (e *Environment) Install(all *collection.Handler, wrap Wrapper) map[string]any {
	if wrap == nil {
		wrap = func(obj *goja.Object, _ envmodel.ClassName) *goja.Object { return obj }
	}

	allFn := e.newAllCollection(all)
	e.all = e.observe(allFn, "HTMLAllCollection", wrap)

	win := e.observe(e.window, "Window", wrap)
	doc := e.observe(e.document, e.classOf(e.document), wrap)
	nav := e.observe(e.navigator, "Navigator", wrap)

	for _, prop := range []string{"window", "self"} {
		_ = e.window.DefineDataProperty(prop, win, goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_TRUE)
	}
	_ = e.window.DefineDataProperty("document", doc, goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_TRUE)
	_ = e.window.DefineDataProperty("navigator", nav, goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_TRUE)

	global := e.vm.GlobalObject()
	for name, v := range map[string]*goja.Object{"window": win, "self": win, "document": doc, "navigator": nav} {
		if err := global.Set(name, v); err != nil {
			e.logger.Error("Failed to set global", zap.String("name", name), zap.Error(err))
		}
	}
	e.initConsole()

	return map[string]any{
		"window":    &Host{class: "Window", obj: e.window, env: e},
		"document":  &Host{class: e.classOf(e.document), obj: e.document, env: e},
		"navigator": &Host{class: "Navigator", obj: e.navigator, env: e},
	}
}

func (e *Environment) observe(raw *goja.Object, class envmodel.ClassName, wrap Wrapper) *goja.Object {
	seen := wrap(raw, class)
	if seen != raw {
		e.aliases[seen] = raw
		if n, ok := e.nodeOf[raw]; ok {
			e.nodeOf[seen] = n
		}
	}
	return seen
}

// unwrap maps an observed object back to its raw host object.
func (e *Environment) unwrap(v goja.Value) *goja.Object {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	if raw, ok := e.aliases[obj]; ok {
		return raw
	}
	return obj
}

// instance creates an object of the first class in candidates the table defines.
func (e *Environment) instance(candidates ...envmodel.ClassName) *goja.Object {
	for _, c := range candidates {
		if p, ok := e.protos[c]; ok {
			return e.vm.CreateObject(p)
		}
	}
	e.logger.Warn("No class defined for host object", zap.Any("candidates", candidates))
	return e.vm.NewObject()
}

func (e *Environment) classOf(obj *goja.Object) envmodel.ClassName {
	for p := obj.Prototype(); p != nil; p = p.Prototype() {
		for name, proto := range e.protos {
			if proto == p {
				return name
			}
		}
	}
	return ""
}

// defineClass creates the constructor and prototype of name after its proto
// owner, so prototype chains mirror the table. visiting holds the classes on
// the current definition path only.
func (e *Environment) defineClass(name envmodel.ClassName, natives nativeTable, visiting map[envmodel.ClassName]bool) *goja.Object {
	if p, ok := e.protos[name]; ok {
		return p
	}
	cd := e.table[name]
	visiting[name] = true
	defer delete(visiting, name)

	var parentProto, parentCtor *goja.Object
	if cd.Proto != "" && !visiting[cd.Proto] {
		if _, ok := e.table[cd.Proto]; ok {
			parentProto = e.defineClass(cd.Proto, natives, visiting)
			parentCtor = e.ctors[cd.Proto]
		}
	}

	illegal := cd.IllegalConstructor
	ctor := e.vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		if illegal {
			panic(e.vm.NewTypeError("Illegal constructor"))
		}
		return nil
	}).(*goja.Object)
	_ = ctor.DefineDataProperty("name", e.vm.ToValue(string(name)), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)

	proto := ctor.Get("prototype").ToObject(e.vm)
	if parentProto != nil {
		_ = proto.SetPrototype(parentProto)
		_ = ctor.SetPrototype(parentCtor)
	}
	_ = proto.DefineDataPropertySymbol(goja.SymToStringTag, e.vm.ToValue(string(name)), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)

	e.ctors[name] = ctor
	e.protos[name] = proto
	e.defineMembers(name, proto, cd, natives[name])

	if err := e.vm.Set(string(name), ctor); err != nil {
		e.logger.Error("Failed to expose constructor", zap.String("class", string(name)), zap.Error(err))
	}
	return proto
}

// defineMembers installs the default behavior of every declared property.
// Accessors and properties become prototype accessors, methods become
// prototype data properties; both carry the declared attribute flags.
func (e *Environment) defineMembers(class envmodel.ClassName, proto *goja.Object, cd *envmodel.ClassDescriptor, natives map[string]native) {
	for prop, desc := range cd.Props {
		n, ok := natives[prop]
		if !ok {
			n = stub()
		}
		// Same defaults as a get resolution, so scripts see the attributes
		// the resolution engine reports.
		attrs := desc.Attributes(false)
		configurable := flag(attrs.Configurable)
		enumerable := flag(attrs.Enumerable)

		var err error
		if desc.Kind == envmodel.KindMethod {
			fn := e.nativeMethod(class, prop, n)
			err = proto.DefineDataProperty(prop, fn, flag(attrs.Writable), configurable, enumerable)
		} else {
			getter, setter := e.nativeAccessor(class, prop, n, attrs.Writable)
			err = proto.DefineAccessorProperty(prop, getter, setter, configurable, enumerable)
		}
		if err != nil {
			e.logger.Error("Failed to define member",
				zap.String("class", string(class)),
				zap.String("property", prop),
				zap.Error(err))
		}
	}
}

func flag(b bool) goja.Flag {
	if b {
		return goja.FLAG_TRUE
	}
	return goja.FLAG_FALSE
}

// ToJS converts an implementation result into a script value.
func ToJS(vm *goja.Runtime, v any) goja.Value {
	switch val := v.(type) {
	case nil:
		return goja.Null()
	case envmodel.UndefinedValue:
		return goja.Undefined()
	case goja.Value:
		return val
	case *Host:
		return val.obj
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = ToJS(vm, item)
		}
		return vm.NewArray(items...)
	default:
		return vm.ToValue(v)
	}
}

// FromJS converts a script value into the form implementations receive.
// Objects stay as goja values; primitives are exported.
func FromJS(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) {
		return envmodel.Undefined
	}
	if goja.IsNull(v) {
		return nil
	}
	if obj, ok := v.(*goja.Object); ok {
		return obj
	}
	return v.Export()
}

// URL returns the document address.
func (e *Environment) URL() string { return e.url }
