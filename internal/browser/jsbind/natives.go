package jsbind

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/hostenv/internal/envmodel"
)

// native is the default behavior of one member. this is always the raw
// instance, already checked against the owning class.
type native struct {
	get    func(this *goja.Object) goja.Value
	set    func(this *goja.Object, v goja.Value)
	call   func(this *goja.Object, args []goja.Value) goja.Value
	length int
}

type nativeTable map[envmodel.ClassName]map[string]native

// NavigatorDefaults are the values the emulated navigator reports on its own.
// They deliberately look like an automation host; fingerprint-backed
// implementations replace them.
type NavigatorDefaults struct {
	UserAgent           string
	Platform            string
	Vendor              string
	Language            string
	Languages           []string
	HardwareConcurrency int
	DeviceMemory        int
	Webdriver           bool
}

// DefaultNavigator returns the stock navigator values.
func DefaultNavigator() NavigatorDefaults {
	return NavigatorDefaults{
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36",
		Platform:            "Linux x86_64",
		Vendor:              "Google Inc.",
		Language:            "en-US",
		Languages:           []string{"en-US"},
		HardwareConcurrency: 2,
		DeviceMemory:        2,
		Webdriver:           true,
	}
}

func arg(args []goja.Value, i int) goja.Value {
	if i < len(args) {
		return args[i]
	}
	return goja.Undefined()
}

func stub() native {
	return native{
		get:  func(*goja.Object) goja.Value { return goja.Undefined() },
		call: func(*goja.Object, []goja.Value) goja.Value { return goja.Undefined() },
	}
}

// receiver checks that v is an instance of class and returns its raw object.
func (e *Environment) receiver(v goja.Value, class envmodel.ClassName) *goja.Object {
	obj := e.unwrap(v)
	if obj != nil {
		proto := e.protos[class]
		for p := obj.Prototype(); p != nil; p = p.Prototype() {
			if p == proto {
				return obj
			}
		}
	}
	panic(e.vm.NewTypeError("Illegal invocation"))
}

func (e *Environment) nativeMethod(class envmodel.ClassName, prop string, n native) *goja.Object {
	call := n.call
	if call == nil {
		call = func(*goja.Object, []goja.Value) goja.Value { return goja.Undefined() }
	}
	fn := e.vm.ToValue(func(c goja.FunctionCall) goja.Value {
		return call(e.receiver(c.This, class), c.Arguments)
	}).(*goja.Object)
	e.nameFunc(fn, prop, n.length)
	return fn
}

func (e *Environment) nativeAccessor(class envmodel.ClassName, prop string, n native, writable bool) (goja.Value, goja.Value) {
	get := n.get
	if get == nil {
		get = func(*goja.Object) goja.Value { return goja.Undefined() }
	}
	getter := e.vm.ToValue(func(c goja.FunctionCall) goja.Value {
		return get(e.receiver(c.This, class))
	}).(*goja.Object)
	e.nameFunc(getter, "get "+prop, 0)

	if !writable && n.set == nil {
		return getter, goja.Undefined()
	}
	set := n.set
	if set == nil {
		set = func(*goja.Object, goja.Value) {}
	}
	setter := e.vm.ToValue(func(c goja.FunctionCall) goja.Value {
		set(e.receiver(c.This, class), c.Argument(0))
		return goja.Undefined()
	}).(*goja.Object)
	e.nameFunc(setter, "set "+prop, 1)
	return getter, setter
}

func (e *Environment) nameFunc(fn *goja.Object, name string, length int) {
	_ = fn.DefineDataProperty("name", e.vm.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	_ = fn.DefineDataProperty("length", e.vm.ToValue(length), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

func (e *Environment) natives() nativeTable {
	return nativeTable{
		"EventTarget":       e.eventTargetNatives(),
		"Node":              e.nodeNatives(),
		"Document":          e.documentNatives(),
		"Element":           e.elementNatives(),
		"HTMLElement":       e.htmlElementNatives(),
		"HTMLAllCollection": e.allCollectionNatives(),
		"Navigator":         e.navigatorNatives(),
		"Window":            e.windowNatives(),
	}
}

func (e *Environment) eventTargetNatives() map[string]native {
	noop := native{call: func(*goja.Object, []goja.Value) goja.Value { return goja.Undefined() }, length: 2}
	return map[string]native{
		"addEventListener":    noop,
		"removeEventListener": noop,
		"dispatchEvent": {call: func(*goja.Object, []goja.Value) goja.Value {
			return e.vm.ToValue(true)
		}, length: 1},
	}
}

func (e *Environment) nodeNatives() map[string]native {
	return map[string]native{
		"nodeType": {get: func(this *goja.Object) goja.Value {
			if n := e.node(this); n != nil {
				return e.vm.ToValue(nodeType(n))
			}
			return goja.Undefined()
		}},
		"nodeName": {get: func(this *goja.Object) goja.Value {
			if n := e.node(this); n != nil {
				return e.vm.ToValue(nodeName(n))
			}
			return goja.Undefined()
		}},
		"parentNode": {get: func(this *goja.Object) goja.Value {
			if n := e.node(this); n != nil && n.Parent != nil {
				return e.wrapNode(n.Parent)
			}
			return goja.Null()
		}},
		"childNodes": {get: func(this *goja.Object) goja.Value {
			var children []*html.Node
			if n := e.node(this); n != nil {
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					children = append(children, c)
				}
			}
			return e.wrapList(children)
		}},
		"firstChild": {get: func(this *goja.Object) goja.Value {
			if n := e.node(this); n != nil {
				return e.wrapNode(n.FirstChild)
			}
			return goja.Null()
		}},
		"lastChild": {get: func(this *goja.Object) goja.Value {
			if n := e.node(this); n != nil {
				return e.wrapNode(n.LastChild)
			}
			return goja.Null()
		}},
		"textContent": {
			get: func(this *goja.Object) goja.Value {
				n := e.node(this)
				if n == nil || n.Type == html.DocumentNode {
					return goja.Null()
				}
				return e.vm.ToValue(textContent(n))
			},
			set: func(this *goja.Object, v goja.Value) {
				n := e.node(this)
				if n == nil || n.Type == html.DocumentNode {
					return
				}
				if n.Type == html.TextNode || n.Type == html.CommentNode {
					n.Data = v.String()
					return
				}
				removeChildren(n)
				n.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
			},
		},
		"appendChild": {length: 1, call: func(this *goja.Object, args []goja.Value) goja.Value {
			parent := e.argNode(this, "appendChild")
			child := e.argNode(arg(args, 0), "appendChild")
			if child.Parent != nil {
				child.Parent.RemoveChild(child)
			}
			parent.AppendChild(child)
			return arg(args, 0)
		}},
		"removeChild": {length: 1, call: func(this *goja.Object, args []goja.Value) goja.Value {
			parent := e.argNode(this, "removeChild")
			child := e.argNode(arg(args, 0), "removeChild")
			if child.Parent != parent {
				panic(e.vm.NewTypeError("Failed to execute 'removeChild' on 'Node': The node to be removed is not a child of this node."))
			}
			parent.RemoveChild(child)
			return arg(args, 0)
		}},
		"insertBefore": {length: 2, call: func(this *goja.Object, args []goja.Value) goja.Value {
			parent := e.argNode(this, "insertBefore")
			child := e.argNode(arg(args, 0), "insertBefore")
			var ref *html.Node
			if r := arg(args, 1); !goja.IsNull(r) && !goja.IsUndefined(r) {
				ref = e.argNode(r, "insertBefore")
				if ref.Parent != parent {
					panic(e.vm.NewTypeError("Failed to execute 'insertBefore' on 'Node': The node before which the new node is to be inserted is not a child of this node."))
				}
			}
			if child.Parent != nil {
				child.Parent.RemoveChild(child)
			}
			parent.InsertBefore(child, ref)
			return arg(args, 0)
		}},
		"cloneNode": {call: func(this *goja.Object, args []goja.Value) goja.Value {
			n := e.node(this)
			if n == nil {
				return goja.Null()
			}
			return e.wrapNode(cloneNode(n, arg(args, 0).ToBoolean()))
		}},
	}
}

func (e *Environment) documentNatives() map[string]native {
	return map[string]native{
		"cookie": {
			get: func(*goja.Object) goja.Value { return e.vm.ToValue(e.cookie) },
			set: func(_ *goja.Object, v goja.Value) { e.cookie = v.String() },
		},
		"title": {
			get: func(*goja.Object) goja.Value {
				if t := htmlquery.FindOne(e.root, "//title"); t != nil {
					return e.vm.ToValue(strings.TrimSpace(htmlquery.InnerText(t)))
				}
				return e.vm.ToValue("")
			},
			set: func(_ *goja.Object, v goja.Value) {
				if t := htmlquery.FindOne(e.root, "//title"); t != nil {
					removeChildren(t)
					t.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
				}
			},
		},
		"URL":      {get: func(*goja.Object) goja.Value { return e.vm.ToValue(e.url) }},
		"referrer": {get: func(*goja.Object) goja.Value { return e.vm.ToValue("") }},
		"body": {get: func(*goja.Object) goja.Value {
			return e.wrapNode(htmlquery.FindOne(e.root, "//body"))
		}},
		"head": {get: func(*goja.Object) goja.Value {
			return e.wrapNode(htmlquery.FindOne(e.root, "//head"))
		}},
		"all": {get: func(*goja.Object) goja.Value {
			if e.all == nil {
				return goja.Undefined()
			}
			return e.all
		}},
		"getElementById": {length: 1, call: func(_ *goja.Object, args []goja.Value) goja.Value {
			if el, ok := e.ElementByID(arg(args, 0).String()); ok {
				return el.(goja.Value)
			}
			return goja.Null()
		}},
		"getElementsByTagName": {length: 1, call: func(_ *goja.Object, args []goja.Value) goja.Value {
			return e.wrapList(htmlquery.Find(e.root, "//"+tagSelector(arg(args, 0).String())))
		}},
		"getElementsByName": {length: 1, call: func(_ *goja.Object, args []goja.Value) goja.Value {
			return e.vm.NewArray(e.ElementsByName(arg(args, 0).String())...)
		}},
		"getElementsByClassName": {length: 1, call: func(_ *goja.Object, args []goja.Value) goja.Value {
			return e.wrapList(e.queryAll(e.root, "."+arg(args, 0).String(), false))
		}},
		"querySelector": {length: 1, call: func(_ *goja.Object, args []goja.Value) goja.Value {
			return e.wrapNode(e.query(e.root, arg(args, 0).String(), false))
		}},
		"querySelectorAll": {length: 1, call: func(_ *goja.Object, args []goja.Value) goja.Value {
			return e.wrapList(e.queryAll(e.root, arg(args, 0).String(), false))
		}},
		"createElement": {length: 1, call: func(_ *goja.Object, args []goja.Value) goja.Value {
			tag := strings.ToLower(arg(args, 0).String())
			return e.wrapNode(&html.Node{Type: html.ElementNode, DataAtom: atom.Lookup([]byte(tag)), Data: tag})
		}},
		"createTextNode": {length: 1, call: func(_ *goja.Object, args []goja.Value) goja.Value {
			return e.wrapNode(&html.Node{Type: html.TextNode, Data: arg(args, 0).String()})
		}},
	}
}

func tagSelector(tag string) string {
	if tag == "*" {
		return "*"
	}
	return strings.ToLower(tag)
}

func (e *Environment) attrAccessor(key string) native {
	return native{
		get: func(this *goja.Object) goja.Value {
			if n := e.node(this); n != nil {
				v, _ := attr(n, key)
				return e.vm.ToValue(v)
			}
			return e.vm.ToValue("")
		},
		set: func(this *goja.Object, v goja.Value) {
			if n := e.node(this); n != nil {
				setAttr(n, key, v.String())
			}
		},
	}
}

func (e *Environment) elementNatives() map[string]native {
	return map[string]native{
		"id":        e.attrAccessor("id"),
		"className": e.attrAccessor("class"),
		"tagName": {get: func(this *goja.Object) goja.Value {
			if n := e.node(this); n != nil {
				return e.vm.ToValue(strings.ToUpper(n.Data))
			}
			return goja.Undefined()
		}},
		"innerHTML": {
			get: func(this *goja.Object) goja.Value {
				if n := e.node(this); n != nil {
					return e.vm.ToValue(innerHTML(n))
				}
				return e.vm.ToValue("")
			},
			set: func(this *goja.Object, v goja.Value) {
				n := e.node(this)
				if n == nil {
					return
				}
				nodes, err := html.ParseFragment(strings.NewReader(v.String()), n)
				if err != nil {
					panic(e.vm.NewGoError(err))
				}
				removeChildren(n)
				for _, c := range nodes {
					n.AppendChild(c)
				}
			},
		},
		"outerHTML": {get: func(this *goja.Object) goja.Value {
			n := e.node(this)
			if n == nil {
				return e.vm.ToValue("")
			}
			return e.vm.ToValue(htmlquery.OutputHTML(n, true))
		}},
		"getAttribute": {length: 1, call: func(this *goja.Object, args []goja.Value) goja.Value {
			if n := e.node(this); n != nil {
				if v, ok := attr(n, arg(args, 0).String()); ok {
					return e.vm.ToValue(v)
				}
			}
			return goja.Null()
		}},
		"setAttribute": {length: 2, call: func(this *goja.Object, args []goja.Value) goja.Value {
			if n := e.node(this); n != nil {
				setAttr(n, strings.ToLower(arg(args, 0).String()), arg(args, 1).String())
			}
			return goja.Undefined()
		}},
		"removeAttribute": {length: 1, call: func(this *goja.Object, args []goja.Value) goja.Value {
			if n := e.node(this); n != nil {
				removeAttr(n, strings.ToLower(arg(args, 0).String()))
			}
			return goja.Undefined()
		}},
		"querySelector": {length: 1, call: func(this *goja.Object, args []goja.Value) goja.Value {
			n := e.node(this)
			if n == nil {
				return goja.Null()
			}
			return e.wrapNode(e.query(n, arg(args, 0).String(), true))
		}},
		"querySelectorAll": {length: 1, call: func(this *goja.Object, args []goja.Value) goja.Value {
			n := e.node(this)
			if n == nil {
				return e.vm.NewArray()
			}
			return e.wrapList(e.queryAll(n, arg(args, 0).String(), true))
		}},
	}
}

func (e *Environment) htmlElementNatives() map[string]native {
	return map[string]native{
		"hidden": {
			get: func(this *goja.Object) goja.Value {
				n := e.node(this)
				if n == nil {
					return e.vm.ToValue(false)
				}
				_, ok := attr(n, "hidden")
				return e.vm.ToValue(ok)
			},
			set: func(this *goja.Object, v goja.Value) {
				n := e.node(this)
				if n == nil {
					return
				}
				if v.ToBoolean() {
					setAttr(n, "hidden", "")
				} else {
					removeAttr(n, "hidden")
				}
			},
		},
		"click": {call: func(*goja.Object, []goja.Value) goja.Value { return goja.Undefined() }},
	}
}

func (e *Environment) navigatorNatives() map[string]native {
	value := func(f func() any) native {
		return native{get: func(*goja.Object) goja.Value { return e.vm.ToValue(f()) }}
	}
	return map[string]native{
		"userAgent":           value(func() any { return e.nav.UserAgent }),
		"platform":            value(func() any { return e.nav.Platform }),
		"vendor":              value(func() any { return e.nav.Vendor }),
		"language":            value(func() any { return e.nav.Language }),
		"hardwareConcurrency": value(func() any { return e.nav.HardwareConcurrency }),
		"deviceMemory":        value(func() any { return e.nav.DeviceMemory }),
		"cookieEnabled":       value(func() any { return true }),
		"pdfViewerEnabled":    value(func() any { return false }),
		"webdriver":           value(func() any { return e.nav.Webdriver }),
		"languages": {get: func(*goja.Object) goja.Value {
			items := make([]any, len(e.nav.Languages))
			for i, l := range e.nav.Languages {
				items[i] = l
			}
			return e.vm.NewArray(items...)
		}},
		"javaEnabled": {call: func(*goja.Object, []goja.Value) goja.Value { return e.vm.ToValue(false) }},
	}
}

func (e *Environment) windowNatives() map[string]native {
	return map[string]native{
		"name": {
			get: func(*goja.Object) goja.Value { return e.vm.ToValue(e.windowName) },
			set: func(_ *goja.Object, v goja.Value) { e.windowName = v.String() },
		},
		"alert": {call: func(_ *goja.Object, args []goja.Value) goja.Value {
			e.logger.Info("[JS Alert]", zap.String("message", arg(args, 0).String()))
			return goja.Undefined()
		}},
		"confirm": {call: func(_ *goja.Object, args []goja.Value) goja.Value {
			e.logger.Info("[JS Confirm]", zap.String("message", arg(args, 0).String()))
			return e.vm.ToValue(true)
		}},
		"setTimeout": {length: 1, call: func(_ *goja.Object, args []goja.Value) goja.Value {
			return e.forwardTimer("setTimeout", args)
		}},
		"clearTimeout": {call: func(_ *goja.Object, args []goja.Value) goja.Value {
			return e.forwardTimer("clearTimeout", args)
		}},
	}
}
