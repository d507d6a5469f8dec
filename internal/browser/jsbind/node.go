package jsbind

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/hostenv/internal/envmodel"
)

// wrapNode returns the script object for node, creating it on first use.
// The identity map keeps node === node across lookups.
func (e *Environment) wrapNode(node *html.Node) goja.Value {
	if node == nil {
		return goja.Null()
	}
	if obj, ok := e.nodes[node]; ok {
		return obj
	}

	var obj *goja.Object
	switch node.Type {
	case html.ElementNode:
		obj = e.instance("HTMLElement", "Element", "Node")
	default:
		obj = e.instance("Node")
	}
	e.nodes[node] = obj
	e.nodeOf[obj] = node
	return obj
}

func (e *Environment) wrapList(nodes []*html.Node) goja.Value {
	items := make([]any, len(nodes))
	for i, n := range nodes {
		items[i] = e.wrapNode(n)
	}
	return e.vm.NewArray(items...)
}

// node returns the tree node behind a script object.
func (e *Environment) node(this *goja.Object) *html.Node {
	if this == nil {
		return nil
	}
	return e.nodeOf[this]
}

func (e *Environment) argNode(v goja.Value, op string) *html.Node {
	n := e.node(e.unwrap(v))
	if n == nil {
		panic(e.vm.NewTypeError(fmt.Sprintf("Failed to execute '%s' on 'Node': parameter 1 is not of type 'Node'.", op)))
	}
	return n
}

// Elements implements collection.Source.
func (e *Environment) Elements() []any {
	nodes := htmlquery.Find(e.root, "//*")
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = e.wrapNode(n)
	}
	return out
}

// ElementByID implements collection.Source.
func (e *Environment) ElementByID(id string) (any, bool) {
	n := htmlquery.FindOne(e.root, "//*[@id="+xpathLiteral(id)+"]")
	if n == nil {
		return nil, false
	}
	return e.wrapNode(n), true
}

// ElementsByName implements collection.Source.
func (e *Environment) ElementsByName(name string) []any {
	nodes := htmlquery.Find(e.root, "//*[@name="+xpathLiteral(name)+"]")
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = e.wrapNode(n)
	}
	return out
}

func (e *Environment) query(ctx *html.Node, selector string, relative bool) *html.Node {
	xpath := cssToXPath(selector)
	if relative && !strings.HasPrefix(xpath, ".") {
		xpath = "." + xpath
	}
	n, err := htmlquery.Query(ctx, xpath)
	if err != nil {
		panic(e.vm.NewGoError(fmt.Errorf("invalid selector: %s", selector)))
	}
	return n
}

func (e *Environment) queryAll(ctx *html.Node, selector string, relative bool) []*html.Node {
	xpath := cssToXPath(selector)
	if relative && !strings.HasPrefix(xpath, ".") {
		xpath = "." + xpath
	}
	nodes, err := htmlquery.QueryAll(ctx, xpath)
	if err != nil {
		panic(e.vm.NewGoError(fmt.Errorf("invalid selector: %s", selector)))
	}
	return nodes
}

func nodeType(n *html.Node) int {
	switch n.Type {
	case html.ElementNode:
		return 1
	case html.TextNode:
		return 3
	case html.CommentNode:
		return 8
	case html.DocumentNode:
		return 9
	case html.DoctypeNode:
		return 10
	default:
		return 0
	}
}

func nodeName(n *html.Node) string {
	switch n.Type {
	case html.ElementNode:
		return strings.ToUpper(n.Data)
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	case html.DocumentNode:
		return "#document"
	default:
		return n.Data
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		return n.Data
	}
	return htmlquery.InnerText(n)
}

func innerHTML(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&sb, c)
	}
	return sb.String()
}

func cloneNode(n *html.Node, deep bool) *html.Node {
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	if deep {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			clone.AppendChild(cloneNode(c, true))
		}
	}
	return clone
}

// xpathLiteral quotes s for use in an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

// cssToXPath translates the simple selectors scripts use (tag, #id, .class,
// descendant combinator) to XPath. Anything that already looks like XPath
// passes through.
func cssToXPath(css string) string {
	css = strings.TrimSpace(css)
	if css == "*" {
		return "//*"
	}
	if strings.HasPrefix(css, "/") || strings.HasPrefix(css, "./") || strings.HasPrefix(css, "(") {
		return css
	}

	var xpath strings.Builder
	for _, part := range strings.Fields(css) {
		xpath.WriteString("//")

		tag := "*"
		var predicates []string
		for tok := part; len(tok) > 0; {
			end := strings.IndexAny(tok[1:], ".#")
			if end == -1 {
				end = len(tok)
			} else {
				end++
			}
			switch tok[0] {
			case '#':
				predicates = append(predicates, "@id="+xpathLiteral(tok[1:end]))
			case '.':
				predicates = append(predicates,
					"contains(concat(' ', normalize-space(@class), ' '), "+xpathLiteral(" "+tok[1:end]+" ")+")")
			default:
				end = strings.IndexAny(tok, ".#")
				if end == -1 {
					end = len(tok)
				}
				tag = strings.ToLower(tok[:end])
			}
			tok = tok[end:]
		}

		xpath.WriteString(tag)
		if len(predicates) > 0 {
			xpath.WriteString("[" + strings.Join(predicates, " and ") + "]")
		}
	}
	return xpath.String()
}

// Host is a raw host object with its explicit class tag. It is what the
// session records at initialization and what receives injected properties.
type Host struct {
	class envmodel.ClassName
	obj   *goja.Object
	env   *Environment
}

// ClassTag reports the host's class.
func (h *Host) ClassTag() envmodel.ClassName { return h.class }

// Object returns the raw script object.
func (h *Host) Object() *goja.Object { return h.obj }

// Inject defines prop as an own, configurable data property of the host.
func (h *Host) Inject(prop string, value any) error {
	return h.obj.DefineDataProperty(prop, ToJS(h.env.vm, value), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE)
}
