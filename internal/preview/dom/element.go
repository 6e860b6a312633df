package dom

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// newDocument builds the document object over the parsed tree
func (f *Frame) newDocument() *goja.Object {
	vm := f.vm
	doc := vm.NewObject()

	_ = doc.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		return f.first(f.doc.Selection, "[id="+quoteAttr(id)+"]")
	})
	_ = doc.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return f.first(f.doc.Selection, call.Argument(0).String())
	})
	_ = doc.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return f.all(f.doc.Selection, call.Argument(0).String())
	})
	_ = doc.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return f.all(f.doc.Selection, call.Argument(0).String())
	})
	_ = doc.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		return f.all(f.doc.Selection, classSelector(call.Argument(0).String()))
	})
	_ = doc.Set("createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		return f.wrap(&html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))})
	})
	_ = doc.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return f.wrap(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
	})
	_ = doc.Set("readyState", "loading")

	getters := map[string]func() goja.Value{
		"body":            func() goja.Value { return f.first(f.doc.Selection, "body") },
		"head":            func() goja.Value { return f.first(f.doc.Selection, "head") },
		"documentElement": func() goja.Value { return f.first(f.doc.Selection, "html") },
		"title": func() goja.Value {
			return vm.ToValue(strings.TrimSpace(f.doc.Find("title").First().Text()))
		},
	}
	for name, get := range getters {
		get := get
		_ = doc.DefineAccessorProperty(name,
			vm.ToValue(func(goja.FunctionCall) goja.Value { return get() }),
			nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}

	f.installEventTarget(doc)
	return doc
}

func (f *Frame) first(scope *goquery.Selection, selector string) goja.Value {
	sel := scope.Find(selector)
	if sel.Length() == 0 {
		return goja.Null()
	}
	return f.wrap(sel.Nodes[0])
}

func (f *Frame) all(scope *goquery.Selection, selector string) goja.Value {
	sel := scope.Find(selector)
	out := make([]any, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, f.wrap(n))
	}
	return f.vm.ToValue(out)
}

// unwrap maps a script value back to the node it proxies
func (f *Frame) unwrap(v goja.Value) *html.Node {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return f.objects[obj]
}

// wrap returns the proxy for n, creating it on first use so identity holds
// across lookups
func (f *Frame) wrap(n *html.Node) *goja.Object {
	if obj, ok := f.nodes[n]; ok {
		return obj
	}
	vm := f.vm
	el := vm.NewObject()
	f.nodes[n] = el
	f.objects[el] = n

	accessor := func(name string, get func() goja.Value, set func(goja.Value)) {
		var setter goja.Value
		if set != nil {
			setter = vm.ToValue(func(call goja.FunctionCall) goja.Value {
				set(call.Argument(0))
				return goja.Undefined()
			})
		}
		_ = el.DefineAccessorProperty(name,
			vm.ToValue(func(goja.FunctionCall) goja.Value { return get() }),
			setter, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}

	accessor("nodeType", func() goja.Value { return vm.ToValue(nodeType(n)) }, nil)
	accessor("tagName", func() goja.Value { return vm.ToValue(strings.ToUpper(n.Data)) }, nil)
	accessor("nodeName", func() goja.Value { return vm.ToValue(strings.ToUpper(n.Data)) }, nil)
	accessor("parentNode", func() goja.Value {
		if n.Parent == nil || n.Parent.Type == html.DocumentNode {
			return goja.Null()
		}
		return f.wrap(n.Parent)
	}, nil)
	accessor("children", func() goja.Value {
		out := []any{}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, f.wrap(c))
			}
		}
		return vm.ToValue(out)
	}, nil)
	accessor("textContent", func() goja.Value { return vm.ToValue(nodeText(n)) }, func(v goja.Value) {
		if n.Type == html.TextNode {
			n.Data = v.String()
			return
		}
		removeChildren(n)
		n.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
	})
	accessor("innerText", func() goja.Value { return vm.ToValue(nodeText(n)) }, func(v goja.Value) {
		removeChildren(n)
		n.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
	})
	accessor("innerHTML", func() goja.Value { return vm.ToValue(innerHTML(n)) }, func(v goja.Value) {
		children, err := html.ParseFragment(strings.NewReader(v.String()), &html.Node{
			Type: html.ElementNode, Data: n.Data, DataAtom: n.DataAtom,
		})
		if err != nil {
			panic(vm.NewTypeError("invalid markup: " + err.Error()))
		}
		removeChildren(n)
		for _, c := range children {
			n.AppendChild(c)
		}
	})
	for _, attr := range []struct{ prop, name string }{
		{"id", "id"}, {"className", "class"}, {"value", "value"}, {"href", "href"},
	} {
		attr := attr
		accessor(attr.prop, func() goja.Value { return vm.ToValue(getAttr(n, attr.name)) }, func(v goja.Value) {
			setAttr(n, attr.name, v.String())
		})
	}

	_ = el.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		name := strings.ToLower(call.Argument(0).String())
		if !hasAttr(n, name) {
			return goja.Null()
		}
		return vm.ToValue(getAttr(n, name))
	})
	_ = el.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		setAttr(n, strings.ToLower(call.Argument(0).String()), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = el.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(hasAttr(n, strings.ToLower(call.Argument(0).String())))
	})
	_ = el.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		removeAttr(n, strings.ToLower(call.Argument(0).String()))
		return goja.Undefined()
	})
	_ = el.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child := f.unwrap(call.Argument(0))
		if child == nil || isAncestor(child, n) {
			panic(vm.NewTypeError("appendChild: argument is not an insertable node"))
		}
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		n.AppendChild(child)
		return call.Argument(0)
	})
	_ = el.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		child := f.unwrap(call.Argument(0))
		if child == nil || child.Parent != n {
			panic(vm.NewTypeError("removeChild: node is not a child"))
		}
		n.RemoveChild(child)
		return call.Argument(0)
	})
	_ = el.Set("remove", func(goja.FunctionCall) goja.Value {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		return goja.Undefined()
	})
	_ = el.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return f.first(subtree(n), call.Argument(0).String())
	})
	_ = el.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return f.all(subtree(n), call.Argument(0).String())
	})
	_ = el.Set("click", func(goja.FunctionCall) goja.Value {
		f.dispatch(el, "click", nil)
		return goja.Undefined()
	})
	// forms never submit
	_ = el.Set("submit", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = el.Set("style", vm.NewObject())
	_ = el.Set("dataset", vm.NewObject())

	f.installEventTarget(el)
	return el
}

// subtree selects the subtree under n, attached or not
func subtree(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
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
	default:
		return 0
	}
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			} else {
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

func innerHTML(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return b.String()
		}
	}
	return b.String()
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
}

func isAncestor(candidate, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == candidate {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace != "" || a.Key != key {
			attrs = append(attrs, a)
		}
	}
	n.Attr = attrs
}

func quoteAttr(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func classSelector(names string) string {
	var b strings.Builder
	for _, c := range strings.Fields(names) {
		b.WriteString(`[class~=` + quoteAttr(c) + `]`)
	}
	if b.Len() == 0 {
		return ":not(*)"
	}
	return b.String()
}
