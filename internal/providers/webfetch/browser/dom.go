package browser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// newSanitizer is applied to every innerHTML assignment. Scripts and
// event-handler attributes never survive it.
func newSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class", "role", "aria-hidden", "hidden").Globally()
	return p
}

// dom exposes an x/net/html tree to the runtime. Each node maps to one
// script object so identity comparisons hold.
type dom struct {
	vm        *goja.Runtime
	root      *html.Node
	sanitizer *bluemonday.Policy
	// attached is called for every element inserted into the document
	// tree by script.
	attached func(*html.Node)

	objects map[*html.Node]*goja.Object
	nodes   map[*goja.Object]*html.Node
}

func newDOM(vm *goja.Runtime, root *html.Node, sanitizer *bluemonday.Policy, attached func(*html.Node)) *dom {
	return &dom{
		vm:        vm,
		root:      root,
		sanitizer: sanitizer,
		attached:  attached,
		objects:   make(map[*html.Node]*goja.Object),
		nodes:     make(map[*goja.Object]*html.Node),
	}
}

func (d *dom) throw(format string, args ...interface{}) {
	panic(d.vm.NewTypeError("%s", fmt.Sprintf(format, args...)))
}

// document builds the global document object.
func (d *dom) document() *goja.Object {
	doc := d.vm.NewObject()
	d.objects[d.root] = doc
	d.nodes[doc] = d.root

	doc.Set("nodeType", 9)
	d.accessor(doc, "title", func() goja.Value {
		if t := findElement(d.root, atom.Title); t != nil {
			return d.vm.ToValue(strings.TrimSpace(textOf(t)))
		}
		return d.vm.ToValue("")
	}, func(v goja.Value) {
		t := findElement(d.root, atom.Title)
		if t == nil {
			head := findElement(d.root, atom.Head)
			if head == nil {
				return
			}
			t = newElement("title")
			head.AppendChild(t)
		}
		setText(t, v.String())
	})
	d.accessor(doc, "documentElement", func() goja.Value {
		return d.wrap(findElement(d.root, atom.Html))
	}, nil)
	d.accessor(doc, "head", func() goja.Value {
		return d.wrap(findElement(d.root, atom.Head))
	}, nil)
	d.accessor(doc, "body", func() goja.Value {
		return d.wrap(findElement(d.root, atom.Body))
	}, nil)

	doc.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return d.wrap(findByID(d.root, call.Argument(0).String()))
	})
	doc.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return d.list(d.query(d.root, strings.ToLower(call.Argument(0).String())))
	})
	doc.Set("querySelector", d.querySelector(d.root))
	doc.Set("querySelectorAll", d.querySelectorAll(d.root))
	doc.Set("createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(strings.TrimSpace(call.Argument(0).String()))
		if tag == "" {
			d.throw("createElement: empty tag name")
		}
		return d.wrap(newElement(tag))
	})
	doc.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return d.wrap(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
	})
	return doc
}

// wrap returns the script object for n, creating it on first use.
func (d *dom) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if o, ok := d.objects[n]; ok {
		return o
	}

	o := d.vm.NewObject()
	d.objects[n] = o
	d.nodes[o] = n

	d.accessor(o, "parentNode", func() goja.Value { return d.wrap(n.Parent) }, nil)
	d.accessor(o, "textContent", func() goja.Value {
		return d.vm.ToValue(textOf(n))
	}, func(v goja.Value) {
		if n.Type == html.TextNode {
			n.Data = v.String()
			return
		}
		setText(n, v.String())
	})

	if n.Type == html.TextNode {
		o.Set("nodeType", 3)
		return o
	}

	o.Set("nodeType", 1)
	o.Set("tagName", strings.ToUpper(n.Data))
	o.Set("nodeName", strings.ToUpper(n.Data))
	d.attrAccessor(o, n, "id", "id")
	d.attrAccessor(o, n, "className", "class")
	d.attrAccessor(o, n, "src", "src")
	d.attrAccessor(o, n, "href", "href")
	d.attrAccessor(o, n, "type", "type")
	d.attrAccessor(o, n, "rel", "rel")

	d.accessor(o, "innerHTML", func() goja.Value {
		var buf bytes.Buffer
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := html.Render(&buf, c); err != nil {
				d.throw("innerHTML: %v", err)
			}
		}
		return d.vm.ToValue(buf.String())
	}, func(v goja.Value) {
		d.setInnerHTML(n, v.String())
	})
	d.accessor(o, "children", func() goja.Value {
		var kids []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				kids = append(kids, c)
			}
		}
		return d.list(kids)
	}, nil)

	o.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := getAttr(n, strings.ToLower(call.Argument(0).String())); ok {
			return d.vm.ToValue(v)
		}
		return goja.Null()
	})
	o.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		name := strings.ToLower(call.Argument(0).String())
		if strings.HasPrefix(name, "on") {
			return goja.Undefined()
		}
		setAttr(n, name, call.Argument(1).String())
		return goja.Undefined()
	})
	o.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		removeAttr(n, strings.ToLower(call.Argument(0).String()))
		return goja.Undefined()
	})
	o.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		_, ok := getAttr(n, strings.ToLower(call.Argument(0).String()))
		return d.vm.ToValue(ok)
	})
	o.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		d.appendChild(n, call.Argument(0))
		return call.Argument(0)
	})
	o.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		child := d.node(call.Argument(0))
		if child == nil || child.Parent != n {
			d.throw("removeChild: node is not a child of this node")
		}
		n.RemoveChild(child)
		return call.Argument(0)
	})
	o.Set("remove", func(goja.FunctionCall) goja.Value {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		return goja.Undefined()
	})
	o.Set("querySelector", d.querySelector(n))
	o.Set("querySelectorAll", d.querySelectorAll(n))
	o.Set("addEventListener", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return o
}

// node maps a script value back to its tree node.
func (d *dom) node(v goja.Value) *html.Node {
	o, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return d.nodes[o]
}

func (d *dom) appendChild(parent *html.Node, v goja.Value) {
	child := d.node(v)
	if child == nil || child == d.root {
		d.throw("appendChild: argument is not an insertable node")
	}
	for p := parent; p != nil; p = p.Parent {
		if p == child {
			d.throw("appendChild: the new child is an ancestor of the parent")
		}
	}
	if parent.Type == html.TextNode {
		d.throw("appendChild: text nodes have no children")
	}
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.AppendChild(child)
	if d.connected(parent) {
		d.notifyAttached(child)
	}
}

func (d *dom) setInnerHTML(n *html.Node, markup string) {
	if n.Type != html.ElementNode {
		return
	}
	clean := d.sanitizer.Sanitize(markup)
	nodes, err := html.ParseFragment(strings.NewReader(clean), n)
	if err != nil {
		d.throw("innerHTML: %v", err)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	for _, c := range nodes {
		n.AppendChild(c)
	}
	if d.connected(n) {
		for _, c := range nodes {
			d.notifyAttached(c)
		}
	}
}

func (d *dom) connected(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

func (d *dom) notifyAttached(n *html.Node) {
	if d.attached == nil {
		return
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			d.attached(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
}

// query runs a CSS selector against the descendants of n.
func (d *dom) query(n *html.Node, selector string) []*html.Node {
	return goquery.NewDocumentFromNode(n).Find(selector).Nodes
}

func (d *dom) querySelector(n *html.Node) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		found := d.query(n, call.Argument(0).String())
		if len(found) == 0 {
			return goja.Null()
		}
		return d.wrap(found[0])
	}
}

func (d *dom) querySelectorAll(n *html.Node) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return d.list(d.query(n, call.Argument(0).String()))
	}
}

func (d *dom) list(nodes []*html.Node) goja.Value {
	items := make([]interface{}, len(nodes))
	for i, n := range nodes {
		items[i] = d.wrap(n)
	}
	return d.vm.NewArray(items...)
}

func (d *dom) accessor(o *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := d.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	var setter goja.Value
	if set != nil {
		setter = d.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	o.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (d *dom) attrAccessor(o *goja.Object, n *html.Node, prop, attr string) {
	d.accessor(o, prop, func() goja.Value {
		v, _ := getAttr(n, attr)
		return d.vm.ToValue(v)
	}, func(v goja.Value) {
		setAttr(n, attr, v.String())
		if d.connected(n) && (attr == "src" || attr == "href") {
			d.notifyAttached(n)
		}
	})
}

func newElement(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
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
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace != "" || a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func findByID(n *html.Node, id string) *html.Node {
	if id == "" {
		return nil
	}
	if n.Type == html.ElementNode {
		if v, ok := getAttr(n, "id"); ok && v == id {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}
