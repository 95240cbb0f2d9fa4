package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// HTMLDocument is an in-memory page built on golang.org/x/net/html. It runs
// no scripts: host behaviour (panels opening, rows being added) is supplied
// by handlers registered with On. Used for rehearsals against saved pages.
type HTMLDocument struct {
	mu        sync.Mutex
	url       string
	root      *html.Node
	handlers  []hostHandler
	observers map[int]chan struct{}
	nextObs   int
	log       []DispatchedEvent
	logger    *zap.Logger
}

// DispatchedEvent records one synthetic event as the page received it.
type DispatchedEvent struct {
	Target string
	Type   string
	Key    string
	Value  string
}

// HostHandler reacts to an event on behalf of the page. It runs without the
// document lock held and must only touch the document through its methods.
type HostHandler func(d *HTMLDocument, target *html.Node)

type hostHandler struct {
	selector string
	event    string
	fn       HostHandler
}

func ParseHTMLDocument(pageURL string, r io.Reader, logger *zap.Logger) (*HTMLDocument, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTMLDocument{
		url:       pageURL,
		root:      root,
		observers: make(map[int]chan struct{}),
		logger:    logger.Named("htmldom"),
	}, nil
}

// On registers a handler for events of the given type on nodes matching
// selector or on their descendants (the event bubbles).
func (d *HTMLDocument) On(selector, eventType string, fn HostHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, hostHandler{selector: selector, event: eventType, fn: fn})
}

func (d *HTMLDocument) Events() []DispatchedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DispatchedEvent, len(d.log))
	copy(out, d.log)
	return out
}

func (d *HTMLDocument) URL(_ context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *HTMLDocument) Find(ctx context.Context, selector string) (Element, error) {
	return d.wrap(d.root).Find(ctx, selector)
}

func (d *HTMLDocument) FindAll(ctx context.Context, selector string) ([]Element, error) {
	return d.wrap(d.root).FindAll(ctx, selector)
}

func (d *HTMLDocument) ObserveMutations(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = ch
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Append parses fragment and appends it to every node matching parent.
func (d *HTMLDocument) Append(parent, fragment string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	targets := goquery.NewDocumentFromNode(d.root).Find(parent).Nodes
	for _, p := range targets {
		nodes, err := html.ParseFragment(strings.NewReader(fragment), p)
		if err != nil {
			return 0, fmt.Errorf("failed to parse fragment: %w", err)
		}
		for _, n := range nodes {
			p.AppendChild(n)
		}
	}
	if len(targets) > 0 {
		d.notifyLocked()
	}
	return len(targets), nil
}

// Remove detaches every node matching selector.
func (d *HTMLDocument) Remove(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	nodes := goquery.NewDocumentFromNode(d.root).Find(selector).Nodes
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	if len(nodes) > 0 {
		d.notifyLocked()
	}
	return len(nodes)
}

// SetText replaces the children of every node matching selector with text.
func (d *HTMLDocument) SetText(selector, text string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	nodes := goquery.NewDocumentFromNode(d.root).Find(selector).Nodes
	for _, n := range nodes {
		for c := n.FirstChild; c != nil; c = n.FirstChild {
			n.RemoveChild(c)
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	if len(nodes) > 0 {
		d.notifyLocked()
	}
	return len(nodes)
}

// SetAttr sets an attribute on every node matching selector.
func (d *HTMLDocument) SetAttr(selector, name, value string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	nodes := goquery.NewDocumentFromNode(d.root).Find(selector).Nodes
	for _, n := range nodes {
		setAttr(n, name, value)
	}
	return len(nodes)
}

func (d *HTMLDocument) Count(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(goquery.NewDocumentFromNode(d.root).Find(selector).Nodes)
}

// TextOf returns the trimmed text of the first node matching selector.
func (d *HTMLDocument) TextOf(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.TrimSpace(goquery.NewDocumentFromNode(d.root).Find(selector).First().Text())
}

// ValueOf returns the form value of the first node matching selector.
func (d *HTMLDocument) ValueOf(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes := goquery.NewDocumentFromNode(d.root).Find(selector).Nodes
	if len(nodes) == 0 {
		return ""
	}
	return nodeValue(nodes[0])
}

// NodeAttr reads an attribute of a node handed to a HostHandler.
func (d *HTMLDocument) NodeAttr(n *html.Node, name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, _ := getAttr(n, name)
	return v
}

// NodeText reads the trimmed text of a node handed to a HostHandler.
func (d *HTMLDocument) NodeText(n *html.Node) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.TrimSpace(goquery.NewDocumentFromNode(n).Text())
}

// NodeValue reads the form value of a node handed to a HostHandler.
func (d *HTMLDocument) NodeValue(n *html.Node) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return nodeValue(n)
}

func (d *HTMLDocument) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return ""
	}
	return buf.String()
}

func (d *HTMLDocument) notifyLocked() {
	for _, ch := range d.observers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (d *HTMLDocument) wrap(n *html.Node) Element {
	return &htmlElement{doc: d, node: n}
}

func (d *HTMLDocument) dispatch(n *html.Node, ev Event) {
	d.mu.Lock()
	target := describeNode(n)
	d.log = append(d.log, DispatchedEvent{
		Target: target,
		Type:   ev.Type,
		Key:    ev.Key,
		Value:  nodeValue(n),
	})
	var matched []HostHandler
	for _, h := range d.handlers {
		if h.event != ev.Type {
			continue
		}
		for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
			if goquery.NewDocumentFromNode(p).Is(h.selector) {
				matched = append(matched, h.fn)
				break
			}
		}
	}
	d.mu.Unlock()

	d.logger.Debug("event", zap.String("target", target), zap.String("type", ev.Type))
	for _, fn := range matched {
		fn(d, n)
	}
}

type htmlElement struct {
	doc  *HTMLDocument
	node *html.Node
}

func (e *htmlElement) Find(_ context.Context, selector string) (Element, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	nodes := goquery.NewDocumentFromNode(e.node).Find(selector).Nodes
	if len(nodes) == 0 {
		return nil, nil
	}
	return e.doc.wrap(nodes[0]), nil
}

func (e *htmlElement) FindAll(_ context.Context, selector string) ([]Element, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	nodes := goquery.NewDocumentFromNode(e.node).Find(selector).Nodes
	out := make([]Element, len(nodes))
	for i, n := range nodes {
		out[i] = e.doc.wrap(n)
	}
	return out, nil
}

func (e *htmlElement) Text(_ context.Context) (string, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return goquery.NewDocumentFromNode(e.node).Text(), nil
}

func (e *htmlElement) Value(_ context.Context) (string, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return nodeValue(e.node), nil
}

func (e *htmlElement) SetValue(_ context.Context, value string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.node.Data == "select" {
		for _, opt := range options(e.node) {
			v, ok := getAttr(opt, "value")
			if !ok {
				v = strings.TrimSpace(goquery.NewDocumentFromNode(opt).Text())
			}
			if v == value {
				selectOption(opt)
				return nil
			}
		}
		return fmt.Errorf("%w: option %q", ErrNoMatch, value)
	}
	setAttr(e.node, "value", value)
	return nil
}

func (e *htmlElement) Attr(_ context.Context, name string) (string, bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	v, ok := getAttr(e.node, name)
	return v, ok, nil
}

// Opacity reads the inline style; without one the node counts as opaque.
func (e *htmlElement) Opacity(_ context.Context) (string, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	style, _ := getAttr(e.node, "style")
	for _, decl := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(strings.ToLower(name)) == "opacity" {
			return strings.TrimSpace(value), nil
		}
	}
	return "1", nil
}

func (e *htmlElement) Dispatch(ctx context.Context, evs ...Event) error {
	for _, ev := range evs {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.doc.dispatch(e.node, ev)
	}
	return nil
}

func (e *htmlElement) Click(ctx context.Context) error {
	return e.Dispatch(ctx, Event{Type: "click"})
}

func (e *htmlElement) Focus(ctx context.Context) error {
	return e.Dispatch(ctx, Event{Type: "focus"})
}

func (e *htmlElement) Blur(ctx context.Context) error {
	return e.Dispatch(ctx, Event{Type: "blur"})
}

func (e *htmlElement) SetSelected(_ context.Context) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.node.Data != "option" {
		return fmt.Errorf("cannot select <%s>", e.node.Data)
	}
	selectOption(e.node)
	return nil
}

func (e *htmlElement) ScrollIntoView(_ context.Context) error {
	return nil
}

func nodeValue(n *html.Node) string {
	switch n.Data {
	case "select":
		opts := options(n)
		for _, opt := range opts {
			if _, ok := getAttr(opt, "selected"); ok {
				return optionValue(opt)
			}
		}
		if len(opts) > 0 {
			return optionValue(opts[0])
		}
		return ""
	case "textarea":
		return goquery.NewDocumentFromNode(n).Text()
	}
	v, _ := getAttr(n, "value")
	return v
}

func optionValue(opt *html.Node) string {
	if v, ok := getAttr(opt, "value"); ok {
		return v
	}
	return strings.TrimSpace(goquery.NewDocumentFromNode(opt).Text())
}

func options(sel *html.Node) []*html.Node {
	return goquery.NewDocumentFromNode(sel).Find("option").Nodes
}

// selectOption marks opt selected and clears its siblings in the same select.
func selectOption(opt *html.Node) {
	parent := opt.Parent
	for parent != nil && parent.Data != "select" {
		parent = parent.Parent
	}
	if parent != nil {
		for _, o := range options(parent) {
			removeAttr(o, "selected")
		}
	}
	setAttr(opt, "selected", "selected")
}

func getAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != name {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func describeNode(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return "#document"
	}
	var b strings.Builder
	b.WriteString(n.Data)
	if id, ok := getAttr(n, "id"); ok && id != "" {
		b.WriteString("#" + id)
	}
	if class, ok := getAttr(n, "class"); ok {
		if fields := strings.Fields(class); len(fields) > 0 {
			b.WriteString("." + fields[0])
		}
	}
	if name, ok := getAttr(n, "formcontrolname"); ok {
		b.WriteString("[formcontrolname=" + name + "]")
	}
	return b.String()
}
