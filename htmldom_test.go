package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"
)

const smallPage = `<html><body>
<div id="box" class="panel" style="opacity: 0.5"><span class="label">Hello</span></div>
<input id="name" value="old">
<select id="pick"><option value="a">Alpha</option><option value="b" selected>Beta</option><option>Gamma</option></select>
<ul id="list"></ul>
</body></html>`

func parseSmallPage(t *testing.T) *HTMLDocument {
	t.Helper()
	doc, err := ParseHTMLDocument("https://host.example/book?bookingId=a1", strings.NewReader(smallPage), nil)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestHTMLDocumentFind(t *testing.T) {
	ctx := context.Background()
	doc := parseSmallPage(t)

	el, err := doc.Find(ctx, "#box .label")
	if err != nil || el == nil {
		t.Fatalf("Expected label element, got %v %v", el, err)
	}
	text, _ := el.Text(ctx)
	if text != "Hello" {
		t.Errorf("Expected 'Hello', got %q", text)
	}

	missing, err := doc.Find(ctx, "#nothing")
	if err != nil || missing != nil {
		t.Errorf("Expected nil element and nil error for no match, got %v %v", missing, err)
	}

	url, _ := doc.URL(ctx)
	if IdentifierFromURL(url, "bookingId") != "a1" {
		t.Errorf("Unexpected URL %q", url)
	}
}

func TestHTMLElementOpacity(t *testing.T) {
	ctx := context.Background()
	doc := parseSmallPage(t)

	box, _ := doc.Find(ctx, "#box")
	if got, _ := box.Opacity(ctx); got != "0.5" {
		t.Errorf("Expected inline opacity 0.5, got %q", got)
	}
	label, _ := doc.Find(ctx, ".label")
	if got, _ := label.Opacity(ctx); got != "1" {
		t.Errorf("Expected default opacity 1, got %q", got)
	}
}

func TestHTMLElementValues(t *testing.T) {
	ctx := context.Background()
	doc := parseSmallPage(t)

	input, _ := doc.Find(ctx, "#name")
	if err := input.SetValue(ctx, "new"); err != nil {
		t.Fatal(err)
	}
	if doc.ValueOf("#name") != "new" {
		t.Errorf("Expected 'new', got %q", doc.ValueOf("#name"))
	}

	sel, _ := doc.Find(ctx, "#pick")
	if v, _ := sel.Value(ctx); v != "b" {
		t.Errorf("Expected preselected 'b', got %q", v)
	}
	if err := sel.SetValue(ctx, "Gamma"); err != nil {
		t.Fatalf("Selecting an option by its text value failed: %v", err)
	}
	if v, _ := sel.Value(ctx); v != "Gamma" {
		t.Errorf("Expected 'Gamma', got %q", v)
	}
	if err := sel.SetValue(ctx, "zeta"); err == nil {
		t.Error("Expected error for unknown option")
	}

	opt, _ := doc.Find(ctx, `#pick option[value="a"]`)
	if err := opt.SetSelected(ctx); err != nil {
		t.Fatal(err)
	}
	if doc.ValueOf("#pick") != "a" {
		t.Errorf("Expected 'a' after SetSelected, got %q", doc.ValueOf("#pick"))
	}
	if err := input.SetSelected(ctx); err == nil {
		t.Error("SetSelected on an input should fail")
	}
}

func TestHTMLDocumentHandlersBubble(t *testing.T) {
	ctx := context.Background()
	doc := parseSmallPage(t)

	var got []string
	doc.On("#box", "click", func(d *HTMLDocument, n *html.Node) {
		got = append(got, d.NodeText(n))
		d.Append("#list", "<li>added</li>")
	})
	doc.On("#box", "focus", func(d *HTMLDocument, n *html.Node) {
		t.Error("Focus handler should not run on click")
	})

	label, _ := doc.Find(ctx, ".label")
	if err := label.Click(ctx); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 || got[0] != "Hello" {
		t.Errorf("Expected handler to see the clicked node, got %v", got)
	}
	if doc.Count("#list li") != 1 {
		t.Errorf("Expected handler to append one item, got %d", doc.Count("#list li"))
	}

	events := doc.Events()
	if len(events) != 1 || events[0].Type != "click" || events[0].Target != "span.label" {
		t.Errorf("Unexpected event log: %+v", events)
	}
}

func TestHTMLDocumentMutations(t *testing.T) {
	doc := parseSmallPage(t)
	ctx, cancel := context.WithCancel(context.Background())

	feed, err := doc.ObserveMutations(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Attribute writes are not child-list mutations.
	doc.SetAttr("#name", "value", "x")
	select {
	case <-feed:
		t.Error("SetAttr should not notify observers")
	default:
	}

	if n, _ := doc.Append("#list", "<li>one</li><li>two</li>"); n != 1 {
		t.Errorf("Expected one append target, got %d", n)
	}
	select {
	case <-feed:
	case <-time.After(time.Second):
		t.Fatal("Expected a mutation after Append")
	}

	if removed := doc.Remove("#list li"); removed != 2 {
		t.Errorf("Expected two removed items, got %d", removed)
	}
	if doc.SetText(".label", "Bye") != 1 || doc.TextOf("#box") != "Bye" {
		t.Errorf("SetText did not replace text, got %q", doc.TextOf("#box"))
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-feed:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("Feed not closed after cancel")
		}
	}
}

func TestHTMLDocumentRender(t *testing.T) {
	doc := parseSmallPage(t)
	doc.SetAttr("#name", "value", "rendered")
	if !strings.Contains(doc.HTML(), `value="rendered"`) {
		t.Error("Expected rendered HTML to carry the new value")
	}
}
