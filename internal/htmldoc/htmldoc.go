// Package htmldoc loads HTML into a tree.Document and renders it back.
package htmldoc

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/aliaswap/aliaswap/internal/scan"
	"github.com/aliaswap/aliaswap/internal/tree"
)

// opaqueSelector matches elements whose content is not document text. The
// elements are kept; their content is not loaded.
const opaqueSelector = "script, style, template, noscript"

// Source is what Render reads.
type Source interface {
	Title() string
	Export() []tree.Spec
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*tree.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	title := doc.Find("head > title").First().Text()
	body := doc.Find("body").First()
	body.Find(opaqueSelector).Empty()

	var specs []tree.Spec
	for _, n := range body.Contents().Nodes {
		if spec, ok := convert(n); ok {
			specs = append(specs, spec)
		}
	}

	out := tree.NewDocument(title)
	if len(specs) > 0 {
		if _, err := out.Insert(out.Root(), specs...); err != nil {
			return nil, fmt.Errorf("load body: %w", err)
		}
	}
	return out, nil
}

// ParseFragment reads markup as if it appeared inside <body>.
func ParseFragment(r io.Reader) ([]tree.Spec, error) {
	bodyCtx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(r, bodyCtx)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	var specs []tree.Spec
	for _, n := range nodes {
		if isOpaque(n) {
			for c := n.FirstChild; c != nil; c = n.FirstChild {
				n.RemoveChild(c)
			}
		}
		if spec, ok := convert(n); ok {
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

func isOpaque(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Template, atom.Noscript:
		return true
	}
	return false
}

func convert(n *html.Node) (tree.Spec, bool) {
	switch n.Type {
	case html.TextNode:
		return tree.Text(n.Data), true
	case html.ElementNode:
		spec := tree.Spec{Tag: n.Data}
		for _, a := range n.Attr {
			key := a.Key
			if a.Namespace != "" {
				key = a.Namespace + ":" + a.Key
			}
			spec.Attrs = append(spec.Attrs, tree.Attr{Key: key, Val: a.Val})
		}
		if isOpaque(n) {
			return spec, true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if child, ok := convert(c); ok {
				spec.Children = append(spec.Children, child)
			}
		}
		return spec, true
	default:
		return tree.Spec{}, false
	}
}

// Render writes src as a complete HTML document. Highlight markers held in
// leaves marked Replaced become real elements; other text is escaped as is.
func Render(w io.Writer, src Source, marker scan.Marker) error {
	root := &html.Node{Type: html.DocumentNode}
	root.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	htmlEl := element("html")
	root.AppendChild(htmlEl)

	head := element("head")
	htmlEl.AppendChild(head)
	title := element("title")
	title.AppendChild(&html.Node{Type: html.TextNode, Data: src.Title()})
	head.AppendChild(title)

	body := element("body")
	htmlEl.AppendChild(body)
	for _, spec := range src.Export() {
		appendSpec(body, spec, marker)
	}
	if err := html.Render(w, root); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

// RenderString is Render into a string.
func RenderString(src Source, marker scan.Marker) (string, error) {
	var b strings.Builder
	if err := Render(&b, src, marker); err != nil {
		return "", err
	}
	return b.String(), nil
}

func element(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

func appendSpec(parent *html.Node, spec tree.Spec, marker scan.Marker) {
	if spec.IsText() {
		if spec.Mark != tree.Replaced {
			parent.AppendChild(&html.Node{Type: html.TextNode, Data: spec.Text})
			return
		}
		appendText(parent, spec.Text, marker)
		return
	}
	n := element(spec.Tag)
	for _, a := range spec.Attrs {
		n.Attr = append(n.Attr, html.Attribute{Key: a.Key, Val: a.Val})
	}
	for _, child := range spec.Children {
		appendSpec(n, child, marker)
	}
	parent.AppendChild(n)
}

// appendText splits a rewritten leaf on marker spans. An unterminated marker
// is kept as plain text.
func appendText(parent *html.Node, text string, marker scan.Marker) {
	openTag, closeTag := marker.Open(), marker.Close()
	tag := marker.Tag
	attr := marker.Attribute
	if tag == "" || attr == "" {
		tag, attr = scan.DefaultMarker.Tag, scan.DefaultMarker.Attribute
	}
	for text != "" {
		start := strings.Index(text, openTag)
		if start < 0 {
			break
		}
		end := strings.Index(text[start+len(openTag):], closeTag)
		if end < 0 {
			break
		}
		if start > 0 {
			parent.AppendChild(&html.Node{Type: html.TextNode, Data: text[:start]})
		}
		inner := text[start+len(openTag) : start+len(openTag)+end]
		mark := element(tag)
		mark.Attr = []html.Attribute{{Key: attr}}
		mark.AppendChild(&html.Node{Type: html.TextNode, Data: inner})
		parent.AppendChild(mark)
		text = text[start+len(openTag)+end+len(closeTag):]
	}
	if text != "" {
		parent.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}
