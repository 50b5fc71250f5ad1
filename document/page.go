// Package document exposes the parts of a hosting HTML page the dispatcher
// relies on: the <base href> hint and the anti-forgery token.
package document

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is the parsed view of a hosting page. Lookups return the first
// matching element in document order.
type Page struct {
	baseHref string
	hasBase  bool
	metas    map[string]string
	inputs   map[string]string
}

// Parse reads an HTML document from r.
func Parse(r io.Reader) (*Page, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	p := &Page{
		metas:  make(map[string]string),
		inputs: make(map[string]string),
	}
	p.walk(root)
	return p, nil
}

// ParseString parses an in-memory HTML document.
func ParseString(s string) (*Page, error) {
	return Parse(strings.NewReader(s))
}

// ParseFile parses the HTML document stored at path.
func ParseFile(path string) (*Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

func (p *Page) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Base:
			if href, ok := attr(n, "href"); ok && !p.hasBase {
				p.baseHref = href
				p.hasBase = true
			}
		case atom.Meta:
			if name, ok := attr(n, "name"); ok {
				if _, seen := p.metas[name]; !seen {
					content, _ := attr(n, "content")
					p.metas[name] = content
				}
			}
		case atom.Input:
			if name, ok := attr(n, "name"); ok {
				if _, seen := p.inputs[name]; !seen {
					value, _ := attr(n, "value")
					p.inputs[name] = value
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walk(c)
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// BaseHref returns the href of the first <base> element.
func (p *Page) BaseHref() (string, bool) {
	if p == nil {
		return "", false
	}
	return p.baseHref, p.hasBase
}

// MetaContent returns the content attribute of the first <meta name=name>.
func (p *Page) MetaContent(name string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.metas[name]
	return v, ok
}

// InputValue returns the value attribute of the first <input name=name>.
func (p *Page) InputValue(name string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.inputs[name]
	return v, ok
}
