// Package document wraps goquery so callers can search parsed pages by tag
// name and exact attribute values.
package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed HTML page.
type Document struct {
	doc *goquery.Document
}

// Element is one node of a Document.
type Element struct {
	sel *goquery.Selection
}

// Parse builds a Document from raw HTML. The parser is lenient; malformed
// markup is repaired rather than rejected.
func Parse(body []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{doc: doc}, nil
}

// FindAll returns every element named tag whose attributes equal attrs.
// A nil or empty attrs matches on tag alone.
func (d *Document) FindAll(tag string, attrs map[string]string) []*Element {
	if d == nil || d.doc == nil {
		return nil
	}
	return collect(d.doc.Selection, tag, attrs)
}

// Text returns the trimmed text content of the whole page.
func (d *Document) Text() string {
	if d == nil || d.doc == nil {
		return ""
	}
	return strings.TrimSpace(d.doc.Text())
}

// HTML renders the document back to markup.
func (d *Document) HTML() (string, error) {
	if d == nil || d.doc == nil {
		return "", nil
	}
	out, err := d.doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return out, nil
}

// FindAll searches the element's descendants.
func (e *Element) FindAll(tag string, attrs map[string]string) []*Element {
	if e == nil || e.sel == nil {
		return nil
	}
	return collect(e.sel, tag, attrs)
}

// Text returns the element's text with surrounding whitespace removed.
func (e *Element) Text() string {
	if e == nil || e.sel == nil {
		return ""
	}
	return strings.TrimSpace(e.sel.Text())
}

// Attr returns the named attribute and whether it was present.
func (e *Element) Attr(name string) (string, bool) {
	if e == nil || e.sel == nil {
		return "", false
	}
	return e.sel.Attr(name)
}

func collect(root *goquery.Selection, tag string, attrs map[string]string) []*Element {
	matched := root.Find(tag).FilterFunction(func(_ int, s *goquery.Selection) bool {
		for name, want := range attrs {
			got, ok := s.Attr(name)
			if !ok || got != want {
				return false
			}
		}
		return true
	})
	out := make([]*Element, 0, matched.Length())
	matched.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{sel: s})
	})
	return out
}
