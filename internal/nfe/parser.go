// Package nfe turns NFe / NFSe XML attachments into warehouse rows.
//
// The XML is parsed into a loose element tree, classified by its root
// element, and mapped field by field into an invoice header plus line items.
// No schema validation is performed.
package nfe

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

const (
	// DefaultAttributePrefix marks a lookup key as an attribute rather than a child element.
	DefaultAttributePrefix = "_"
	// DefaultMaxTextLength caps any single text node, in runes.
	DefaultMaxTextLength = 1000
)

// ParseError reports XML that could not be turned into a document tree.
type ParseError struct {
	Context string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("xml parse error: %v", e.Err)
	}
	return fmt.Sprintf("xml parse error for %s: %v", e.Context, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Node is one XML element. Attributes and text are kept as strings.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node

	prefix string
}

// Child returns the first child element with the given local name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// All returns every child element with the given local name. A repeatable
// element that occurs once still comes back as a one-element slice.
func (n *Node) All(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Path walks child elements by name and returns nil as soon as one is missing.
func (n *Node) Path(names ...string) *Node {
	cur := n
	for _, name := range names {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Value resolves a slash separated path. A final segment starting with the
// attribute prefix reads an attribute, otherwise the element text.
func (n *Node) Value(path string) string {
	if n == nil {
		return ""
	}
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	target := n.Path(segments[:len(segments)-1]...)
	if target == nil {
		return ""
	}
	if n.prefix != "" && strings.HasPrefix(last, n.prefix) {
		return target.Attrs[strings.TrimPrefix(last, n.prefix)]
	}
	return target.Child(last).text()
}

// Has reports whether the path resolves to an element.
func (n *Node) Has(path string) bool {
	return n.Path(strings.Split(path, "/")...) != nil
}

func (n *Node) text() string {
	if n == nil {
		return ""
	}
	return n.Text
}

// Document is a parsed XML document rooted at its document element.
type Document struct {
	Root *Node
}

// Parser builds Documents from raw bytes.
type Parser struct {
	AttributePrefix string
	MaxTextLength   int
}

// NewParser returns a parser with the default attribute prefix and text cap.
func NewParser() *Parser {
	return &Parser{AttributePrefix: DefaultAttributePrefix, MaxTextLength: DefaultMaxTextLength}
}

// Parse is shorthand for NewParser().Parse.
func Parse(data []byte, context string) (*Document, error) {
	return NewParser().Parse(data, context)
}

// Parse decodes data into a Document. DOCTYPE declarations are ignored and
// no entities beyond the predefined XML ones are expanded. The context is
// only used in error messages.
func (p *Parser) Parse(data []byte, context string) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	dec.Entity = nil
	dec.CharsetReader = charset.NewReaderLabel

	var (
		root  *Node
		stack []*Node
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Context: context, Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &Node{Name: t.Name.Local, prefix: p.AttributePrefix}
			if len(t.Attr) > 0 {
				node.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
						continue
					}
					node.Attrs[a.Name.Local] = p.truncate(a.Value)
				}
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, &ParseError{Context: context, Err: errors.New("more than one root element")}
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			top := stack[len(stack)-1]
			top.Text = strings.TrimSpace(top.Text)
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			top.Text = p.appendText(top.Text, string(t))
		case xml.Directive, xml.ProcInst, xml.Comment:
			// DOCTYPE and friends are skipped, never resolved.
		}
	}
	if root == nil {
		return nil, &ParseError{Context: context, Err: errors.New("no root element")}
	}
	if len(stack) > 0 {
		return nil, &ParseError{Context: context, Err: fmt.Errorf("unclosed element <%s>", stack[len(stack)-1].Name)}
	}
	return &Document{Root: root}, nil
}

// appendText accumulates character data up to MaxTextLength runes. Leading
// whitespace does not count toward the limit.
func (p *Parser) appendText(existing, more string) string {
	if strings.TrimSpace(existing) == "" {
		existing = ""
		more = strings.TrimLeftFunc(more, unicode.IsSpace)
	}
	if p.MaxTextLength <= 0 {
		return existing + more
	}
	have := utf8.RuneCountInString(existing)
	if have >= p.MaxTextLength {
		return existing
	}
	return existing + truncateRunes(more, p.MaxTextLength-have)
}

func (p *Parser) truncate(s string) string {
	if p.MaxTextLength <= 0 {
		return s
	}
	return truncateRunes(s, p.MaxTextLength)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
