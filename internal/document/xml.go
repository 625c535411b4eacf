package document

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// XML reads and writes the statistics file format.
//
// Output is indented by two spaces per depth level. Each element is written as
// one of
//
//	<tag attrs>text</tag>
//	<tag attrs>
//	  children...
//	</tag>
//	<tag attrs/>
//
// Attribute values are single-quoted. The blank between the tag and the
// attribute list is always written, which keeps files byte-identical with the
// ones produced by earlier servers.
type XML struct{}

func (XML) Name() string { return "xml" }

func (XML) Decode(data []byte) (*Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		root  *Element
		stack []*Element
		text  []*strings.Builder
	)
	for {
		// RawToken keeps namespace prefixes as written; element nesting is
		// checked against the stack below.
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, fmt.Errorf("parse xml: unexpected second root element <%s>", t.Name.Local)
			}
			e := &Element{Tag: qualified(t.Name)}
			for _, a := range t.Attr {
				e.Attrs = append(e.Attrs, Attr{Key: qualified(a.Name), Value: a.Value})
			}
			if len(stack) == 0 {
				root = e
			} else {
				stack[len(stack)-1].AddChild(e)
			}
			stack = append(stack, e)
			text = append(text, &strings.Builder{})
		case xml.EndElement:
			n := len(stack) - 1
			if n < 0 {
				return nil, fmt.Errorf("parse xml: unexpected end element </%s>", qualified(t.Name))
			}
			if tag := qualified(t.Name); tag != stack[n].Tag {
				return nil, fmt.Errorf("parse xml: element <%s> closed by </%s>", stack[n].Tag, tag)
			}
			stack[n].Text = strings.TrimSpace(text[n].String())
			stack = stack[:n]
			text = text[:n]
		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, errors.New("parse xml: character data outside root element")
				}
				continue
			}
			text[len(text)-1].Write(t)
		}
	}
	if root == nil {
		return nil, ErrEmptyDocument
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("parse xml: unclosed element <%s>", stack[len(stack)-1].Tag)
	}
	return root, nil
}

func (XML) Encode(root *Element) ([]byte, error) {
	if root == nil {
		return nil, ErrEmptyDocument
	}
	if err := Validate(root); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	writeXML(&b, root, 0)
	return b.Bytes(), nil
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func writeXML(b *bytes.Buffer, e *Element, level int) {
	indent := strings.Repeat(" ", level)
	b.WriteString(indent)
	b.WriteByte('<')
	b.WriteString(e.Tag)
	b.WriteByte(' ')
	for i, a := range e.Attrs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a.Key)
		b.WriteString("='")
		b.WriteString(escapeAttr(a.Value))
		b.WriteByte('\'')
	}
	switch {
	case len(e.Children) > 0:
		b.WriteString(">\n")
		if e.Text != "" {
			b.WriteString(strings.Repeat(" ", level+2))
			b.WriteString(escapeText(e.Text))
			b.WriteByte('\n')
		}
		for _, c := range e.Children {
			writeXML(b, c, level+2)
		}
		b.WriteString(indent)
		b.WriteString("</")
		b.WriteString(e.Tag)
		b.WriteString(">\n")
	case e.Text != "":
		b.WriteByte('>')
		b.WriteString(escapeText(e.Text))
		b.WriteString("</")
		b.WriteString(e.Tag)
		b.WriteString(">\n")
	default:
		b.WriteString("/>\n")
	}
}

var (
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", "'", "&apos;", "\n", "&#xA;", "\r", "&#xD;", "\t", "&#x9;")
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")
)

func escapeAttr(s string) string { return attrEscaper.Replace(s) }

func escapeText(s string) string { return textEscaper.Replace(s) }
