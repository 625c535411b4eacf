package document

// Attr is a single attribute. Attribute order is part of the document and is
// preserved by every codec.
type Attr struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Element is a node of a structured document: a tag, ordered attributes,
// optional text content and ordered children.
type Element struct {
	Tag      string
	Attrs    []Attr
	Text     string
	Children []*Element
}

// NewElement returns an element with the given tag and attributes.
// attrs is read as key/value pairs; a trailing odd key is ignored.
func NewElement(tag string, attrs ...string) *Element {
	e := &Element{Tag: tag}
	for i := 0; i+1 < len(attrs); i += 2 {
		e.Attrs = append(e.Attrs, Attr{Key: attrs[i], Value: attrs[i+1]})
	}
	return e
}

// Attr returns the value of key and whether it was present.
func (e *Element) Attr(key string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Get returns the value of key or "" when missing.
func (e *Element) Get(key string) string {
	v, _ := e.Attr(key)
	return v
}

// SetAttr overwrites key in place, or appends it when missing.
func (e *Element) SetAttr(key, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Key == key {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Key: key, Value: value})
}

// RemoveAttr deletes key. It reports whether the attribute existed.
func (e *Element) RemoveAttr(key string) bool {
	for i := range e.Attrs {
		if e.Attrs[i].Key == key {
			e.Attrs = append(e.Attrs[:i], e.Attrs[i+1:]...)
			return true
		}
	}
	return false
}

// AddChild appends c and returns it.
func (e *Element) AddChild(c *Element) *Element {
	e.Children = append(e.Children, c)
	return c
}

// SubElement creates a child with the given tag and attributes and appends it.
func (e *Element) SubElement(tag string, attrs ...string) *Element {
	return e.AddChild(NewElement(tag, attrs...))
}

// RemoveChild removes c (by identity). It reports whether c was a child of e.
func (e *Element) RemoveChild(c *Element) bool {
	for i, ch := range e.Children {
		if ch == c {
			e.Children = append(e.Children[:i], e.Children[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the first direct child with the given tag, or nil.
func (e *Element) Find(tag string) *Element {
	for _, c := range e.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// FindAll returns every direct child with the given tag, in document order.
func (e *Element) FindAll(tag string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// FindAllAttr returns the direct children with the given tag whose attribute
// key equals value.
func (e *Element) FindAllAttr(tag, key, value string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Tag != tag {
			continue
		}
		if v, ok := c.Attr(key); ok && v == value {
			out = append(out, c)
		}
	}
	return out
}

// Descendant returns the first element with the given tag in a depth-first,
// pre-order walk that starts with e itself.
func (e *Element) Descendant(tag string) *Element {
	if e == nil {
		return nil
	}
	if e.Tag == tag {
		return e
	}
	for _, c := range e.Children {
		if d := c.Descendant(tag); d != nil {
			return d
		}
	}
	return nil
}

// Clone returns a deep copy of e.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	c := &Element{Tag: e.Tag, Text: e.Text}
	if len(e.Attrs) > 0 {
		c.Attrs = append([]Attr(nil), e.Attrs...)
	}
	if len(e.Children) > 0 {
		c.Children = make([]*Element, len(e.Children))
		for i, ch := range e.Children {
			c.Children[i] = ch.Clone()
		}
	}
	return c
}

// Equal reports whether a and b have the same tag, attributes (in order),
// text and children.
func Equal(a, b *Element) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Tag != b.Tag || a.Text != b.Text || len(a.Attrs) != len(b.Attrs) || len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Attrs {
		if a.Attrs[i] != b.Attrs[i] {
			return false
		}
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
