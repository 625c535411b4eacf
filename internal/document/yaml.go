package document

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAML stores element trees as nested mappings:
//
//	tag: ConfigStatistics
//	children:
//	  - tag: Node
//	    attrs:
//	      name: host1
//
// attrs is a mapping whose key order is the attribute order.
type YAML struct{}

func (YAML) Name() string { return "yaml" }

func (YAML) Decode(data []byte) (*Element, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, ErrEmptyDocument
	}
	root, err := fromYAML(doc.Content[0])
	if err != nil {
		return nil, err
	}
	// Every tree handed out must be writable as XML.
	if err := Validate(root); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return root, nil
}

func (YAML) Encode(root *Element) ([]byte, error) {
	if root == nil {
		return nil, ErrEmptyDocument
	}
	var b bytes.Buffer
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(toYAML(root)); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return b.Bytes(), nil
}

func toYAML(e *Element) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode}
	m.Content = append(m.Content, str("tag"), str(e.Tag))
	if len(e.Attrs) > 0 {
		attrs := &yaml.Node{Kind: yaml.MappingNode}
		for _, a := range e.Attrs {
			attrs.Content = append(attrs.Content, str(a.Key), str(a.Value))
		}
		m.Content = append(m.Content, str("attrs"), attrs)
	}
	if e.Text != "" {
		m.Content = append(m.Content, str("text"), str(e.Text))
	}
	if len(e.Children) > 0 {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, c := range e.Children {
			seq.Content = append(seq.Content, toYAML(c))
		}
		m.Content = append(m.Content, str("children"), seq)
	}
	return m
}

func str(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func fromYAML(n *yaml.Node) (*Element, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse yaml: line %d: element must be a mapping", n.Line)
	}
	e := &Element{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		switch k.Value {
		case "tag":
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("parse yaml: line %d: tag must be a scalar", v.Line)
			}
			e.Tag = v.Value
		case "text":
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("parse yaml: line %d: text must be a scalar", v.Line)
			}
			e.Text = v.Value
		case "attrs":
			if v.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("parse yaml: line %d: attrs must be a mapping", v.Line)
			}
			for j := 0; j+1 < len(v.Content); j += 2 {
				e.Attrs = append(e.Attrs, Attr{Key: v.Content[j].Value, Value: v.Content[j+1].Value})
			}
		case "children":
			if v.Kind != yaml.SequenceNode {
				return nil, fmt.Errorf("parse yaml: line %d: children must be a sequence", v.Line)
			}
			for _, c := range v.Content {
				child, err := fromYAML(c)
				if err != nil {
					return nil, err
				}
				e.Children = append(e.Children, child)
			}
		default:
			return nil, fmt.Errorf("parse yaml: line %d: unknown key %q", k.Line, k.Value)
		}
	}
	if e.Tag == "" {
		return nil, fmt.Errorf("parse yaml: line %d: element without tag", n.Line)
	}
	return e, nil
}
