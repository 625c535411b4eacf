// Package document is the structured-document layer used by the statistics
// store: an ordered-attribute element tree and the codecs that read and write
// it. The XML codec keeps byte compatibility with existing statistics files;
// the YAML codec is an alternative on-disk format.
package document

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyDocument is returned when input contains no root element.
var ErrEmptyDocument = errors.New("document: no root element")

// Codec parses and serializes element trees.
// Implementations must be deterministic: encoding the same tree twice yields
// the same bytes.
type Codec interface {
	Name() string
	Decode(data []byte) (*Element, error)
	Encode(root *Element) ([]byte, error)
}

// CodecByName returns the codec registered under name ("xml" or "yaml").
// An empty name selects XML.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "xml":
		return XML{}, nil
	case "yaml", "yml":
		return YAML{}, nil
	default:
		return nil, fmt.Errorf("unsupported document format %q", name)
	}
}
