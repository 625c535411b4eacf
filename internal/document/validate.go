package document

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalid marks an element tree that cannot be written as XML.
var ErrInvalid = errors.New("document: invalid element")

// Validate checks that every tag and attribute key in the tree is an XML
// name and that all text and attribute values hold only XML characters.
// Trees that pass encode to a file the XML codec can read back.
func Validate(e *Element) error {
	if e == nil {
		return fmt.Errorf("%w: nil element", ErrInvalid)
	}
	if !isName(e.Tag) {
		return fmt.Errorf("%w: tag %q is not an XML name", ErrInvalid, e.Tag)
	}
	for _, a := range e.Attrs {
		if !isName(a.Key) {
			return fmt.Errorf("%w: <%s> attribute %q is not an XML name", ErrInvalid, e.Tag, a.Key)
		}
		if !isText(a.Value) {
			return fmt.Errorf("%w: <%s> attribute %q holds characters XML does not allow", ErrInvalid, e.Tag, a.Key)
		}
	}
	if !isText(e.Text) {
		return fmt.Errorf("%w: <%s> text holds characters XML does not allow", ErrInvalid, e.Tag)
	}
	for _, c := range e.Children {
		if err := Validate(c); err != nil {
			return err
		}
	}
	return nil
}

// isName follows the Name production of XML 1.0 (fifth edition).
// Prefixed names are accepted as-is.
func isName(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !isNameStart(r) {
				return false
			}
			continue
		}
		if !isNameStart(r) && !isNameChar(r) {
			return false
		}
	}
	return !strings.HasPrefix(s, ":") && !strings.HasSuffix(s, ":")
}

func isNameStart(r rune) bool {
	switch {
	case r == ':' || r == '_' || ('A' <= r && r <= 'Z') || ('a' <= r && r <= 'z'):
		return true
	case 0xC0 <= r && r <= 0xD6, 0xD8 <= r && r <= 0xF6, 0xF8 <= r && r <= 0x2FF,
		0x370 <= r && r <= 0x37D, 0x37F <= r && r <= 0x1FFF, 0x200C <= r && r <= 0x200D,
		0x2070 <= r && r <= 0x218F, 0x2C00 <= r && r <= 0x2FEF, 0x3001 <= r && r <= 0xD7FF,
		0xF900 <= r && r <= 0xFDCF, 0xFDF0 <= r && r <= 0xFFFD, 0x10000 <= r && r <= 0xEFFFF:
		return true
	}
	return false
}

func isNameChar(r rune) bool {
	switch {
	case r == '-' || r == '.' || ('0' <= r && r <= '9') || r == 0xB7:
		return true
	case 0x300 <= r && r <= 0x36F, 0x203F <= r && r <= 0x2040:
		return true
	}
	return false
}

// isText reports whether s is valid UTF-8 made only of XML Char runes.
func isText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if !isXMLChar(r) {
			return false
		}
	}
	return true
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= unicode.MaxRune)
}
