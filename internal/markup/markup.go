// Package markup reads tags exactly as written. The html tokenizer
// normalises names and drops quoting; the helpers here keep both, along with
// byte offsets, so callers can report positions and rewrite values in place.
package markup

import (
	"bytes"
	"strings"
)

// Attr is one attribute of a raw start tag.
type Attr struct {
	// Name is the attribute name as written.
	Name     string
	Value    string
	Quote    byte
	HasValue bool
	// Offset is the byte offset of the name within the tag.
	Offset int
	// ValueStart and ValueEnd delimit the value within the tag, excluding
	// quotes.
	ValueStart int
	ValueEnd   int
}

// TagName returns the element name of a raw start or end tag as written.
func TagName(raw []byte) string {
	i := 1
	if i < len(raw) && raw[i] == '/' {
		i++
	}
	start := i
	i = skipName(raw, i)
	return string(raw[start:i])
}

// Attributes scans the attributes of a raw start tag in source order,
// duplicates included.
func Attributes(raw []byte) []Attr {
	i := skipName(raw, 1)

	var attrs []Attr
	for i < len(raw) {
		for i < len(raw) && (IsSpace(raw[i]) || raw[i] == '/') {
			i++
		}
		if i >= len(raw) || raw[i] == '>' {
			break
		}

		attr := Attr{Offset: i}
		start := i
		for i < len(raw) && !IsSpace(raw[i]) && raw[i] != '=' && raw[i] != '>' && raw[i] != '/' {
			i++
		}
		attr.Name = string(raw[start:i])

		j := i
		for j < len(raw) && IsSpace(raw[j]) {
			j++
		}
		if j < len(raw) && raw[j] == '=' {
			attr.HasValue = true
			j++
			for j < len(raw) && IsSpace(raw[j]) {
				j++
			}
			if j < len(raw) && (raw[j] == '"' || raw[j] == '\'') {
				attr.Quote = raw[j]
				attr.ValueStart = j + 1
				end := bytes.IndexByte(raw[j+1:], raw[j])
				if end < 0 {
					attr.ValueEnd = len(raw)
					j = len(raw)
				} else {
					attr.ValueEnd = j + 1 + end
					j = attr.ValueEnd + 1
				}
			} else {
				attr.ValueStart = j
				for j < len(raw) && !IsSpace(raw[j]) && raw[j] != '>' {
					j++
				}
				attr.ValueEnd = j
			}
			attr.Value = string(raw[attr.ValueStart:attr.ValueEnd])
			i = j
		}

		if attr.Name != "" {
			attrs = append(attrs, attr)
		} else {
			i++
		}
	}

	return attrs
}

// Lookup returns the first attribute named name, compared case-insensitively.
func Lookup(attrs []Attr, name string) (Attr, bool) {
	for _, a := range attrs {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return Attr{}, false
}

// IsSpace reports HTML whitespace.
func IsSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}

func skipName(raw []byte, i int) int {
	for i < len(raw) && !IsSpace(raw[i]) && raw[i] != '>' && raw[i] != '/' {
		i++
	}
	return i
}
