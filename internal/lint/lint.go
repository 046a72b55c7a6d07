// Package lint checks markup for the structural mistakes that break a page
// before it reaches a browser: missing doctype, unpaired tags, duplicate
// attributes or ids, empty sources, single-quoted or unquoted attribute
// values and uppercase tag names.
package lint

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/markup"
)

// Rule identifiers.
const (
	RuleDoctypeFirst          = "doctype-first"
	RuleTagPair               = "tag-pair"
	RuleAttrNoDuplication     = "attr-no-duplication"
	RuleIDUnique              = "id-unique"
	RuleSrcNotEmpty           = "src-not-empty"
	RuleAttrValueDoubleQuotes = "attr-value-double-quotes"
	RuleTagnameLowercase      = "tagname-lowercase"
)

// Rule describes a single check.
type Rule struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// DefaultRules lists every check, all of which are enabled by default.
var DefaultRules = []Rule{
	{ID: RuleDoctypeFirst, Description: "Doctype must be declared first"},
	{ID: RuleTagPair, Description: "Tags must be paired"},
	{ID: RuleAttrNoDuplication, Description: "Elements cannot have duplicate attributes"},
	{ID: RuleIDUnique, Description: "The value of id attributes must be unique"},
	{ID: RuleSrcNotEmpty, Description: "The src attribute of an img(script,link) must have a value"},
	{ID: RuleAttrValueDoubleQuotes, Description: "Attribute values must be in double quotes"},
	{ID: RuleTagnameLowercase, Description: "All html element names must be in lowercase"},
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// sourceAttrs maps elements to the attribute that must not be empty.
var sourceAttrs = map[string]string{
	"img":    "src",
	"script": "src",
	"link":   "href",
	"iframe": "src",
	"embed":  "src",
	"audio":  "src",
	"video":  "src",
	"source": "src",
	"track":  "src",
}

// Linter runs a set of rules over markup.
type Linter struct {
	enabled map[string]bool
}

// New creates a linter with the given rules enabled, or every rule when none
// are named.
func New(ruleIDs ...string) (*Linter, error) {
	known := make(map[string]bool, len(DefaultRules))
	for _, r := range DefaultRules {
		known[r.ID] = true
	}

	if len(ruleIDs) == 0 {
		return &Linter{enabled: known}, nil
	}

	enabled := make(map[string]bool, len(ruleIDs))
	for _, id := range ruleIDs {
		if !known[id] {
			return nil, fmt.Errorf("unknown lint rule %q", id)
		}
		enabled[id] = true
	}

	return &Linter{enabled: enabled}, nil
}

// Rules returns the enabled rules in declaration order.
func (l *Linter) Rules() []Rule {
	var rules []Rule
	for _, r := range DefaultRules {
		if l.enabled[r.ID] {
			rules = append(rules, r)
		}
	}
	return rules
}

type openTag struct {
	name   string
	line   int
	column int
}

type run struct {
	src        []byte
	linter     *Linter
	violations []errors.Violation
	ids        map[string]int
	stack      []openTag
	seenFirst  bool
}

// Lint returns every violation in src ordered by position.
func (l *Linter) Lint(_ string, src []byte) ([]errors.Violation, error) {
	r := &run{src: src, linter: l, ids: make(map[string]int)}

	z := html.NewTokenizer(bytes.NewReader(src))
	offset := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			break
		}

		raw := z.Raw()
		line, column := r.position(offset)
		r.token(tt, raw, offset, line, column)
		offset += len(raw)
	}

	for i := len(r.stack) - 1; i >= 0; i-- {
		open := r.stack[i]
		r.report(RuleTagPair, open.line, open.column, "tag <%s> is not closed", open.name)
	}

	sort.SliceStable(r.violations, func(i, j int) bool {
		a, b := r.violations[i], r.violations[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})

	return r.violations, nil
}

func (r *run) position(offset int) (int, int) {
	before := r.src[:offset]
	line := bytes.Count(before, []byte("\n")) + 1
	column := offset - bytes.LastIndexByte(before, '\n')
	return line, column
}

func (r *run) report(rule string, line, column int, format string, args ...interface{}) {
	if !r.linter.enabled[rule] {
		return
	}
	r.violations = append(r.violations, errors.Violation{
		Rule:    rule,
		Message: fmt.Sprintf(format, args...),
		Line:    line,
		Column:  column,
	})
}

func (r *run) token(tt html.TokenType, raw []byte, offset, line, column int) {
	switch tt {
	case html.TextToken:
		if len(bytes.TrimSpace(raw)) == 0 {
			return
		}
	case html.CommentToken:
		return
	}

	if !r.seenFirst {
		r.seenFirst = true
		if tt != html.DoctypeToken {
			r.report(RuleDoctypeFirst, line, column, "doctype must be declared before any content")
		}
	}

	switch tt {
	case html.StartTagToken, html.SelfClosingTagToken:
		name := r.checkTagName(raw, line, column)
		r.checkAttributes(name, raw, offset)
		if tt == html.StartTagToken && !voidElements[name] {
			r.stack = append(r.stack, openTag{name: name, line: line, column: column})
		}

	case html.EndTagToken:
		name := r.checkTagName(raw, line, column)
		r.closeTag(name, line, column)
	}
}

func (r *run) checkTagName(raw []byte, line, column int) string {
	name := markup.TagName(raw)
	lower := strings.ToLower(name)
	if name != lower {
		r.report(RuleTagnameLowercase, line, column, "tag name <%s> must be lowercase", name)
	}
	return lower
}

func (r *run) closeTag(name string, line, column int) {
	if voidElements[name] {
		return
	}

	for i := len(r.stack) - 1; i >= 0; i-- {
		if r.stack[i].name != name {
			continue
		}
		for j := len(r.stack) - 1; j > i; j-- {
			open := r.stack[j]
			r.report(RuleTagPair, open.line, open.column, "tag <%s> is not closed", open.name)
		}
		r.stack = r.stack[:i]
		return
	}

	r.report(RuleTagPair, line, column, "end tag </%s> has no matching start tag", name)
}

func (r *run) checkAttributes(tag string, raw []byte, tagOffset int) {
	seen := make(map[string]bool)

	for _, attr := range markup.Attributes(raw) {
		name := strings.ToLower(attr.Name)
		line, column := r.position(tagOffset + attr.Offset)

		if seen[name] {
			r.report(RuleAttrNoDuplication, line, column, "duplicate attribute %q on <%s>", name, tag)
		}
		seen[name] = true

		if attr.HasValue && attr.Quote != '"' {
			r.report(RuleAttrValueDoubleQuotes, line, column, "value of attribute %q must be in double quotes", name)
		}

		if name == "id" && attr.Value != "" {
			if prev, dup := r.ids[attr.Value]; dup {
				r.report(RuleIDUnique, line, column, "id %q is already used on line %d", attr.Value, prev)
			} else {
				r.ids[attr.Value] = line
			}
		}

		if want, ok := sourceAttrs[tag]; ok && name == want && strings.TrimSpace(attr.Value) == "" {
			r.report(RuleSrcNotEmpty, line, column, "attribute %q of <%s> must have a value", want, tag)
		}
	}
}
