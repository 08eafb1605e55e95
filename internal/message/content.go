package message

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyMultiContent is returned when a MultiContent is built without candidates.
var ErrEmptyMultiContent = errors.New("message: multi content requires at least one candidate")

// Content is one representation of a message body. Translators turn template
// references into StringContent.
type Content interface {
	fmt.Stringer
}

// Variant distinguishes alternative representations of the same body.
type Variant string

const (
	VariantText Variant = "text"
	VariantHTML Variant = "html"
)

// StringContent is literal, already materialized text.
type StringContent struct {
	Text    string
	Variant Variant
}

// String implements Content.
func (c StringContent) String() string { return c.Text }

// TemplateContent references a template to be rendered with Data.
type TemplateContent struct {
	Path    string
	Variant Variant
	Data    any
}

// String implements Content.
func (c TemplateContent) String() string {
	if c.Variant == "" {
		return "template:" + c.Path
	}
	return fmt.Sprintf("template:%s[%s]", c.Path, c.Variant)
}

// MultiContent is an ordered, non-empty list of candidate contents.
type MultiContent struct {
	contents []Content
}

// NewMultiContent builds a MultiContent preserving the given order. Nil
// entries are ignored.
func NewMultiContent(contents ...Content) (*MultiContent, error) {
	kept := make([]Content, 0, len(contents))
	for _, c := range contents {
		if c != nil {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil, ErrEmptyMultiContent
	}
	return &MultiContent{contents: kept}, nil
}

// MultiTemplateContent creates one template candidate per variant for the
// same template path. Without variants it produces text then html.
func MultiTemplateContent(path string, data any, variants ...Variant) *MultiContent {
	if len(variants) == 0 {
		variants = []Variant{VariantText, VariantHTML}
	}
	contents := make([]Content, 0, len(variants))
	for _, v := range variants {
		contents = append(contents, TemplateContent{Path: path, Variant: v, Data: data})
	}
	return &MultiContent{contents: contents}
}

// Contents returns a copy of the candidates.
func (m *MultiContent) Contents() []Content {
	if m == nil {
		return nil
	}
	return append([]Content(nil), m.contents...)
}

// Len returns the number of candidates.
func (m *MultiContent) Len() int {
	if m == nil {
		return 0
	}
	return len(m.contents)
}

// String implements Content.
func (m *MultiContent) String() string {
	parts := make([]string, 0, m.Len())
	for _, c := range m.Contents() {
		parts = append(parts, c.String())
	}
	return "multi[" + strings.Join(parts, ", ") + "]"
}
