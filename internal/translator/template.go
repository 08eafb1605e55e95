package translator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"path"
	"sync"
	texttemplate "text/template"

	"github.com/example/notification-delivery/internal/message"
)

type compiled func(buf *bytes.Buffer, data any) error

// TemplateTranslator renders TemplateContent found in an fs.FS. Text
// variants use text/template, html variants use html/template so values
// are escaped. A missing file is recoverable; a broken template is fatal.
// Other contents are returned unchanged.
type TemplateTranslator struct {
	fsys     fs.FS
	prefix   string
	suffixes map[message.Variant]string

	mu    sync.RWMutex
	cache map[string]compiled
}

// TemplateOption customises a TemplateTranslator.
type TemplateOption func(*TemplateTranslator)

// WithPrefix sets a directory prepended to every template path.
func WithPrefix(prefix string) TemplateOption {
	return func(t *TemplateTranslator) { t.prefix = prefix }
}

// WithSuffix overrides the file suffix used for a variant.
func WithSuffix(variant message.Variant, suffix string) TemplateOption {
	return func(t *TemplateTranslator) { t.suffixes[variant] = suffix }
}

// NewTemplateTranslator builds a translator reading templates from fsys.
func NewTemplateTranslator(fsys fs.FS, opts ...TemplateOption) *TemplateTranslator {
	t := &TemplateTranslator{
		fsys: fsys,
		suffixes: map[message.Variant]string{
			message.VariantText: ".txt.tmpl",
			message.VariantHTML: ".html.tmpl",
		},
		cache: make(map[string]compiled),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate implements Translator.
func (t *TemplateTranslator) Translate(_ context.Context, content message.Content) (message.Content, error) {
	tc, ok := content.(message.TemplateContent)
	if !ok {
		if p, isPtr := content.(*message.TemplateContent); isPtr && p != nil {
			tc = *p
		} else {
			return content, nil
		}
	}

	name := t.resolve(tc)
	render, err := t.load(name, tc.Variant)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, Recoverable(tc, err)
		}
		return nil, Fatal(tc, err)
	}

	var buf bytes.Buffer
	if err := render(&buf, tc.Data); err != nil {
		return nil, Fatal(tc, fmt.Errorf("render template %s: %w", name, err))
	}
	return message.StringContent{Text: buf.String(), Variant: tc.Variant}, nil
}

func (t *TemplateTranslator) resolve(tc message.TemplateContent) string {
	name := tc.Path + t.suffixes[tc.Variant]
	if t.prefix != "" {
		name = path.Join(t.prefix, name)
	}
	return name
}

func (t *TemplateTranslator) load(name string, variant message.Variant) (compiled, error) {
	key := string(variant) + ":" + name
	t.mu.RLock()
	render, ok := t.cache[key]
	t.mu.RUnlock()
	if ok {
		return render, nil
	}

	if t.fsys == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	raw, err := fs.ReadFile(t.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}

	if variant == message.VariantHTML {
		tmpl, err := htmltemplate.New(name).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTemplateParse, name, err)
		}
		render = func(buf *bytes.Buffer, data any) error { return tmpl.Execute(buf, data) }
	} else {
		tmpl, err := texttemplate.New(name).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTemplateParse, name, err)
		}
		render = func(buf *bytes.Buffer, data any) error { return tmpl.Execute(buf, data) }
	}

	t.mu.Lock()
	t.cache[key] = render
	t.mu.Unlock()
	return render, nil
}
