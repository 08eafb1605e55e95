// Package translator turns candidate message contents into final bodies.
//
// Translation failures are tagged: a recoverable failure only disqualifies
// one candidate of a MultiContent, a fatal one aborts the translation.
package translator

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/notification-delivery/internal/message"
)

// Translator produces a new Content from the given one.
type Translator interface {
	Translate(ctx context.Context, content message.Content) (message.Content, error)
}

// Func adapts a function to Translator.
type Func func(ctx context.Context, content message.Content) (message.Content, error)

// Translate implements Translator.
func (f Func) Translate(ctx context.Context, content message.Content) (message.Content, error) {
	return f(ctx, content)
}

// Kind classifies a TranslationError.
type Kind int

const (
	// KindRecoverable failures skip a single candidate.
	KindRecoverable Kind = iota
	// KindFatal failures abort the whole translation.
	KindFatal
)

func (k Kind) String() string {
	if k == KindRecoverable {
		return "recoverable"
	}
	return "fatal"
}

var (
	ErrRecoverable = errors.New("translator: recoverable")
	ErrFatal       = errors.New("translator: fatal")

	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateParse    = errors.New("template parse error")
)

// TranslationError reports why a content could not be translated.
type TranslationError struct {
	Kind    Kind
	Content message.Content
	Err     error
}

// Recoverable tags err as a recoverable failure for content.
func Recoverable(content message.Content, err error) *TranslationError {
	return &TranslationError{Kind: KindRecoverable, Content: content, Err: err}
}

// Fatal tags err as a fatal failure for content.
func Fatal(content message.Content, err error) *TranslationError {
	return &TranslationError{Kind: KindFatal, Content: content, Err: err}
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("failed to translate %s: %v", describe(e.Content), e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// Is matches ErrRecoverable or ErrFatal according to Kind.
func (e *TranslationError) Is(target error) bool {
	switch target {
	case ErrRecoverable:
		return e.Kind == KindRecoverable
	case ErrFatal:
		return e.Kind == KindFatal
	}
	return false
}

// IsRecoverable reports whether err carries a recoverable TranslationError.
func IsRecoverable(err error) bool {
	var te *TranslationError
	return errors.As(err, &te) && te.Kind == KindRecoverable
}

// Every runs translators in sequence, each receiving the previous output.
// The first error stops the chain.
type Every []Translator

// Translate implements Translator.
func (e Every) Translate(ctx context.Context, content message.Content) (message.Content, error) {
	current := content
	for _, tr := range e {
		if tr == nil {
			continue
		}
		out, err := tr.Translate(ctx, current)
		if err != nil {
			return nil, err
		}
		current = out
	}
	return current, nil
}

func describe(c message.Content) string {
	if c == nil {
		return "<nil>"
	}
	return c.String()
}
