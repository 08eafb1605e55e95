package translator

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/message"
)

// ErrNoContent matches every *NoContentError.
var ErrNoContent = errors.New("translator: no content")

// ErrEmptyResult records a candidate whose translation produced nothing.
var ErrEmptyResult = errors.New("translator: candidate produced no content")

// NoContentError is returned when every candidate failed recoverably. Causes
// keep the candidate order.
type NoContentError struct {
	Causes []error
}

func (e *NoContentError) Error() string {
	if len(e.Causes) == 0 {
		return "translator: no content could be produced: the message is empty"
	}
	var b strings.Builder
	b.WriteString("translator: no content could be produced:")
	for _, cause := range e.Causes {
		b.WriteString("\n")
		b.WriteString(cause.Error())
	}
	return b.String()
}

func (e *NoContentError) Is(target error) bool { return target == ErrNoContent }

func (e *NoContentError) Unwrap() []error { return e.Causes }

// MultiContentTranslator applies an inner translator to each candidate of a
// MultiContent and keeps those that translate. Other contents go straight to
// the inner translator.
type MultiContentTranslator struct {
	inner  Translator
	onSkip func(error)
	logger zerolog.Logger
}

// MultiOption customises a MultiContentTranslator.
type MultiOption func(*MultiContentTranslator)

// WithSkipHook is called with every recoverable failure that was skipped.
func WithSkipHook(fn func(error)) MultiOption {
	return func(t *MultiContentTranslator) { t.onSkip = fn }
}

// NewMultiContentTranslator wraps inner.
func NewMultiContentTranslator(inner Translator, logger zerolog.Logger, opts ...MultiOption) *MultiContentTranslator {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	t := &MultiContentTranslator{
		inner:  inner,
		logger: logger.With().Str("component", "translator").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate implements Translator.
func (t *MultiContentTranslator) Translate(ctx context.Context, content message.Content) (message.Content, error) {
	multi, ok := content.(*message.MultiContent)
	if !ok {
		return t.inner.Translate(ctx, content)
	}

	var (
		results []message.Content
		causes  []error
	)
	for _, candidate := range multi.Contents() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := t.inner.Translate(ctx, candidate)
		if err != nil {
			if !IsRecoverable(err) {
				return nil, err
			}
			t.logger.Debug().Str("content", describe(candidate)).Err(err).Msg("skipping candidate")
			causes = append(causes, err)
			if t.onSkip != nil {
				t.onSkip(err)
			}
			continue
		}
		if out == nil {
			cause := Recoverable(candidate, ErrEmptyResult)
			t.logger.Debug().Str("content", describe(candidate)).Msg("candidate translated to nothing")
			causes = append(causes, cause)
			if t.onSkip != nil {
				t.onSkip(cause)
			}
			continue
		}
		results = append(results, out)
	}

	if len(results) == 0 {
		return nil, &NoContentError{Causes: causes}
	}
	return message.NewMultiContent(results...)
}
