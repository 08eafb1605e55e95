package translator

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/notification-delivery/internal/message"
)

// Body is the final text of a message, with an optional html alternative.
type Body struct {
	Text string
	HTML string
}

// IsEmpty reports whether neither part is set.
func (b Body) IsEmpty() bool { return b.Text == "" && b.HTML == "" }

// Materialize translates content with tr and flattens the result into a
// Body. The first candidate of each variant wins. A nil tr only accepts
// already literal content.
func Materialize(ctx context.Context, tr Translator, content message.Content) (Body, error) {
	if content == nil {
		return Body{}, &NoContentError{Causes: []error{errors.New("message has no content")}}
	}
	translated := content
	if tr != nil {
		out, err := tr.Translate(ctx, content)
		if err != nil {
			return Body{}, err
		}
		translated = out
	}

	var body Body
	if err := collect(translated, &body); err != nil {
		return Body{}, err
	}
	if body.IsEmpty() {
		return Body{}, &NoContentError{Causes: []error{fmt.Errorf("%s produced an empty body", describe(content))}}
	}
	return body, nil
}

func collect(content message.Content, body *Body) error {
	switch c := content.(type) {
	case message.StringContent:
		if c.Variant == message.VariantHTML {
			if body.HTML == "" {
				body.HTML = c.Text
			}
		} else if body.Text == "" {
			body.Text = c.Text
		}
	case *message.MultiContent:
		for _, candidate := range c.Contents() {
			if err := collect(candidate, body); err != nil {
				return err
			}
		}
	case message.TemplateContent, *message.TemplateContent:
		return Fatal(content, errors.New("template content was not translated"))
	case nil:
	default:
		if body.Text == "" {
			body.Text = c.String()
		}
	}
	return nil
}
