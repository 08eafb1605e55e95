package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/example/notification-delivery/internal/message"
)

// Body types accepted on the wire.
const (
	BodyTypeText = "text"
	BodyTypeHTML = "html"
)

// ErrEmptyBody is returned when a request carries no content candidate.
var ErrEmptyBody = errors.New("body has no content")

// BaseRequest captures attributes that are shared across all message
// requests regardless of the channel.
type BaseRequest struct {
	MessageID string            `json:"message_id"`
	Channel   string            `json:"channel"`
	TraceID   string            `json:"trace_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// TemplateRef points at a template rendered once per variant.
type TemplateRef struct {
	Path     string         `json:"path"`
	Variants []string       `json:"variants,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// MessageBody lists the content candidates of a request. The template, when
// present, is tried first; literal text and html act as fallbacks.
type MessageBody struct {
	Template *TemplateRef `json:"template,omitempty"`
	HTML     string       `json:"html,omitempty"`
	Text     string       `json:"text,omitempty"`
}

// Size returns the number of literal body bytes.
func (b MessageBody) Size() int {
	return len(b.HTML) + len(b.Text)
}

// Content converts the body into a message content. A single candidate is
// returned as-is, several are wrapped in a MultiContent.
func (b MessageBody) Content() (message.Content, error) {
	var candidates []message.Content
	if b.Template != nil && strings.TrimSpace(b.Template.Path) != "" {
		variants := make([]message.Variant, 0, len(b.Template.Variants))
		for _, v := range b.Template.Variants {
			variants = append(variants, message.Variant(strings.ToLower(strings.TrimSpace(v))))
		}
		candidates = append(candidates, message.MultiTemplateContent(strings.TrimSpace(b.Template.Path), b.Template.Data, variants...).Contents()...)
	}
	if b.HTML != "" {
		candidates = append(candidates, message.StringContent{Text: b.HTML, Variant: message.VariantHTML})
	}
	if b.Text != "" {
		candidates = append(candidates, message.StringContent{Text: b.Text, Variant: message.VariantText})
	}
	switch len(candidates) {
	case 0:
		return nil, ErrEmptyBody
	case 1:
		return candidates[0], nil
	}
	return message.NewMultiContent(candidates...)
}

// EmailRequest models the payload expected for email messages.
type EmailRequest struct {
	BaseRequest
	From    string            `json:"from,omitempty"`
	To      []string          `json:"to"`
	CC      []string          `json:"cc,omitempty"`
	BCC     []string          `json:"bcc,omitempty"`
	Subject string            `json:"subject"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    MessageBody       `json:"body"`
}

// Message converts the request into an outbound email.
func (r *EmailRequest) Message() (*message.Email, error) {
	content, err := r.Body.Content()
	if err != nil {
		return nil, err
	}
	return &message.Email{
		MessageID: r.MessageID,
		From:      r.From,
		To:        append([]string(nil), r.To...),
		CC:        append([]string(nil), r.CC...),
		BCC:       append([]string(nil), r.BCC...),
		Subject:   r.Subject,
		Content:   content,
		Headers:   r.Headers,
	}, nil
}

// SMSRequest models the payload expected for SMS messages.
type SMSRequest struct {
	BaseRequest
	From string      `json:"from,omitempty"`
	To   []string    `json:"to"`
	Body MessageBody `json:"body"`
}

// Message converts the request into an outbound sms.
func (r *SMSRequest) Message() (*message.Sms, error) {
	content, err := r.Body.Content()
	if err != nil {
		return nil, err
	}
	return &message.Sms{
		MessageID: r.MessageID,
		From:      r.From,
		To:        append([]string(nil), r.To...),
		Content:   content,
	}, nil
}

type traceKey struct{}

// ContextWithTraceID attaches the trace identifier of a request to ctx so
// that status events can carry it.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceIDFrom returns the trace identifier stored in ctx, if any.
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
