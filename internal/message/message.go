package message

import (
	"strings"

	"github.com/google/uuid"
)

// Channel identifies the delivery channel a message belongs to.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is the unit handed to senders. The delivery core only inspects its
// observable shape (channel, recipients, content) and never its identity.
type Message interface {
	ID() string
	Channel() Channel
}

// Email is an outbound email. Content is usually a MultiContent carrying a
// text and an html candidate.
type Email struct {
	MessageID string
	From      string
	To        []string
	CC        []string
	BCC       []string
	Subject   string
	Content   Content
	Headers   map[string]string
}

// NewEmail constructs an email and assigns a random identifier.
func NewEmail(subject string, content Content, to ...string) *Email {
	return &Email{
		MessageID: uuid.NewString(),
		To:        append([]string(nil), to...),
		Subject:   subject,
		Content:   content,
	}
}

// ID implements Message.
func (e *Email) ID() string {
	if e == nil {
		return ""
	}
	return e.MessageID
}

// Channel implements Message.
func (e *Email) Channel() Channel { return ChannelEmail }

// Recipients returns To, CC and BCC addresses in that order.
func (e *Email) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.CC)+len(e.BCC))
	out = append(out, e.To...)
	out = append(out, e.CC...)
	return append(out, e.BCC...)
}

// Sms is an outbound short message.
type Sms struct {
	MessageID string
	From      string
	To        []string
	Content   Content
}

// NewSms constructs an SMS and assigns a random identifier.
func NewSms(content Content, to ...string) *Sms {
	return &Sms{
		MessageID: uuid.NewString(),
		To:        append([]string(nil), to...),
		Content:   content,
	}
}

// ID implements Message.
func (s *Sms) ID() string {
	if s == nil {
		return ""
	}
	return s.MessageID
}

// Channel implements Message.
func (s *Sms) Channel() Channel { return ChannelSMS }

// HasSubject reports whether the message carries a non blank subject.
func HasSubject(msg Message) bool {
	email, ok := msg.(*Email)
	return ok && email != nil && strings.TrimSpace(email.Subject) != ""
}

// HasRecipients reports whether the message has at least one recipient.
func HasRecipients(msg Message) bool {
	switch m := msg.(type) {
	case *Email:
		return m != nil && len(m.Recipients()) > 0
	case *Sms:
		return m != nil && len(m.To) > 0
	default:
		return false
	}
}

// ContentOf returns the content attached to the message, nil when absent.
func ContentOf(msg Message) Content {
	switch m := msg.(type) {
	case *Email:
		if m != nil {
			return m.Content
		}
	case *Sms:
		if m != nil {
			return m.Content
		}
	}
	return nil
}

// HasContent reports whether the message carries content.
func HasContent(msg Message) bool {
	return ContentOf(msg) != nil
}
