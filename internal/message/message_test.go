package message_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-delivery/internal/message"
)

func TestNewEmailAssignsID(t *testing.T) {
	email := message.NewEmail("hello", message.StringContent{Text: "body"}, "a@example.com")

	_, err := uuid.Parse(email.ID())
	require.NoError(t, err)
	assert.Equal(t, message.ChannelEmail, email.Channel())
	assert.True(t, message.HasSubject(email))
	assert.True(t, message.HasRecipients(email))
	assert.True(t, message.HasContent(email))
}

func TestShapeHelpers(t *testing.T) {
	sms := &message.Sms{}
	assert.False(t, message.HasSubject(sms))
	assert.False(t, message.HasRecipients(sms))
	assert.False(t, message.HasContent(sms))

	email := &message.Email{Subject: "  ", BCC: []string{"hidden@example.com"}}
	assert.False(t, message.HasSubject(email))
	assert.True(t, message.HasRecipients(email))
	assert.Equal(t, []string{"hidden@example.com"}, email.Recipients())
}

func TestNewMultiContent(t *testing.T) {
	_, err := message.NewMultiContent()
	require.ErrorIs(t, err, message.ErrEmptyMultiContent)

	_, err = message.NewMultiContent(nil, nil)
	require.ErrorIs(t, err, message.ErrEmptyMultiContent)

	mc, err := message.NewMultiContent(message.StringContent{Text: "a"}, nil, message.StringContent{Text: "b"})
	require.NoError(t, err)
	require.Equal(t, 2, mc.Len())
	assert.Equal(t, "multi[a, b]", mc.String())
}

func TestMultiTemplateContentDefaultsToTextThenHTML(t *testing.T) {
	mc := message.MultiTemplateContent("welcome", map[string]string{"name": "x"})

	contents := mc.Contents()
	require.Len(t, contents, 2)
	assert.Equal(t, message.VariantText, contents[0].(message.TemplateContent).Variant)
	assert.Equal(t, message.VariantHTML, contents[1].(message.TemplateContent).Variant)
	assert.Equal(t, "template:welcome[html]", contents[1].String())
}
