package smsvalidator_test

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-delivery/internal/config"
	"github.com/example/notification-delivery/internal/message"
	smsvalidator "github.com/example/notification-delivery/internal/worker/validator/sms"
)

var limits = config.ValidationConfig{SMSRecipientsMax: 2, SMSBodyMax: 20}

func payload(to, from, text string) string {
	return `{"message_id":"b0c9c2b0-1f3a-4d2d-9e3f-123456789abc","created_at":"2025-10-11T10:00:00Z",` +
		`"to":[` + to + `],"from":"` + from + `","body":{"text":"` + text + `"}}`
}

func TestParseAndValidateBuildsSms(t *testing.T) {
	v := smsvalidator.New(limits, zerolog.Nop())

	validated, err := v.ParseAndValidate(context.Background(), []byte(payload(`" +14155552671 "`, "+15005550006", "Your code is 1234")))
	require.NoError(t, err)

	sms, ok := validated.Message.(*message.Sms)
	require.True(t, ok)
	assert.Equal(t, []string{"+14155552671"}, sms.To)
	assert.Equal(t, "+15005550006", sms.From)
	assert.Equal(t, message.StringContent{Text: "Your code is 1234", Variant: message.VariantText}, sms.Content)
	assert.Equal(t, message.ChannelSMS, validated.Channel)
}

func TestParseAndValidateRejectsSms(t *testing.T) {
	v := smsvalidator.New(limits, zerolog.Nop())

	cases := map[string]struct {
		payload string
		want    string
	}{
		"bad recipient": {payload(`"4155552671"`, "", "hi"), "invalid e164"},
		"too many":      {payload(`"+14155552671","+14155552672","+14155552673"`, "", "hi"), "at most 2"},
		"bad from":      {payload(`"+14155552671"`, "sender", "hi"), "from"},
		"long text":     {payload(`"+14155552671"`, "", strings.Repeat("x", 21)), "exceeds maximum length"},
		"empty body":    {payload(`"+14155552671"`, "", ""), "body has no content"},
		"wrong channel": {`{"channel":"email"}`, "channel mismatch"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.ParseAndValidate(context.Background(), []byte(tc.payload))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
