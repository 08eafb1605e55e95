package email_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-delivery/internal/dispatch"
	"github.com/example/notification-delivery/internal/env"
	"github.com/example/notification-delivery/internal/message"
	emailprovider "github.com/example/notification-delivery/internal/providers/email"
	"github.com/example/notification-delivery/internal/translator"
)

func smtpProperties() *env.MapResolver {
	return env.NewMapResolver(map[string]string{
		"mail.host":      "smtp.example.com",
		"mail.smtp.port": "2525",
		"mail.from":      "noreply@example.com",
	})
}

func TestSMTPSenderSupports(t *testing.T) {
	sender := emailprovider.NewSMTPSender(smtpProperties(), nil, zerolog.Nop())

	assert.True(t, sender.Supports(message.NewEmail("hi", message.StringContent{Text: "x"}, "a@example.com")))
	assert.False(t, sender.Supports(&message.Email{}))
	assert.False(t, sender.Supports(message.NewSms(message.StringContent{Text: "x"}, "+33600000000")))
}

func TestSMTPSenderMissingSettingsArePermanent(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]string
	}{
		{name: "missing host", props: map[string]string{"mail.port": "25"}},
		{name: "invalid port", props: map[string]string{"mail.host": "smtp.example.com", "mail.port": "smtp"}},
		{name: "out of range port", props: map[string]string{"mail.host": "smtp.example.com", "mail.port": "70000"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sender := emailprovider.NewSMTPSender(env.NewMapResolver(tc.props), nil, zerolog.Nop())
			err := sender.Send(context.Background(), message.NewEmail("hi", message.StringContent{Text: "x"}, "a@example.com"))
			require.ErrorIs(t, err, dispatch.ErrPermanent)
		})
	}
}

func TestSMTPSenderNormalizesMessage(t *testing.T) {
	server := newFakeSMTP(t)
	sender := emailprovider.NewSMTPSender(smtpProperties(), nil, zerolog.Nop(),
		emailprovider.WithSMTPTLSConfig(nil),
		emailprovider.WithSMTPDialer(server),
	)

	email := &message.Email{
		MessageID: "msg-1",
		To:        []string{"recipient@example.com", "recipient@example.com"},
		CC:        []string{"recipient@example.com"},
		BCC:       []string{"bcc@example.com"},
		Subject:   "Greetings",
		Content:   message.StringContent{Text: "Line 1\nLine 2\r\nLine 3", Variant: message.VariantHTML},
		Headers: map[string]string{
			"From": "spoof@example.com",
			"Cc":   "cc-header@example.com",
			"Bcc":  "bcc-header@example.com",
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sender.Send(ctx, email))
	server.wait()

	tr := server.transcript
	assert.Equal(t, "noreply@example.com", tr.mailFrom)
	assert.Equal(t, []string{"recipient@example.com", "bcc@example.com"}, tr.rcpts)
	assert.Contains(t, tr.data, "From: noreply@example.com")
	assert.NotContains(t, tr.data, "spoof@example.com")
	assert.NotContains(t, tr.data, "cc-header@example.com")
	assert.NotContains(t, tr.data, "bcc-header@example.com")
	assert.Contains(t, tr.data, "Content-Type: text/html; charset=UTF-8")
	assert.Contains(t, tr.data, "Line 1\r\nLine 2\r\nLine 3")
}

func TestSMTPSenderMultipartAlternative(t *testing.T) {
	server := newFakeSMTP(t)
	sender := emailprovider.NewSMTPSender(smtpProperties(), nil, zerolog.Nop(),
		emailprovider.WithSMTPTLSConfig(nil),
		emailprovider.WithSMTPDialer(server),
	)

	multi, err := message.NewMultiContent(
		message.StringContent{Text: "plain body", Variant: message.VariantText},
		message.StringContent{Text: "<p>html body</p>", Variant: message.VariantHTML},
	)
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), message.NewEmail("hi", multi, "a@example.com")))
	server.wait()

	data := server.transcript.data
	assert.Contains(t, data, "Content-Type: multipart/alternative; boundary=")
	assert.Less(t, strings.Index(data, "plain body"), strings.Index(data, "<p>html body</p>"))
}

func TestSMTPSenderClassifiesReplies(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{name: "mailbox unavailable", code: 550, want: dispatch.ErrPermanent},
		{name: "greylisted", code: 451, want: dispatch.ErrTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := newFakeSMTP(t)
			server.rcptReply = fmt.Sprintf("%d rejected", tc.code)
			sender := emailprovider.NewSMTPSender(smtpProperties(), nil, zerolog.Nop(),
				emailprovider.WithSMTPTLSConfig(nil),
				emailprovider.WithSMTPDialer(server),
			)

			err := sender.Send(context.Background(), message.NewEmail("hi", message.StringContent{Text: "x"}, "a@example.com"))
			server.wait()
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSMTPSenderPropagatesTranslationErrors(t *testing.T) {
	server := newFakeSMTP(t)
	failing := translator.Func(func(_ context.Context, c message.Content) (message.Content, error) {
		return nil, translator.Fatal(c, translator.ErrTemplateParse)
	})
	sender := emailprovider.NewSMTPSender(smtpProperties(), failing, zerolog.Nop(), emailprovider.WithSMTPDialer(server))

	err := sender.Send(context.Background(), message.NewEmail("hi", message.TemplateContent{Path: "x"}, "a@example.com"))
	require.ErrorIs(t, err, translator.ErrFatal)
	assert.False(t, server.dialed)
}

// fakeSMTP answers one SMTP conversation over a net.Pipe.
type fakeSMTP struct {
	t          *testing.T
	rcptReply  string
	transcript smtpTranscript
	dialed     bool
	wg         sync.WaitGroup
}

type smtpTranscript struct {
	mailFrom string
	rcpts    []string
	data     string
}

func newFakeSMTP(t *testing.T) *fakeSMTP {
	return &fakeSMTP{t: t, rcptReply: "250 OK"}
}

func (f *fakeSMTP) DialContext(context.Context, string, string) (net.Conn, error) {
	f.dialed = true
	server, client := net.Pipe()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer server.Close()
		if err := f.converse(server); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
			f.t.Errorf("fake smtp server: %v", err)
		}
	}()
	return client, nil
}

func (f *fakeSMTP) wait() { f.wg.Wait() }

func (f *fakeSMTP) converse(conn net.Conn) error {
	writer := bufio.NewWriter(conn)
	reader := bufio.NewReader(conn)

	writeLine := func(format string, args ...any) error {
		if _, err := fmt.Fprintf(writer, format+"\r\n", args...); err != nil {
			return err
		}
		return writer.Flush()
	}

	if err := writeLine("220 fake smtp ready"); err != nil {
		return err
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "EHLO ") || strings.HasPrefix(upper, "HELO "):
			if err := writeLine("250-fake"); err != nil {
				return err
			}
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		case strings.HasPrefix(upper, "MAIL FROM:"):
			f.transcript.mailFrom = extractSMTPAddress(line)
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		case strings.HasPrefix(upper, "RCPT TO:"):
			f.transcript.rcpts = append(f.transcript.rcpts, extractSMTPAddress(line))
			if err := writeLine(f.rcptReply); err != nil {
				return err
			}
		case upper == "DATA":
			if err := writeLine("354 Start mail input; end with <CRLF>.<CRLF>"); err != nil {
				return err
			}
			var data strings.Builder
			for {
				msgLine, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				if msgLine == ".\r\n" {
					break
				}
				data.WriteString(msgLine)
			}
			f.transcript.data = data.String()
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		case upper == "QUIT":
			return writeLine("221 Bye")
		default:
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		}
	}
}

func extractSMTPAddress(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start != -1 && end != -1 && end > start+1 {
		return strings.TrimSpace(line[start+1 : end])
	}
	if idx := strings.Index(line, ":"); idx != -1 && idx+1 < len(line) {
		return strings.TrimSpace(line[idx+1:])
	}
	return strings.TrimSpace(line)
}
