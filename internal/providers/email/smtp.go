package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/condition"
	"github.com/example/notification-delivery/internal/dispatch"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/translator"
)

// Property keys read by the SMTP sender. The first key found wins.
var (
	HostKeys     = []string{"mail.smtp.host", "mail.host"}
	PortKeys     = []string{"mail.smtp.port", "mail.port"}
	FromKeys     = []string{"mail.smtp.from", "mail.from"}
	UsernameKeys = []string{"mail.smtp.username", "mail.username"}
	PasswordKeys = []string{"mail.smtp.password", "mail.password"}
)

// SMTPOption configures the behaviour of the SMTP sender.
type SMTPOption func(*SMTPSender)

// WithSMTPTLSConfig overrides the TLS configuration used when negotiating
// STARTTLS. A nil config disables STARTTLS.
func WithSMTPTLSConfig(cfg *tls.Config) SMTPOption {
	return func(s *SMTPSender) {
		s.tlsConfig = cfg
		s.tlsSet = true
	}
}

// WithSMTPDialer swaps the network dialer used to establish SMTP connections.
func WithSMTPDialer(d Dialer) SMTPOption {
	return func(s *SMTPSender) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithSMTPClock replaces the clock used for the Date header.
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(s *SMTPSender) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSMTPHelloName customises the EHLO/HELO identity presented to the server.
func WithSMTPHelloName(name string) SMTPOption {
	return func(s *SMTPSender) {
		if strings.TrimSpace(name) != "" {
			s.helloName = strings.TrimSpace(name)
		}
	}
}

// Dialer abstracts net.Dialer to simplify testing.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPSender delivers emails through an SMTP server. Server settings are read
// from the property resolver on every send so configuration changes apply
// without rebuilding the sender.
type SMTPSender struct {
	logger     zerolog.Logger
	properties condition.PropertyResolver
	translator translator.Translator
	tlsConfig  *tls.Config
	tlsSet     bool
	dialer     Dialer
	now        func() time.Time
	helloName  string
}

type smtpSettings struct {
	host     string
	port     int
	from     string
	username string
	password string
}

// NewSMTPSender builds a sender resolving its settings through properties and
// materializing bodies with tr.
func NewSMTPSender(properties condition.PropertyResolver, tr translator.Translator, logger zerolog.Logger, opts ...SMTPOption) *SMTPSender {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	s := &SMTPSender{
		logger:     logger.With().Str("component", "smtp_sender").Logger(),
		properties: properties,
		translator: tr,
		dialer:     &net.Dialer{Timeout: 30 * time.Second},
		now:        time.Now,
		helloName:  "localhost",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Supports reports whether msg is an email with at least one recipient.
func (s *SMTPSender) Supports(msg message.Message) bool {
	_, ok := msg.(*message.Email)
	return ok && message.HasRecipients(msg)
}

// Send implements dispatch.Sender.
func (s *SMTPSender) Send(ctx context.Context, msg message.Message) error {
	email, ok := msg.(*message.Email)
	if !ok || email == nil {
		return dispatch.WrapPermanent(fmt.Errorf("smtp sender: expected *message.Email, got %T", msg))
	}

	settings, err := s.settings()
	if err != nil {
		return dispatch.WrapPermanent(err)
	}

	body, err := translator.Materialize(ctx, s.translator, email.Content)
	if err != nil {
		return err
	}

	from := strings.TrimSpace(email.From)
	if from == "" {
		from = settings.from
	}
	envelopeFrom, err := normalizeEnvelopeAddress(from)
	if err != nil {
		return dispatch.WrapPermanent(fmt.Errorf("smtp sender: invalid from address: %w", err))
	}

	recipients, err := normalizeEnvelopeList(uniqueAddresses(email.To, email.CC, email.BCC))
	if err != nil {
		return dispatch.WrapPermanent(fmt.Errorf("smtp sender: invalid recipient: %w", err))
	}
	if len(recipients) == 0 {
		return dispatch.WrapPermanent(errors.New("smtp sender: at least one recipient is required"))
	}

	raw, err := s.buildMessage(email, from, body)
	if err != nil {
		return dispatch.WrapPermanent(err)
	}

	if err := s.deliver(ctx, settings, envelopeFrom, recipients, raw); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
		code, text := classifySMTPError(err)
		s.logger.Info().
			Str("message_id", email.ID()).
			Int("smtp_code", code).
			Str("smtp_reply", text).
			Err(err).
			Msg("smtp delivery failed")
		if isPermanentCode(code) {
			return dispatch.WrapPermanent(err)
		}
		return dispatch.WrapTransient(err)
	}

	s.logger.Debug().
		Str("message_id", email.ID()).
		Int("recipients", len(recipients)).
		Msg("smtp message accepted")
	return nil
}

func (s *SMTPSender) settings() (smtpSettings, error) {
	var out smtpSettings
	out.host = lookup(s.properties, HostKeys)
	if out.host == "" {
		return out, errors.New("smtp sender: host is required")
	}
	rawPort := lookup(s.properties, PortKeys)
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 || port > 65535 {
		return out, fmt.Errorf("smtp sender: invalid port %q", rawPort)
	}
	out.port = port
	out.from = lookup(s.properties, FromKeys)
	out.username = lookup(s.properties, UsernameKeys)
	out.password = lookup(s.properties, PasswordKeys)
	return out, nil
}

func lookup(r condition.PropertyResolver, keys []string) string {
	if r == nil {
		return ""
	}
	for _, key := range keys {
		if v, ok := r.Resolve(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (s *SMTPSender) deliver(ctx context.Context, cfg smtpSettings, from string, recipients []string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp sender: dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	client, err := smtp.NewClient(conn, cfg.host)
	if err != nil {
		return fmt.Errorf("smtp sender: new client: %w", err)
	}
	defer client.Close()

	if err := client.Hello(s.helloName); err != nil {
		return fmt.Errorf("smtp sender: hello: %w", err)
	}

	if tlsCfg := s.sessionTLSConfig(cfg.host); tlsCfg != nil {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("smtp sender: starttls: %w", err)
			}
		}
	}

	if cfg.username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", cfg.username, cfg.password, cfg.host)); err != nil {
				return fmt.Errorf("smtp sender: auth: %w", err)
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp sender: mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp sender: rcpt to %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp sender: data: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("smtp sender: data write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp sender: data close: %w", err)
	}

	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("smtp sender: quit: %w", err)
	}
	return ctx.Err()
}

func (s *SMTPSender) buildMessage(email *message.Email, from string, body translator.Body) ([]byte, error) {
	headers := make(map[string]string, len(email.Headers)+8)
	for key, value := range email.Headers {
		canonical := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key))
		if canonical == "" || strings.TrimSpace(value) == "" {
			continue
		}
		headers[canonical] = sanitizeHeaderValue(value)
	}

	headers["From"] = from
	if len(email.To) > 0 {
		headers["To"] = strings.Join(email.To, ", ")
	}
	if len(email.CC) > 0 {
		headers["Cc"] = strings.Join(email.CC, ", ")
	} else {
		delete(headers, "Cc")
	}
	delete(headers, "Bcc")

	if _, ok := headers["Date"]; !ok {
		headers["Date"] = s.now().UTC().Format(time.RFC1123Z)
	}
	if email.Subject != "" {
		headers["Subject"] = sanitizeHeaderValue(email.Subject)
	}
	if id := email.ID(); id != "" {
		if _, exists := headers["Message-Id"]; !exists {
			headers["Message-Id"] = sanitizeHeaderValue(id)
		}
	}
	headers["Mime-Version"] = "1.0"

	var (
		content bytes.Buffer
		err     error
	)
	switch {
	case body.Text != "" && body.HTML != "":
		headers["Content-Type"], err = writeAlternative(&content, body)
		if err != nil {
			return nil, fmt.Errorf("smtp sender: build multipart body: %w", err)
		}
	case body.HTML != "":
		headers["Content-Type"] = "text/html; charset=UTF-8"
		content.WriteString(normalizeBody(body.HTML))
	default:
		headers["Content-Type"] = "text/plain; charset=UTF-8"
		content.WriteString(normalizeBody(body.Text))
	}

	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, key := range keys {
		value := headers[key]
		if value == "" {
			continue
		}
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(content.Bytes())
	return buf.Bytes(), nil
}

// writeAlternative renders a multipart/alternative body, text part first.
func writeAlternative(w io.Writer, body translator.Body) (string, error) {
	mw := multipart.NewWriter(w)
	parts := []struct {
		contentType string
		text        string
	}{
		{"text/plain; charset=UTF-8", body.Text},
		{"text/html; charset=UTF-8", body.HTML},
	}
	for _, p := range parts {
		part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return "", err
		}
		if _, err := io.WriteString(part, normalizeBody(p.text)); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return "multipart/alternative; boundary=" + mw.Boundary(), nil
}

func (s *SMTPSender) sessionTLSConfig(host string) *tls.Config {
	if s.tlsSet && s.tlsConfig == nil {
		return nil
	}
	if s.tlsConfig == nil {
		return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	cfg := s.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

func normalizeBody(body string) string {
	if body == "" {
		return ""
	}
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}

func sanitizeHeaderValue(value string) string {
	clean := strings.ReplaceAll(value, "\r", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	return strings.TrimSpace(clean)
}

func uniqueAddresses(list ...[]string) []string {
	result := make([]string, 0)
	seen := make(map[string]struct{})
	for _, group := range list {
		for _, raw := range group {
			addr := strings.TrimSpace(raw)
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			result = append(result, addr)
		}
	}
	return result
}

func normalizeEnvelopeList(addresses []string) ([]string, error) {
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		parsed, err := normalizeEnvelopeAddress(addr)
		if err != nil {
			return nil, err
		}
		result = append(result, parsed)
	}
	return result, nil
}

func normalizeEnvelopeAddress(value string) (string, error) {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return "", err
	}
	if addr.Address == "" {
		return "", errors.New("empty address")
	}
	return addr.Address, nil
}

func classifySMTPError(err error) (int, string) {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code, strings.TrimSpace(tpErr.Msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return 0, "smtp: timeout"
	}
	return 0, ""
}

// isPermanentCode reports 5xx replies, which the server will not accept on
// a later attempt either.
func isPermanentCode(code int) bool {
	return code >= 500 && code < 600
}
