package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/condition"
	"github.com/example/notification-delivery/internal/dispatch"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/translator"
	"github.com/example/notification-delivery/internal/util"
)

// Property keys read by the Twilio sender.
const (
	AccountSIDKey = "twilio.account-sid"
	AuthTokenKey  = "twilio.auth-token"
	FromKey       = "twilio.from"
	BaseURLKey    = "twilio.base-url"

	defaultBaseURL = "https://api.twilio.com/2010-04-01"
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TwilioOption customises the behaviour of the Twilio sender.
type TwilioOption func(*TwilioSender)

// WithTwilioHTTPClient overrides the HTTP client used to talk to Twilio.
func WithTwilioHTTPClient(client HTTPClient) TwilioOption {
	return func(s *TwilioSender) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithTwilioBodyLimit adjusts how many bytes are retained from the HTTP response body.
func WithTwilioBodyLimit(limit int64) TwilioOption {
	return func(s *TwilioSender) {
		if limit > 0 {
			s.maxBodyBytes = limit
		}
	}
}

// TwilioSender sends SMS through the Twilio Messages API. Credentials are
// resolved from properties on every send.
type TwilioSender struct {
	logger       zerolog.Logger
	properties   condition.PropertyResolver
	translator   translator.Translator
	httpClient   HTTPClient
	maxBodyBytes int64
}

// NewTwilioSender constructs a Twilio-backed SMS sender.
func NewTwilioSender(properties condition.PropertyResolver, tr translator.Translator, logger zerolog.Logger, opts ...TwilioOption) *TwilioSender {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	s := &TwilioSender{
		logger:       logger.With().Str("component", "twilio_sender").Logger(),
		properties:   properties,
		translator:   tr,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		maxBodyBytes: 16 * 1024,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Supports accepts SMS with at least one recipient.
func (s *TwilioSender) Supports(msg message.Message) bool {
	_, ok := msg.(*message.Sms)
	return ok && message.HasRecipients(msg)
}

type twilioSettings struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
}

// Send implements dispatch.Sender. Recipients are sent one request each;
// the first failure stops the loop.
func (s *TwilioSender) Send(ctx context.Context, msg message.Message) error {
	sms, ok := msg.(*message.Sms)
	if !ok || sms == nil {
		return dispatch.WrapPermanent(fmt.Errorf("twilio sender: expected *message.Sms, got %T", msg))
	}

	settings, err := s.settings()
	if err != nil {
		return dispatch.WrapPermanent(err)
	}

	body, err := translator.Materialize(ctx, s.translator, sms.Content)
	if err != nil {
		return err
	}
	text := body.Text
	if text == "" {
		text = body.HTML
	}

	from := strings.TrimSpace(sms.From)
	if from == "" {
		from = settings.from
	}
	if from == "" {
		return dispatch.WrapPermanent(errors.New("twilio sender: from number is required"))
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", settings.baseURL, url.PathEscape(settings.accountSID))
	for _, recipient := range sms.To {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		sid, err := s.sendSingle(ctx, settings, endpoint, from, recipient, text)
		if err != nil {
			s.logger.Info().
				Str("message_id", sms.ID()).
				Str("recipient", recipient).
				Err(err).
				Msg("twilio delivery failed")
			return err
		}
		s.logger.Debug().
			Str("message_id", sms.ID()).
			Str("provider_id", sid).
			Msg("twilio message accepted")
	}
	return nil
}

func (s *TwilioSender) settings() (twilioSettings, error) {
	get := func(key string) string {
		if s.properties == nil {
			return ""
		}
		v, _ := s.properties.Resolve(key)
		return strings.TrimSpace(v)
	}
	out := twilioSettings{
		accountSID: get(AccountSIDKey),
		authToken:  get(AuthTokenKey),
		from:       get(FromKey),
		baseURL:    strings.TrimRight(get(BaseURLKey), "/"),
	}
	if out.accountSID == "" {
		return out, errors.New("twilio sender: account SID is required")
	}
	if out.authToken == "" {
		return out, errors.New("twilio sender: auth token is required")
	}
	if out.baseURL == "" {
		out.baseURL = defaultBaseURL
	} else if _, err := util.ValidateHTTPURL(out.baseURL); err != nil {
		return out, fmt.Errorf("twilio sender: %s: %w", BaseURLKey, err)
	}
	return out, nil
}

func (s *TwilioSender) sendSingle(ctx context.Context, cfg twilioSettings, endpoint, from, to, text string) (string, error) {
	params := url.Values{}
	params.Set("To", to)
	params.Set("From", from)
	params.Set("Body", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return "", dispatch.WrapPermanent(fmt.Errorf("twilio sender: new request: %w", err))
	}
	req.SetBasicAuth(cfg.accountSID, cfg.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", dispatch.WrapTransient(fmt.Errorf("twilio sender: http do: %w", err))
	}
	defer resp.Body.Close()

	raw, err := s.readBody(resp.Body)
	if err != nil {
		return "", dispatch.WrapTransient(err)
	}
	parsed := parseTwilioBody(raw)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return parsed.SID, nil
	}

	reason := parsed.Message
	if reason == "" {
		reason = strings.TrimSpace(raw)
	}
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	var failure error
	if parsed.ErrorCode > 0 {
		failure = fmt.Errorf("twilio sender: http %d: error %d: %s", resp.StatusCode, parsed.ErrorCode, reason)
	} else {
		failure = fmt.Errorf("twilio sender: http %d: %s", resp.StatusCode, reason)
	}
	if isRetryableStatus(resp.StatusCode) {
		return "", dispatch.WrapTransient(failure)
	}
	return "", dispatch.WrapPermanent(failure)
}

// isRetryableStatus reports throttling and server side failures.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func (s *TwilioSender) readBody(rc io.ReadCloser) (string, error) {
	if rc == nil {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(rc, s.maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("twilio sender: read body: %w", err)
	}
	return string(data), nil
}

type twilioBody struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode int    `json:"code"`
	Message   string `json:"message"`
}

func parseTwilioBody(body string) twilioBody {
	if strings.TrimSpace(body) == "" {
		return twilioBody{}
	}

	var parsed twilioBody
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		return parsed
	}

	var generic map[string]any
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		return twilioBody{}
	}

	result := twilioBody{}
	if v, ok := generic["sid"].(string); ok {
		result.SID = v
	}
	if v, ok := generic["status"].(string); ok {
		result.Status = v
	}
	switch value := generic["code"].(type) {
	case float64:
		result.ErrorCode = int(value)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			result.ErrorCode = n
		}
	}
	if v, ok := generic["message"].(string); ok {
		result.Message = v
	}
	return result
}
