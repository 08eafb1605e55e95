package smsvalidator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/notification-delivery/internal/config"
	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/models"
	"github.com/example/notification-delivery/internal/util"
	"github.com/example/notification-delivery/internal/worker"
	"github.com/example/notification-delivery/internal/worker/validator"
)

// Validator implements worker.Validator for SMS payloads.
type Validator struct {
	logger zerolog.Logger
	cfg    config.ValidationConfig
}

// New constructs a Validator.
func New(cfg config.ValidationConfig, logger zerolog.Logger) *Validator {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Validator{logger: logger.With().Str("component", "sms_validator").Logger(), cfg: cfg}
}

// ParseAndValidate parses the payload and returns a validated message.
func (v *Validator) ParseAndValidate(ctx context.Context, payload []byte) (*worker.ValidatedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, errors.New("sms validator: payload is empty")
	}

	var req models.SMSRequest
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("sms validator: decode: %w", err)
	}

	validated := &worker.ValidatedMessage{
		Channel:   message.ChannelSMS,
		MessageID: strings.TrimSpace(req.MessageID),
		TraceID:   strings.TrimSpace(req.TraceID),
		CreatedAt: req.CreatedAt.UTC(),
		Meta:      req.Meta,
	}

	if err := v.validate(&req); err != nil {
		v.logger.Debug().Str("message_id", validated.MessageID).Err(err).Msg("sms request rejected")
		return validated, err
	}

	sms, err := req.Message()
	if err != nil {
		return validated, fmt.Errorf("sms validator: body: %w", err)
	}
	validated.Meta = req.Meta
	validated.Message = sms
	return validated, nil
}

func (v *Validator) validate(req *models.SMSRequest) error {
	if !validator.ChannelMatches(req.Channel, message.ChannelSMS) {
		return fmt.Errorf("sms validator: channel mismatch: expected %s, got %s", message.ChannelSMS, req.Channel)
	}
	req.Channel = string(message.ChannelSMS)

	if _, err := util.ParseUUIDv4(req.MessageID); err != nil {
		return fmt.Errorf("sms validator: message_id: %w", err)
	}
	req.MessageID = strings.TrimSpace(req.MessageID)

	if req.CreatedAt.IsZero() {
		return errors.New("sms validator: created_at is required")
	}

	var err error
	if strings.TrimSpace(req.From) != "" {
		if req.From, err = util.NormalizeE164(req.From); err != nil {
			return fmt.Errorf("sms validator: from: %w", err)
		}
	}
	if req.To, err = util.NormalizeE164List(req.To, 1, v.cfg.SMSRecipientsMax); err != nil {
		return fmt.Errorf("sms validator: to: %w", err)
	}

	if err := validator.CheckBody(&req.Body, 0); err != nil {
		return fmt.Errorf("sms validator: body: %w", err)
	}
	if err := util.EnsureMaxRunes("text", req.Body.Text, v.cfg.SMSBodyMax); err != nil {
		return fmt.Errorf("sms validator: body: %w", err)
	}

	meta, err := util.ValidateMetadata(req.Meta, v.cfg.MetaMaxEntries, v.cfg.MetaMaxKeyLen, v.cfg.MetaMaxValueLen)
	if err != nil {
		return fmt.Errorf("sms validator: metadata: %w", err)
	}
	req.Meta = meta
	return nil
}
