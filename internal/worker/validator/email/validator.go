package emailvalidator

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

// Validator implements worker.Validator for the email channel. It parses JSON
// payloads, enforces validation rules and returns a populated ValidatedMessage.
type Validator struct {
	logger zerolog.Logger
	cfg    config.ValidationConfig
}

// New constructs a Validator using the supplied validation configuration.
func New(cfg config.ValidationConfig, logger zerolog.Logger) *Validator {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Validator{
		logger: logger.With().Str("component", "email_validator").Logger(),
		cfg:    cfg,
	}
}

// ParseAndValidate implements worker.Validator. On a validation error the
// returned message still carries the identifiers that could be decoded.
func (v *Validator) ParseAndValidate(ctx context.Context, payload []byte) (*worker.ValidatedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, errors.New("email validator: payload is empty")
	}

	var req models.EmailRequest
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("email validator: decode: %w", err)
	}

	validated := &worker.ValidatedMessage{
		Channel:   message.ChannelEmail,
		MessageID: strings.TrimSpace(req.MessageID),
		TraceID:   strings.TrimSpace(req.TraceID),
		CreatedAt: req.CreatedAt.UTC(),
		Meta:      req.Meta,
	}

	if err := v.applyDefaultsAndValidate(&req); err != nil {
		v.logger.Debug().Str("message_id", validated.MessageID).Err(err).Msg("email request rejected")
		return validated, err
	}

	email, err := req.Message()
	if err != nil {
		return validated, fmt.Errorf("email validator: body: %w", err)
	}
	validated.Meta = req.Meta
	validated.Message = email
	return validated, nil
}

func (v *Validator) applyDefaultsAndValidate(req *models.EmailRequest) error {
	if !validator.ChannelMatches(req.Channel, message.ChannelEmail) {
		return fmt.Errorf("email validator: channel mismatch: expected %s, got %s", message.ChannelEmail, req.Channel)
	}
	req.Channel = string(message.ChannelEmail)

	if _, err := util.ParseUUIDv4(req.MessageID); err != nil {
		return fmt.Errorf("email validator: message_id: %w", err)
	}
	req.MessageID = strings.TrimSpace(req.MessageID)
	req.TraceID = strings.TrimSpace(req.TraceID)

	if req.CreatedAt.IsZero() {
		return errors.New("email validator: created_at is required")
	}
	req.CreatedAt = req.CreatedAt.UTC()

	var err error
	if strings.TrimSpace(req.From) != "" {
		if req.From, err = util.NormalizeEmail(req.From); err != nil {
			return fmt.Errorf("email validator: from: %w", err)
		}
	}
	if req.To, err = util.NormalizeEmails(req.To, 1, v.cfg.RecipientsMax); err != nil {
		return fmt.Errorf("email validator: to: %w", err)
	}
	if req.CC, err = util.NormalizeEmails(req.CC, 0, v.cfg.RecipientsMax); err != nil {
		return fmt.Errorf("email validator: cc: %w", err)
	}
	if req.BCC, err = util.NormalizeEmails(req.BCC, 0, v.cfg.RecipientsMax); err != nil {
		return fmt.Errorf("email validator: bcc: %w", err)
	}

	if err := util.EnsureMaxRunes("subject", req.Subject, v.cfg.SubjectMaxLen); err != nil {
		return fmt.Errorf("email validator: %w", err)
	}
	if err := validator.CheckBody(&req.Body, v.cfg.BodyMaxBytes); err != nil {
		return fmt.Errorf("email validator: body: %w", err)
	}

	meta, err := util.ValidateMetadata(req.Meta, v.cfg.MetaMaxEntries, v.cfg.MetaMaxKeyLen, v.cfg.MetaMaxValueLen)
	if err != nil {
		return fmt.Errorf("email validator: metadata: %w", err)
	}
	req.Meta = meta

	return nil
}
