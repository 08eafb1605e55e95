// Package validator holds the checks shared by the channel validators.
package validator

import (
	"fmt"
	"strings"

	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/models"
	"github.com/example/notification-delivery/internal/util"
)

// CheckBody validates the content candidates of a request. maxBytes bounds
// the literal text and html together; zero disables the limit.
func CheckBody(body *models.MessageBody, maxBytes int) error {
	if body.Template == nil && body.Text == "" && body.HTML == "" {
		return models.ErrEmptyBody
	}
	if body.Template != nil {
		path, err := util.ValidateTemplatePath(body.Template.Path)
		if err != nil {
			return fmt.Errorf("template: %w", err)
		}
		body.Template.Path = path
		for idx, raw := range body.Template.Variants {
			variant := message.Variant(strings.ToLower(strings.TrimSpace(raw)))
			if variant != message.VariantText && variant != message.VariantHTML {
				return fmt.Errorf("template: variant[%d]: unsupported variant %q", idx, raw)
			}
			body.Template.Variants[idx] = string(variant)
		}
	}
	if maxBytes > 0 && body.Size() > maxBytes {
		return fmt.Errorf("body exceeds maximum size of %d bytes", maxBytes)
	}
	return nil
}

// ChannelMatches reports whether the channel declared in a request is empty
// or equal to want, ignoring case.
func ChannelMatches(declared string, want message.Channel) bool {
	declared = strings.TrimSpace(declared)
	return declared == "" || strings.EqualFold(declared, string(want))
}
