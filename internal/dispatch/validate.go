package dispatch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrEmptyBody        = errors.New("message body is empty")
	ErrNoRecipients     = errors.New("recipient list is empty")
	ErrInvalidRecipient = errors.New("invalid recipient number")
	ErrNotSendable      = errors.New("whatsapp is not connected")
)

// International-style number: optional leading +, 10 to 15 digits.
var recipientRe = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

// ValidateRecipient checks the address-format rule. Surrounding whitespace
// is insignificant.
func ValidateRecipient(raw string) error {
	if !recipientRe.MatchString(strings.TrimSpace(raw)) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, raw)
	}
	return nil
}

// normalizeRecipient converts a validated number into the digits-only form
// the transport expects.
func normalizeRecipient(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "+")
}
