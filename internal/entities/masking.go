package entities

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Masking strategies. Masking is a projection-time transform: the stored
// value never changes, only what an unprivileged reader sees.
const (
	MaskDefault       = "default"
	MaskEmail         = "email"
	MaskPartialString = "partialString"
)

const redacted = "********"

// MaskingRule declares a display-time transform for one stored field,
// applied for principals lacking the unmask capability.
type MaskingRule struct {
	TableRef  string    `json:"tableRef"`
	FieldRef  string    `json:"fieldRef"`
	Strategy  string    `json:"strategy"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks required fields and that the strategy is known.
func (r *MaskingRule) Validate() error {
	if r.TableRef == "" {
		return errors.Wrap(ErrValidation, "masking tableRef is required")
	}
	if r.FieldRef == "" {
		return errors.Wrap(ErrValidation, "masking fieldRef is required")
	}
	switch r.Strategy {
	case MaskDefault, MaskEmail, MaskPartialString:
		return nil
	}
	return errors.Wrapf(ErrValidation, "unknown masking strategy %q", r.Strategy)
}

// Mask applies the rule's strategy to a stored value.
func (r *MaskingRule) Mask(value string) string {
	return MaskValue(r.Strategy, value)
}

// MaskValue transforms value according to strategy. Unknown strategies fall
// back to full redaction so a misconfigured rule never leaks data.
func MaskValue(strategy, value string) string {
	if value == "" {
		return value
	}
	switch strategy {
	case MaskEmail:
		return maskEmail(value)
	case MaskPartialString:
		return maskPartial(value)
	default:
		return redacted
	}
}

// maskEmail preserves the email shape: first character of the local part and
// the full domain survive, e.g. "john@example.com" -> "j***@example.com".
// Values without an "@" degrade to partial masking.
func maskEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at <= 0 {
		return maskPartial(value)
	}
	local := []rune(value[:at])
	return string(local[0]) + "***" + value[at:]
}

// maskPartial reveals the first and last character only. Values of two
// characters or fewer are fully redacted.
func maskPartial(value string) string {
	runes := []rune(value)
	if len(runes) <= 2 {
		return redacted
	}
	return string(runes[0]) + "***" + string(runes[len(runes)-1])
}
