package entities

import (
	"testing"
	"unicode/utf8"
)

func TestMaskValue_Default(t *testing.T) {
	got := MaskValue(MaskDefault, "sensitive")
	if got != "********" {
		t.Errorf("default mask: got %q", got)
	}
}

func TestMaskValue_EmailPreservesShape(t *testing.T) {
	got := MaskValue(MaskEmail, "john@example.com")
	if got != "j***@example.com" {
		t.Errorf("email mask: got %q, want j***@example.com", got)
	}
}

func TestMaskValue_EmailMultibyteFirstCharacter(t *testing.T) {
	got := MaskValue(MaskEmail, "žofia@example.com")
	if got != "ž***@example.com" {
		t.Errorf("email mask: got %q, want ž***@example.com", got)
	}
	if !utf8.ValidString(got) {
		t.Errorf("masked value is not valid UTF-8: %q", got)
	}
}

func TestMaskValue_EmailWithoutAtSign(t *testing.T) {
	got := MaskValue(MaskEmail, "not-an-email")
	if got != "n***l" {
		t.Errorf("email mask fallback: got %q, want n***l", got)
	}
}

func TestMaskValue_PartialString(t *testing.T) {
	got := MaskValue(MaskPartialString, "secret")
	if got != "s***t" {
		t.Errorf("partial mask: got %q, want s***t", got)
	}
}

func TestMaskValue_PartialStringShortValues(t *testing.T) {
	for _, v := range []string{"a", "ab"} {
		if got := MaskValue(MaskPartialString, v); got != "********" {
			t.Errorf("short value %q: got %q, want full redaction", v, got)
		}
	}
}

func TestMaskValue_EmptyStaysEmpty(t *testing.T) {
	if got := MaskValue(MaskDefault, ""); got != "" {
		t.Errorf("empty value: got %q", got)
	}
}

func TestMaskValue_UnknownStrategyRedactsFully(t *testing.T) {
	if got := MaskValue("bogus", "value"); got != "********" {
		t.Errorf("unknown strategy: got %q, want full redaction", got)
	}
}

func TestMaskingRule_Validate(t *testing.T) {
	rule := &MaskingRule{TableRef: "entities", FieldRef: "name", Strategy: "nope"}
	if err := rule.Validate(); err == nil {
		t.Error("expected validation error for unknown strategy")
	}

	rule.Strategy = MaskEmail
	if err := rule.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
