package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeThroughFmtWrapping(t *testing.T) {
	cause := stdErrors.New("disk full")
	err := fmt.Errorf("save submissions: %w", Wrap(CodeStorageFailure, cause, "写入失败"))

	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("expected storage code, got %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !stdErrors.Is(err, New(CodeStorageFailure, "")) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if !RetryableError(err) {
		t.Fatalf("storage failures are retryable by default")
	}
}

func TestAlreadyPromotedIsNotRetryable(t *testing.T) {
	err := New(CodeAlreadyPromoted, "", WithMetadata("submission_id", "sub-1"))
	if RetryableError(err) {
		t.Fatalf("already promoted must not be retried")
	}
	if err.Message() != "submission already promoted" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if err.Metadata()["submission_id"] != "sub-1" {
		t.Fatalf("metadata missing: %+v", err.Metadata())
	}
}

func TestOverrides(t *testing.T) {
	err := New(CodeLedgerFailure, "boom", WithRetryable(false), WithSeverity(SeverityCritical))
	if err.Retryable() {
		t.Fatalf("override should disable retry")
	}
	if SeverityOf(err) != SeverityCritical {
		t.Fatalf("unexpected severity %s", SeverityOf(err))
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	if AttributesOf(Code("NOPE")).Message != "unknown error" {
		t.Fatalf("expected unknown fallback")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
	Register("CUSTOM", Attributes{Message: "custom", Retryable: true})
	if !New("CUSTOM", "").Retryable() {
		t.Fatalf("registered attributes should apply")
	}
	found := false
	for _, code := range Codes() {
		if code == "CUSTOM" {
			found = true
		}
	}
	if !found {
		t.Fatalf("registered code missing from Codes()")
	}
}

func TestLogAttrExpandsMetadata(t *testing.T) {
	attr := LogAttr(New(CodeUnresolvedRecord, "名称匹配到多条记录", WithSubmission("sub-1"), WithEquation("eq-a")))
	if attr.Key != "error" {
		t.Fatalf("unexpected key %q", attr.Key)
	}
	got := map[string]string{}
	for _, a := range attr.Value.Group() {
		got[a.Key] = a.Value.String()
	}
	if got["code"] != "UNRESOLVED_RECORD" || got["submission_id"] != "sub-1" || got["equation_id"] != "eq-a" {
		t.Fatalf("unexpected attrs: %v", got)
	}
	if plain := LogAttr(stdErrors.New("boom")); plain.Value.String() != "boom" {
		t.Fatalf("plain errors should log their text, got %v", plain.Value)
	}
}
