package rebaseerrors

import (
	"errors"
	"testing"
)

func TestParseCodeRoundTrips(t *testing.T) {
	for code := range knownCodes {
		parsed, ok := ParseCode(string(code))
		if !ok {
			t.Fatalf("ParseCode(%q) failed to parse a known code", code)
		}
		if parsed != code {
			t.Fatalf("ParseCode(%q) = %q, want %q", code, parsed, code)
		}
	}
}

func TestParseCodeRejectsUnknown(t *testing.T) {
	if _, ok := ParseCode("NOT_A_REAL_CODE"); ok {
		t.Fatal("expected ParseCode to reject an unknown code")
	}
}

func TestErrorIncludesCauseAndMessage(t *testing.T) {
	cause := errors.New("index.lock exists")
	err := Wrap(CodeIndexLocked, "acquiring lock", cause)
	got := err.Error()
	if got == "" {
		t.Fatal("expected non-empty error string")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap to expose cause, got %v", errors.Unwrap(err))
	}
}

func TestIsMatchesOnCodeAlone(t *testing.T) {
	err := New(CodeDirtyWorktree, "working tree has uncommitted changes")
	sentinel := &RebaseError{Code: CodeDirtyWorktree}
	if !errors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to match same-code RebaseError regardless of message")
	}

	other := &RebaseError{Code: CodeTimeout}
	if errors.Is(err, other) {
		t.Fatal("expected errors.Is to reject a different code")
	}
}
