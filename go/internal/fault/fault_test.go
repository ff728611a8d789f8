package fault

import (
	"errors"
	"fmt"
	"testing"
)

var errAlreadyVoted = InvalidState("you have already voted")

func TestFault_WrappedSentinelKeepsIdentityAndKind(t *testing.T) {
	err := fmt.Errorf("failed to add vote: %w", errAlreadyVoted)

	if !errors.Is(err, errAlreadyVoted) {
		t.Fatalf("errors.Is lost the sentinel through wrapping")
	}
	if !IsInvalidState(err) {
		t.Fatalf("expected invalid state kind")
	}
	if IsNotFound(err) {
		t.Fatalf("invalid state must not be reported as not found")
	}
	msg, ok := UserMessage(err)
	if !ok || msg != "you have already voted" {
		t.Fatalf("UserMessage = %q, %v", msg, ok)
	}
}

func TestFault_PlainErrorHasNoUserMessage(t *testing.T) {
	if _, ok := UserMessage(errors.New("connection reset")); ok {
		t.Fatalf("plain errors must not produce a user message")
	}
	if IsNotFound(nil) || IsInvalidState(nil) {
		t.Fatalf("nil error has no kind")
	}
}

func TestFault_DistinctSentinelsWithSameText(t *testing.T) {
	a := NotFound("missing")
	b := NotFound("missing")
	if errors.Is(a, b) {
		t.Fatalf("sentinels compare by identity, not text")
	}
}
