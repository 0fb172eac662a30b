package models

import (
	"errors"
	"testing"
)

func TestConversationKeyDerivation(t *testing.T) {
	key := ConversationKey{CompanionID: "c1", ModelID: "gpt", UserID: "u1"}

	if err := key.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := key.HistoryKey(); got != "c1-gpt-u1" {
		t.Fatalf("HistoryKey() = %q, want c1-gpt-u1", got)
	}
	if got := key.Namespace(); got != "c1" {
		t.Fatalf("Namespace() = %q, want c1", got)
	}

	other := ConversationKey{CompanionID: "c1", ModelID: "gpt", UserID: "u2"}
	if other.Namespace() != key.Namespace() {
		t.Fatalf("namespace differs across users of the same companion")
	}
}

func TestConversationKeyValidate(t *testing.T) {
	cases := []ConversationKey{
		{ModelID: "gpt", UserID: "u1"},
		{CompanionID: "c1", UserID: "u1"},
		{CompanionID: "c1", ModelID: "gpt", UserID: "  "},
	}
	for _, key := range cases {
		if err := key.Validate(); !errors.Is(err, ErrMalformedKey) {
			t.Fatalf("Validate(%+v) = %v, want ErrMalformedKey", key, err)
		}
	}
}

func TestCompanionValidate(t *testing.T) {
	c := &Companion{Name: "Ada", Instructions: "be kind", Seed: "User: hi\n\nAda: hello"}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	c.Seed = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want missing seed")
	}
}
