package common

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateUUID(t *testing.T) {
	// Test without prefix
	id1 := GenerateUUID("")
	if id1 == "" {
		t.Error("GenerateUUID() returned empty string")
	}

	// Validate it's a proper UUID format
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("GenerateUUID() returned invalid UUID: %v", err)
	}

	// Test with prefix
	prefix := "test"
	id2 := GenerateUUID(prefix)
	if !strings.HasPrefix(id2, prefix+"_") {
		t.Errorf("GenerateUUID() with prefix %s should start with %s_, got %s", prefix, prefix, id2)
	}
	if strings.Contains(id2, "-") {
		t.Errorf("GenerateUUID() with prefix should not contain dashes, got %s", id2)
	}

	// Test uniqueness
	id3 := GenerateUUID("")
	if id1 == id3 {
		t.Error("GenerateUUID() should generate unique UUIDs")
	}
}

func TestGeneratePrefixedIDs(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"Event", GenerateEventID, "evt_"},
		{"Market", GenerateMarketID, "mkt_"},
		{"Request", GenerateRequestID, "req_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.gen()
			if !strings.HasPrefix(id, tt.prefix) {
				t.Errorf("expected prefix %s, got %s", tt.prefix, id)
			}
			if len(id) != len(tt.prefix)+32 {
				t.Errorf("expected %d characters, got %d", len(tt.prefix)+32, len(id))
			}
			if id == tt.gen() {
				t.Error("expected unique IDs")
			}
		})
	}
}
