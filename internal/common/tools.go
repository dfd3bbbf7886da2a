package common

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID generates a UUID with an optional prefix
func GenerateUUID(prefix string) string {
	id := uuid.New()
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(id.String(), "-", ""))
	}
	return id.String()
}

// GenerateEventID generates a ledger event ID with "evt" prefix
func GenerateEventID() string {
	return GenerateUUID("evt")
}

// GenerateMarketID generates a market ID with "mkt" prefix
func GenerateMarketID() string {
	return GenerateUUID("mkt")
}

// GenerateRequestID generates a request ID with "req" prefix
func GenerateRequestID() string {
	return GenerateUUID("req")
}
