package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Party identifies a ledger participant; it doubles as the User key
type Party = string

// ContractID is the opaque ledger identifier of a contract instance
type ContractID = string

// Contract is one live record delivered by a ledger stream
type Contract[T any] struct {
	ID         ContractID `json:"contractId"`
	TemplateID string     `json:"templateId"`
	Payload    T          `json:"payload"`
}

// LedgerTime is a ledger Time or Date value. The JSON API renders Time as RFC3339
// and Date as YYYY-MM-DD; both decode into the same chronological value.
type LedgerTime struct {
	time.Time
}

const ledgerDateLayout = "2006-01-02"

// ParseLedgerTime parses either representation
func ParseLedgerTime(s string) (LedgerTime, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return LedgerTime{Time: t.UTC()}, nil
	}
	if t, err := time.Parse(ledgerDateLayout, s); err == nil {
		return LedgerTime{Time: t}, nil
	}
	return LedgerTime{}, fmt.Errorf("invalid ledger time %q", s)
}

// UnmarshalJSON implements json.Unmarshaler
func (t *LedgerTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("ledger time must be a string: %w", err)
	}
	if s == "" {
		*t = LedgerTime{}
		return nil
	}
	parsed, err := ParseLedgerTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler
func (t LedgerTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Compare orders two ledger times chronologically
func (t LedgerTime) Compare(other LedgerTime) int {
	return t.Time.Compare(other.Time)
}
