package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseLedgerTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", "2021-06-01T10:00:00Z", time.Date(2021, 6, 1, 10, 0, 0, 0, time.UTC), false},
		{"fractional seconds", "2021-06-01T10:00:00.123456Z", time.Date(2021, 6, 1, 10, 0, 0, 123456000, time.UTC), false},
		{"date only", "2021-06-01", time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), false},
		{"garbage", "yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLedgerTime(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLedgerTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseLedgerTime(%q) = %v, want %v", tt.input, got.Time, tt.want)
			}
		})
	}
}

func TestTokenDecodesLedgerPayload(t *testing.T) {
	payload := `{
		"author": "alice", "owner": "carol", "id": "t-1",
		"title": "Sunset", "content": "https://img/1.png", "description": "",
		"authoredOn": "2021-06-01", "ownerSince": "2021-06-03T08:00:00Z",
		"ownerHistory": [{"_1": "alice", "_2": "2021-06-01T09:00:00Z"}, {"_1": "carol", "_2": "2021-06-03T08:00:00Z"}]
	}`

	var token Token
	if err := json.Unmarshal([]byte(payload), &token); err != nil {
		t.Fatalf("Failed to decode token: %v", err)
	}
	if len(token.OwnerHistory) != 2 || token.OwnerHistory[1].Owner != "carol" {
		t.Fatalf("Unexpected owner history: %+v", token.OwnerHistory)
	}
	if token.OwnerHistory[0].Since.Compare(token.OwnerHistory[1].Since) >= 0 {
		t.Error("Expected owner history in chronological order")
	}
	if key := token.Key(); key.First != "carol" || key.Second != "t-1" {
		t.Errorf("Token key = %+v", key)
	}
}

func TestPairStateString(t *testing.T) {
	tests := []struct {
		state PairState
		want  string
	}{
		{PairNone, "none"},
		{PairPending, "pending"},
		{PairEdge, "following"},
		{PairState(42), "none"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("PairState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
