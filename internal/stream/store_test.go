package stream

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/datnetwork/datmind/internal/ledger"
	"github.com/datnetwork/datmind/internal/models"
)

func created(id, template string, payload interface{}) ledger.Event {
	raw, _ := json.Marshal(payload)
	return ledger.Event{Created: &ledger.CreatedEvent{ContractID: id, TemplateID: template, Payload: raw}}
}

func archived(id string) ledger.Event {
	return ledger.Event{Archived: &ledger.ArchivedEvent{ContractID: id}}
}

func ids(contracts []models.Contract[models.Follows]) []string {
	out := make([]string, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, c.ID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStoreLifecycle(t *testing.T) {
	s := NewStore[models.Follows](ledger.TemplateFollows)
	if s.Status() != StatusLoading {
		t.Fatalf("New store status = %v, want loading", s.Status())
	}

	edge := models.Follows{Follower: "alice", Followee: "bob"}
	if err := s.Apply(ledger.Batch{Events: []ledger.Event{
		created("#1", "Follows:Follows", edge),
		created("#2", "pkg123:Follows:Follows", models.Follows{Follower: "carol", Followee: "alice"}),
	}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if s.Status() != StatusLoading {
		t.Errorf("Status before live marker = %v, want loading", s.Status())
	}

	s.Apply(ledger.Batch{Live: true})
	if s.Status() != StatusLive {
		t.Errorf("Status after live marker = %v, want live", s.Status())
	}
	if got := ids(s.Snapshot()); !equal(got, []string{"#1", "#2"}) {
		t.Errorf("Snapshot() = %v", got)
	}

	s.Apply(ledger.Batch{Live: true, Events: []ledger.Event{archived("#1"), created("#3", "", edge)}})
	if got := ids(s.Snapshot()); !equal(got, []string{"#2", "#3"}) {
		t.Errorf("Snapshot() after archive = %v", got)
	}
	if c, ok := s.Get("#3"); !ok || c.Payload != edge {
		t.Errorf("Get(#3) = %+v, %v", c, ok)
	}
}

func TestStoreVersionIncreases(t *testing.T) {
	s := NewStore[models.Follows](ledger.TemplateFollows)
	before := s.Version()
	s.Apply(ledger.Batch{Live: true})
	if s.Version() <= before {
		t.Errorf("Version did not increase: %d -> %d", before, s.Version())
	}
}

func TestStoreUnavailableAndRecovery(t *testing.T) {
	s := NewStore[models.Follows](ledger.TemplateFollows)
	s.Apply(ledger.Batch{Live: true, Events: []ledger.Event{created("#1", "", models.Follows{Follower: "a", Followee: "b"})}})

	streamErr := errors.New("connection reset")
	s.Apply(ledger.Batch{Err: streamErr})
	if s.Status() != StatusUnavailable || !errors.Is(s.Err(), streamErr) {
		t.Fatalf("Status = %v, err = %v; want unavailable", s.Status(), s.Err())
	}
	if s.Len() != 1 {
		t.Errorf("Unavailable store should keep its last contents, got %d", s.Len())
	}

	// Reconnect replays the active set from scratch
	s.Apply(ledger.Batch{Reset: true, Events: []ledger.Event{created("#9", "", models.Follows{Follower: "a", Followee: "c"})}})
	if s.Status() != StatusLoading {
		t.Errorf("Status after reset = %v, want loading", s.Status())
	}
	if got := ids(s.Snapshot()); !equal(got, []string{"#9"}) {
		t.Errorf("Snapshot() after reset = %v", got)
	}
	s.Apply(ledger.Batch{Live: true})
	if s.Status() != StatusLive || s.Err() != nil {
		t.Errorf("Status = %v, err = %v; want live", s.Status(), s.Err())
	}
}

func TestStoreSkipsUndecodablePayload(t *testing.T) {
	s := NewStore[models.Follows](ledger.TemplateFollows)
	bad := ledger.Event{Created: &ledger.CreatedEvent{ContractID: "#bad", Payload: json.RawMessage(`[1,2]`)}}
	err := s.Apply(ledger.Batch{Live: true, Events: []ledger.Event{bad, created("#ok", "", models.Follows{Follower: "a", Followee: "b"})}})
	if err == nil {
		t.Error("Expected decode error")
	}
	if got := ids(s.Snapshot()); !equal(got, []string{"#ok"}) {
		t.Errorf("Snapshot() = %v, want only the decodable record", got)
	}
}

func TestStoreIgnoresOtherTemplates(t *testing.T) {
	s := NewStore[models.Follows](ledger.TemplateFollows)
	s.Apply(ledger.Batch{Live: true, Events: []ledger.Event{created("#r", "Follows:FollowRequest", map[string]interface{}{})}})
	if s.Len() != 0 {
		t.Errorf("Store accepted a record of another template")
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name string
		in   []Status
		want Status
	}{
		{"all live", []Status{StatusLive, StatusLive}, StatusLive},
		{"one loading", []Status{StatusLive, StatusLoading}, StatusLoading},
		{"unavailable wins", []Status{StatusLoading, StatusUnavailable, StatusLive}, StatusUnavailable},
		{"none", nil, StatusLive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Combine(tt.in...); got != tt.want {
				t.Errorf("Combine(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
