// Package stream keeps the live snapshot of one ledger subscription.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/datnetwork/datmind/internal/ledger"
	"github.com/datnetwork/datmind/internal/models"
)

// Status reports whether a subscription's snapshot can be trusted
type Status int

const (
	StatusLoading     Status = iota // Initial contract set not fully received
	StatusLive                      // Snapshot reflects the ledger
	StatusUnavailable               // Stream failed; snapshot may be stale
)

func (s Status) String() string {
	switch s {
	case StatusLive:
		return "live"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "loading"
	}
}

// MarshalText renders the status by name in view models
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Combine returns the weakest of the given statuses: any unavailable input makes the
// result unavailable, otherwise any loading input makes it loading
func Combine(statuses ...Status) Status {
	out := StatusLive
	for _, s := range statuses {
		switch {
		case s == StatusUnavailable:
			return StatusUnavailable
		case s == StatusLoading:
			out = StatusLoading
		}
	}
	return out
}

// Store is the keyed snapshot of one entity kind. It is not safe for concurrent use;
// a session applies every batch from its own event loop.
type Store[T any] struct {
	templateID string
	records    map[models.ContractID]models.Contract[T]
	order      []models.ContractID
	status     Status
	version    uint64
	lastErr    error
}

// NewStore creates an empty store in the loading state
func NewStore[T any](templateID string) *Store[T] {
	return &Store[T]{
		templateID: templateID,
		records:    make(map[models.ContractID]models.Contract[T]),
	}
}

// TemplateID returns the template this store tracks
func (s *Store[T]) TemplateID() string {
	return s.templateID
}

// Status returns the current subscription status
func (s *Store[T]) Status() Status {
	return s.status
}

// Version increases every time Apply changes the store
func (s *Store[T]) Version() uint64 {
	return s.version
}

// Err returns the error that made the store unavailable, if any
func (s *Store[T]) Err() error {
	return s.lastErr
}

// Len returns the number of live records
func (s *Store[T]) Len() int {
	return len(s.records)
}

// Get returns the record with the given contract ID
func (s *Store[T]) Get(id models.ContractID) (models.Contract[T], bool) {
	c, ok := s.records[id]
	return c, ok
}

// Apply applies one batch in order. Events whose payload cannot be decoded are
// skipped and reported; the rest of the batch still applies.
func (s *Store[T]) Apply(batch ledger.Batch) error {
	if batch.Err != nil {
		s.status = StatusUnavailable
		s.lastErr = batch.Err
		s.version++
		return nil
	}

	if batch.Reset {
		s.records = make(map[models.ContractID]models.Contract[T])
		s.order = nil
	}

	var firstErr error
	for _, ev := range batch.Events {
		switch {
		case ev.Created != nil:
			if ev.Created.TemplateID != "" && !sameTemplate(ev.Created.TemplateID, s.templateID) {
				continue
			}
			var payload T
			if err := json.Unmarshal(ev.Created.Payload, &payload); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to decode %s payload of %s: %w", s.templateID, ev.Created.ContractID, err)
				}
				continue
			}
			if _, exists := s.records[ev.Created.ContractID]; !exists {
				s.order = append(s.order, ev.Created.ContractID)
			}
			s.records[ev.Created.ContractID] = models.Contract[T]{
				ID:         ev.Created.ContractID,
				TemplateID: s.templateID,
				Payload:    payload,
			}
		case ev.Archived != nil:
			if _, exists := s.records[ev.Archived.ContractID]; exists {
				delete(s.records, ev.Archived.ContractID)
				s.compactOrder()
			}
		}
	}

	if batch.Live {
		s.status = StatusLive
		s.lastErr = nil
	} else if batch.Reset || s.status == StatusUnavailable {
		s.status = StatusLoading
	}
	s.version++
	return firstErr
}

// Snapshot returns the live records in arrival order. The slice is a copy; payload
// slices such as ownerHistory are shared and must be treated as read-only.
func (s *Store[T]) Snapshot() []models.Contract[T] {
	out := make([]models.Contract[T], 0, len(s.records))
	seen := make(map[models.ContractID]struct{}, len(s.records))
	for _, id := range s.order {
		if _, dup := seen[id]; dup {
			continue
		}
		if c, ok := s.records[id]; ok {
			seen[id] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func (s *Store[T]) compactOrder() {
	if len(s.order) < 2*len(s.records)+16 {
		return
	}
	order := make([]models.ContractID, 0, len(s.records))
	for _, id := range s.order {
		if _, ok := s.records[id]; ok {
			order = append(order, id)
		}
	}
	s.order = order
}

// sameTemplate matches a fully qualified "pkg:Module:Entity" id against the
// unqualified "Module:Entity" form used in requests
func sameTemplate(got, want string) bool {
	if got == want {
		return true
	}
	return len(got) > len(want) && got[len(got)-len(want)-1:] == ":"+want
}
