// Package ledgertest provides an in-memory ledger that follows the application's
// contract rules closely enough to drive sessions in tests.
//
// Visibility is fixed when a contract is created: users see their own profile,
// both parties see follow edges and requests, and tokens and posts are also shown
// to whoever follows the owner at that moment.
package ledgertest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/datnetwork/datmind/internal/ledger"
	"github.com/datnetwork/datmind/internal/models"
)

type contract struct {
	id        string
	template  string
	key       string
	payload   interface{}
	observers []models.Party
}

type subscriber struct {
	party    models.Party
	template string
	key      string // empty for query subscriptions

	mu      sync.Mutex
	queue   []ledger.Batch
	pending chan struct{}
}

func (s *subscriber) push(b ledger.Batch) {
	s.mu.Lock()
	s.queue = append(s.queue, b)
	s.mu.Unlock()
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

func (s *subscriber) pop() (ledger.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return ledger.Batch{}, false
	}
	b := s.queue[0]
	s.queue = s.queue[1:]
	return b, true
}

func (s *subscriber) sees(c *contract) bool {
	if c.template != s.template || (s.key != "" && c.key != s.key) {
		return false
	}
	return slices.Contains(c.observers, s.party)
}

// Ledger is the shared in-memory ledger
type Ledger struct {
	mu        sync.Mutex
	now       time.Time
	seq       int
	contracts map[string]*contract
	subs      map[*subscriber]struct{}
	commands  []ledger.ExerciseCommand
}

// New creates an empty ledger whose clock starts at 2021-06-01 and advances one
// minute per transaction
func New() *Ledger {
	return &Ledger{
		now:       time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC),
		contracts: make(map[string]*contract),
		subs:      make(map[*subscriber]struct{}),
	}
}

// AddUser creates the User contract of party
func (l *Ledger) AddUser(party models.Party) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := l.begin()
	tx.create(ledger.TemplateUser, party, models.User{Username: party}, party)
	l.commit(tx)
}

// As returns a handle acting as party
func (l *Ledger) As(party models.Party) *Party {
	return &Party{ledger: l, party: party}
}

// Commands returns every exercise received so far, accepted or not
func (l *Ledger) Commands() []ledger.ExerciseCommand {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.commands)
}

// Active counts the active contracts of templateID
func (l *Ledger) Active(templateID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.contracts {
		if c.template == templateID {
			n++
		}
	}
	return n
}

// Fail reports err on every open subscription of templateID
func (l *Ledger) Fail(templateID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.subs {
		if s.template == templateID {
			s.push(ledger.Batch{Err: err})
		}
	}
}

// Recover restarts every subscription of templateID from the active contract set
func (l *Ledger) Recover(templateID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.subs {
		if s.template == templateID {
			s.push(ledger.Batch{Events: l.activeFor(s), Reset: true, Live: true})
		}
	}
}

func (l *Ledger) activeFor(s *subscriber) []ledger.Event {
	var visible []*contract
	for _, c := range l.contracts {
		if s.sees(c) {
			visible = append(visible, c)
		}
	}
	slices.SortFunc(visible, func(a, b *contract) int { return compareIDs(a.id, b.id) })

	events := make([]ledger.Event, 0, len(visible))
	for _, c := range visible {
		events = append(events, createdEvent(c))
	}
	return events
}

func (l *Ledger) subscribe(ctx context.Context, s *subscriber) <-chan ledger.Batch {
	s.pending = make(chan struct{}, 1)
	out := make(chan ledger.Batch)

	l.mu.Lock()
	l.subs[s] = struct{}{}
	s.push(ledger.Batch{Events: l.activeFor(s), Live: true})
	l.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			l.mu.Lock()
			delete(l.subs, s)
			l.mu.Unlock()
		}()

		for {
			if b, ok := s.pop(); ok {
				select {
				case out <- b:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case <-s.pending:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func createdEvent(c *contract) ledger.Event {
	payload, _ := json.Marshal(c.payload)
	return ledger.Event{Created: &ledger.CreatedEvent{
		ContractID: c.id,
		TemplateID: c.template,
		Key:        json.RawMessage(c.key),
		Payload:    payload,
	}}
}

// compareIDs orders "#n" contract ids numerically
func compareIDs(a, b string) int {
	var na, nb int
	fmt.Sscanf(a, "#%d", &na)
	fmt.Sscanf(b, "#%d", &nb)
	return na - nb
}

// canonicalKey renders a key as JSON with sorted object fields
func canonicalKey(key interface{}) string {
	raw, err := json.Marshal(key)
	if err != nil {
		return ""
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ""
	}
	out, _ := json.Marshal(generic)
	return string(out)
}

// Party acts on the ledger as one party. It satisfies the session's ledger interface.
type Party struct {
	ledger *Ledger
	party  models.Party
}

// Party returns the acting party
func (p *Party) Party() string {
	return p.party
}

// StreamQuery subscribes to every visible contract of templateID
func (p *Party) StreamQuery(ctx context.Context, templateID string) <-chan ledger.Batch {
	return p.ledger.subscribe(ctx, &subscriber{party: p.party, template: templateID})
}

// StreamFetch subscribes to the visible contract of templateID with key
func (p *Party) StreamFetch(ctx context.Context, templateID string, key interface{}) <-chan ledger.Batch {
	return p.ledger.subscribe(ctx, &subscriber{party: p.party, template: templateID, key: canonicalKey(key)})
}

// Exercise runs one choice atomically. Rejections are *ledger.CommandError values.
func (p *Party) Exercise(ctx context.Context, cmd ledger.ExerciseCommand) (*ledger.ExerciseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := p.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = append(l.commands, cmd)

	target, err := l.lookup(cmd)
	if err != nil {
		return nil, err
	}

	tx := l.begin()
	if err := tx.exercise(p.party, target, cmd); err != nil {
		return nil, err
	}
	l.commit(tx)
	return &ledger.ExerciseResult{ExerciseResult: json.RawMessage(`{}`)}, nil
}

func (l *Ledger) lookup(cmd ledger.ExerciseCommand) (*contract, error) {
	if cmd.ContractID != "" {
		c, ok := l.contracts[cmd.ContractID]
		if !ok || c.template != cmd.TemplateID {
			return nil, reject(http.StatusNotFound, "contract %s not found", cmd.ContractID)
		}
		return c, nil
	}
	key := canonicalKey(cmd.Key)
	if c := l.byKey(cmd.TemplateID, key); c != nil {
		return c, nil
	}
	return nil, reject(http.StatusNotFound, "no %s with key %s", cmd.TemplateID, key)
}

func (l *Ledger) byKey(template, key string) *contract {
	for _, c := range l.contracts {
		if c.template == template && c.key == key {
			return c
		}
	}
	return nil
}

func reject(status int, format string, args ...interface{}) error {
	return &ledger.CommandError{Status: status, Diagnostic: fmt.Sprintf(format, args...)}
}
