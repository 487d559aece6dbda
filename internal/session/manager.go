package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/datnetwork/datmind/internal/command"
	"github.com/datnetwork/datmind/internal/identity"
	"github.com/datnetwork/datmind/pkg/logging"
)

// Factory binds a ledger to an acting identity
type Factory func(id identity.Identity) Ledger

// Evicted is called after an idle session has been closed
type Evicted func(ctx context.Context, party string)

type entry struct {
	session  *Session
	token    string
	controls *command.Controls
}

// Manager keeps one session per acting party
type Manager struct {
	factory Factory
	opts    Options
	idleTTL time.Duration
	onEvict Evicted
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// NewManager creates a manager. A zero idleTTL keeps sessions until Close.
func NewManager(factory Factory, opts Options, idleTTL time.Duration) *Manager {
	return &Manager{
		factory:  factory,
		opts:     opts,
		idleTTL:  idleTTL,
		logger:   logging.WithComponent("session-manager"),
		sessions: make(map[string]*entry),
	}
}

// OnEvict registers a callback run after each eviction
func (m *Manager) OnEvict(fn Evicted) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

// Get returns the session of id.Party, starting one if needed. A session opened with
// a different token is replaced so streams run with the caller's current credentials;
// the replacement inherits the party's controls, including those still submitting.
func (m *Manager) Get(ctx context.Context, id identity.Identity) (*Session, error) {
	if id.Party == "" {
		return nil, identity.ErrMissingParty
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	controls := command.NewControls()
	if e, ok := m.sessions[id.Party]; ok {
		if e.token == id.Token && !e.session.Closed() {
			return e.session, nil
		}
		controls = e.controls
		go e.session.Close()
		delete(m.sessions, id.Party)
	}

	opts := m.opts
	opts.Controls = controls
	s := Start(ctx, m.factory(id), opts)
	m.sessions[id.Party] = &entry{session: s, token: id.Token, controls: controls}
	m.logger.Info("Session opened", zap.String("party", id.Party), zap.Int("sessions", len(m.sessions)))
	return s, nil
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Evict closes sessions idle since before now minus the idle TTL and returns how
// many were closed
func (m *Manager) Evict(ctx context.Context, now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}

	m.mu.Lock()
	var idle []*Session
	for party, e := range m.sessions {
		// A session with a command in flight is not idle
		if now.Sub(e.session.IdleSince()) > m.idleTTL && len(e.session.Submitting()) == 0 {
			idle = append(idle, e.session)
			delete(m.sessions, party)
		}
	}
	onEvict := m.onEvict
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
		if onEvict != nil {
			onEvict(ctx, s.Party())
		}
		m.logger.Info("Evicted idle session", zap.String("party", s.Party()))
	}
	return len(idle)
}

// Run evicts idle sessions until ctx is done
func (m *Manager) Run(ctx context.Context) error {
	if m.idleTTL <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	interval := m.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			m.Evict(ctx, now)
		}
	}
}

// Close closes every session and refuses new ones
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(e.session)
	}
	wg.Wait()
}
