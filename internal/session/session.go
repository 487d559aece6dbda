// Package session runs one acting party's subscriptions, derives its views and
// routes its commands.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/datnetwork/datmind/internal/command"
	"github.com/datnetwork/datmind/internal/ledger"
	"github.com/datnetwork/datmind/internal/models"
	"github.com/datnetwork/datmind/internal/notify"
	"github.com/datnetwork/datmind/internal/stream"
	"github.com/datnetwork/datmind/internal/views"
	"github.com/datnetwork/datmind/pkg/logging"
	"github.com/datnetwork/datmind/pkg/telemetry"
)

// ErrClosed is returned by operations on a closed session
var ErrClosed = errors.New("session closed")

// Ledger is everything a session needs from the ledger for one party
type Ledger interface {
	command.Ledger
	StreamQuery(ctx context.Context, templateID string) <-chan ledger.Batch
	StreamFetch(ctx context.Context, templateID string, key interface{}) <-chan ledger.Batch
}

// ViewCache mirrors published views
type ViewCache interface {
	StoreViews(ctx context.Context, v *views.Views) error
}

// Options configures a session. Nil sinks are skipped. Controls carries the party's
// control registry across sessions; nil starts an empty one.
type Options struct {
	Journal     command.Journal
	Cache       ViewCache
	Notifier    notify.Notifier
	Controls    *command.Controls
	EventBuffer int
}

type applier interface {
	Apply(ledger.Batch) error
	Status() stream.Status
	Err() error
}

type event struct {
	kind       string
	generation uint64
	batch      ledger.Batch
	result     *command.Result
	refresh    bool
}

// Session owns the stream stores of one party. Every store mutation and derivation
// happens on the run goroutine; readers only see immutable published views.
type Session struct {
	party      models.Party
	ledger     Ledger
	dispatcher *command.Dispatcher
	opts       Options
	logger     *zap.Logger

	profile  *stream.Store[models.User]
	follows  *stream.Store[models.Follows]
	requests *stream.Store[models.FollowRequest]
	tokens   *stream.Store[models.Token]
	posts    *stream.Store[models.Post]
	stores   map[string]applier

	events     chan event
	generation uint64
	subCancel  context.CancelFunc
	version    uint64

	mu      sync.Mutex
	current atomic.Pointer[views.Views]
	changed chan struct{}

	// Sink writes run on their own goroutine; pending holds only the newest views
	pending     chan *views.Views
	completions chan command.Result
	sinksDone   chan struct{}

	lastActive atomic.Int64
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
}

// Start subscribes to every entity kind visible to the party and starts the event loop
func Start(ctx context.Context, l Ledger, opts Options) *Session {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &Session{
		party:      l.Party(),
		ledger:     l,
		dispatcher: command.NewDispatcher(l, opts.Journal, opts.Controls),
		opts:       opts,
		logger:     logging.WithComponent("session").With(zap.String("party", l.Party())),
		profile:    stream.NewStore[models.User](ledger.TemplateUser),
		follows:    stream.NewStore[models.Follows](ledger.TemplateFollows),
		requests:   stream.NewStore[models.FollowRequest](ledger.TemplateFollowRequest),
		tokens:     stream.NewStore[models.Token](ledger.TemplateToken),
		posts:      stream.NewStore[models.Post](ledger.TemplatePost),
		events:     make(chan event, opts.EventBuffer),
		changed:    make(chan struct{}),
		cancel:     cancel,

		pending:     make(chan *views.Views, 1),
		completions: make(chan command.Result, opts.EventBuffer),
		sinksDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.stores = map[string]applier{
		"profile":  s.profile,
		"follows":  s.follows,
		"requests": s.requests,
		"tokens":   s.tokens,
		"posts":    s.posts,
	}
	s.touch()

	go s.writeSinks(ctx)
	s.publish()
	s.subscribe(ctx)
	go s.run(ctx)

	s.logger.Info("Session started")
	return s
}

// Party returns the acting party
func (s *Session) Party() models.Party {
	return s.party
}

// Views returns the latest published views
func (s *Session) Views() *views.Views {
	s.touch()
	return s.current.Load()
}

// Gallery derives the gallery of viewpoint from the latest views
func (s *Session) Gallery(viewpoint models.Party) (views.GalleryView, error) {
	v := s.Views()
	if viewpoint == "" {
		return v.Gallery, nil
	}
	if !v.CanView(viewpoint) {
		return views.GalleryView{}, views.ErrViewpointNotAllowed
	}
	return v.GalleryFor(viewpoint), nil
}

// Wait blocks until cond holds for the published views, ctx is done or the session closes
func (s *Session) Wait(ctx context.Context, cond func(*views.Views) bool) (*views.Views, error) {
	for {
		s.mu.Lock()
		v, changed := s.current.Load(), s.changed
		s.mu.Unlock()

		if cond(v) {
			return v, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return v, ctx.Err()
		case <-s.done:
			return v, ErrClosed
		}
	}
}

// Submit dispatches an action for the named control and waits for the ledger's verdict.
// The resulting view change arrives later through the streams.
func (s *Session) Submit(ctx context.Context, control string, name command.Name, args command.Args) command.Result {
	s.touch()
	if s.Closed() {
		return command.Result{Action: name, Control: control, Err: ErrClosed, Diagnostic: ErrClosed.Error()}
	}

	res := s.dispatcher.Submit(ctx, control, name, args)

	// Completions arriving after Close are dropped; the caller still gets res
	select {
	case s.events <- event{result: &res}:
	case <-s.done:
	}
	return res
}

// Submitting lists the controls with a command in flight
func (s *Session) Submitting() []string {
	return s.dispatcher.Submitting()
}

// Refresh drops every snapshot and subscribes again
func (s *Session) Refresh() error {
	select {
	case s.events <- event{refresh: true}:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Close cancels every subscription and stops the event loop
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		<-s.sinksDone
		s.logger.Info("Session closed")
	})
}

// Closed reports whether Close has run or the loop has stopped
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// IdleSince returns the time of the last read or submission
func (s *Session) IdleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// subscribe opens one subscription per entity kind tagged with a new generation.
// Only the run goroutine calls it after Start.
func (s *Session) subscribe(ctx context.Context) {
	if s.subCancel != nil {
		s.subCancel()
	}
	s.generation++
	subCtx, cancel := context.WithCancel(ctx)
	s.subCancel = cancel

	gen := s.generation
	s.forward(subCtx, "profile", gen, s.ledger.StreamFetch(subCtx, ledger.TemplateUser, s.party))
	s.forward(subCtx, "follows", gen, s.ledger.StreamQuery(subCtx, ledger.TemplateFollows))
	s.forward(subCtx, "requests", gen, s.ledger.StreamQuery(subCtx, ledger.TemplateFollowRequest))
	s.forward(subCtx, "tokens", gen, s.ledger.StreamQuery(subCtx, ledger.TemplateToken))
	s.forward(subCtx, "posts", gen, s.ledger.StreamQuery(subCtx, ledger.TemplatePost))
}

func (s *Session) forward(ctx context.Context, kind string, gen uint64, batches <-chan ledger.Batch) {
	go func() {
		for b := range batches {
			select {
			case s.events <- event{kind: kind, generation: gen, batch: b}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if s.subCancel != nil {
			s.subCancel()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev event) {
	switch {
	case ev.result != nil:
		s.completed(*ev.result)
	case ev.refresh:
		s.logger.Info("Refreshing subscriptions")
		s.resetStores()
		s.subscribe(ctx)
		s.publish()
	case ev.generation != s.generation:
		// Left over from a cancelled subscription
	default:
		s.apply(ctx, ev)
	}
}

func (s *Session) apply(ctx context.Context, ev event) {
	store, ok := s.stores[ev.kind]
	if !ok {
		return
	}
	before := store.Status()
	if err := store.Apply(ev.batch); err != nil {
		s.logger.Warn("Skipped undecodable contracts", zap.String("kind", ev.kind), zap.Error(err))
	}
	telemetry.RecordStreamEvent(ctx, ev.kind, len(ev.batch.Events))

	if after := store.Status(); after != before {
		fields := []zap.Field{zap.String("kind", ev.kind), zap.Stringer("status", after)}
		if after == stream.StatusUnavailable {
			s.logger.Error("Subscription unavailable", append(fields, zap.Error(store.Err()))...)
		} else {
			s.logger.Info("Subscription status changed", fields...)
		}
	}
	s.publish()
}

func (s *Session) resetStores() {
	s.profile = stream.NewStore[models.User](ledger.TemplateUser)
	s.follows = stream.NewStore[models.Follows](ledger.TemplateFollows)
	s.requests = stream.NewStore[models.FollowRequest](ledger.TemplateFollowRequest)
	s.tokens = stream.NewStore[models.Token](ledger.TemplateToken)
	s.posts = stream.NewStore[models.Post](ledger.TemplatePost)
	s.stores = map[string]applier{
		"profile":  s.profile,
		"follows":  s.follows,
		"requests": s.requests,
		"tokens":   s.tokens,
		"posts":    s.posts,
	}
}

// publish derives a fresh set of views, swaps it in and hands it to the sink writer.
// It never waits on the network.
func (s *Session) publish() {
	v := views.Derive(views.Inputs{
		Me:       s.party,
		Profile:  views.Feed[models.User]{Records: s.profile.Snapshot(), Status: s.profile.Status()},
		Follows:  views.Feed[models.Follows]{Records: s.follows.Snapshot(), Status: s.follows.Status()},
		Requests: views.Feed[models.FollowRequest]{Records: s.requests.Snapshot(), Status: s.requests.Status()},
		Tokens:   views.Feed[models.Token]{Records: s.tokens.Snapshot(), Status: s.tokens.Status()},
		Posts:    views.Feed[models.Post]{Records: s.posts.Snapshot(), Status: s.posts.Status()},
	})
	s.version++
	v.Version = s.version

	s.mu.Lock()
	s.current.Store(v)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if s.opts.Cache == nil && s.opts.Notifier == nil {
		return
	}
	// Only publish sends on pending, so after draining a stale entry the send succeeds
	select {
	case s.pending <- v:
	default:
		select {
		case <-s.pending:
		default:
		}
		s.pending <- v
	}
}

func (s *Session) completed(res command.Result) {
	s.logger.Debug("Command completed",
		zap.String("action", string(res.Action)),
		zap.String("control", res.Control),
		zap.Bool("ok", res.OK))

	if s.opts.Notifier == nil || res.CommandID == "" {
		return
	}
	select {
	case s.completions <- res:
	default:
		s.logger.Warn("Dropped command completion notice", zap.String("command_id", res.CommandID))
	}
}

// writeSinks mirrors views to the cache and notifier until ctx is done
func (s *Session) writeSinks(ctx context.Context) {
	defer close(s.sinksDone)
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-s.pending:
			s.storeViews(ctx, v)
		case res := <-s.completions:
			sinkCtx, cancel := context.WithTimeout(ctx, time.Second)
			if err := s.opts.Notifier.Notify(sinkCtx, notify.CommandCompleted(s.party, string(res.Action), res.CommandID, res.OK)); err != nil {
				s.logger.Debug("Failed to publish command completion", zap.Error(err))
			}
			cancel()
		}
	}
}

func (s *Session) storeViews(ctx context.Context, v *views.Views) {
	sinkCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if s.opts.Cache != nil {
		if err := s.opts.Cache.StoreViews(sinkCtx, v); err != nil {
			s.logger.Debug("Failed to cache views", zap.Error(err))
		}
	}
	if s.opts.Notifier != nil {
		if err := s.opts.Notifier.Notify(sinkCtx, notify.ViewsChanged(s.party, v.Version)); err != nil {
			s.logger.Debug("Failed to publish view change", zap.Error(err))
		}
	}
}
