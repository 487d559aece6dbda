// Package command turns user actions into single ledger exercises.
package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/datnetwork/datmind/internal/ledger"
	"github.com/datnetwork/datmind/internal/models"
	"github.com/datnetwork/datmind/pkg/logging"
	"github.com/datnetwork/datmind/pkg/telemetry"
)

var (
	// ErrAlreadySubmitting is returned when a control already has a command in flight
	ErrAlreadySubmitting = errors.New("control is already submitting")
	// ErrInvalidArgument is wrapped by client-side validation failures
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownAction is returned for an action name with no descriptor
	ErrUnknownAction = errors.New("unknown action")
)

// Ledger is the write side of the ledger as seen by one party
type Ledger interface {
	Party() string
	Exercise(ctx context.Context, cmd ledger.ExerciseCommand) (*ledger.ExerciseResult, error)
}

// Journal records completed submissions
type Journal interface {
	Record(ctx context.Context, rec *models.CommandRecord) error
}

// Result is the outcome of one submission. Diagnostic carries the ledger's opaque
// rejection text when OK is false.
type Result struct {
	Action     Name   `json:"action"`
	Control    string `json:"control"`
	OK         bool   `json:"ok"`
	CommandID  string `json:"commandId,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
	Err        error  `json:"-"`
}

// Control is one presentation control. It allows a single in-flight submission.
type Control struct {
	name       string
	submitting atomic.Bool
}

// Name returns the control name
func (c *Control) Name() string {
	return c.name
}

// Submitting reports whether a command of this control is in flight
func (c *Control) Submitting() bool {
	return c.submitting.Load()
}

// Controls is the control registry of one party. It outlives a single dispatcher so
// a control stays busy while its command is in flight on a replaced session.
type Controls struct {
	mu     sync.Mutex
	byName map[string]*Control
}

// NewControls creates an empty registry
func NewControls() *Controls {
	return &Controls{byName: make(map[string]*Control)}
}

// Get returns the control with the given name, creating it on first use
func (cs *Controls) Get(name string) *Control {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c, ok := cs.byName[name]
	if !ok {
		c = &Control{name: name}
		cs.byName[name] = c
	}
	return c
}

// Submitting lists the controls that currently have a command in flight
func (cs *Controls) Submitting() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var out []string
	for name, c := range cs.byName {
		if c.Submitting() {
			out = append(out, name)
		}
	}
	return out
}

// Dispatcher submits actions for one party
type Dispatcher struct {
	ledger   Ledger
	journal  Journal
	controls *Controls
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher; journal may be nil and a nil controls starts
// an empty registry
func NewDispatcher(l Ledger, journal Journal, controls *Controls) *Dispatcher {
	if controls == nil {
		controls = NewControls()
	}
	return &Dispatcher{
		ledger:   l,
		journal:  journal,
		controls: controls,
		logger:   logging.WithComponent("dispatcher").With(zap.String("party", l.Party())),
	}
}

// Control returns the control with the given name, creating it on first use
func (d *Dispatcher) Control(name string) *Control {
	return d.controls.Get(name)
}

// Submitting lists the controls that currently have a command in flight
func (d *Dispatcher) Submitting() []string {
	return d.controls.Submitting()
}

// Submit validates args, exercises the action on the ledger and waits for the verdict.
// The control is idle again once Submit returns, whatever the outcome. Commands are
// never retried. Cancelling ctx does not abort a round-trip already sent: the ledger
// may have applied it, so the verdict is awaited under the ledger client's own timeout.
func (d *Dispatcher) Submit(ctx context.Context, control string, name Name, args Args) Result {
	res := Result{Action: name, Control: control}
	args = args.Trimmed()

	action, ok := Lookup(name)
	if !ok {
		res.Err = ErrUnknownAction
		res.Diagnostic = res.Err.Error()
		return res
	}

	me := d.ledger.Party()
	if action.Validate != nil {
		if err := action.Validate(me, args); err != nil {
			res.Err = err
			res.Diagnostic = err.Error()
			return res
		}
	}

	c := d.Control(control)
	if !c.submitting.CompareAndSwap(false, true) {
		res.Err = ErrAlreadySubmitting
		res.Diagnostic = res.Err.Error()
		return res
	}
	defer c.submitting.Store(false)

	ctx, span := telemetry.StartSpan(context.WithoutCancel(ctx), "command."+string(name))
	defer span.End()

	res.CommandID = ulid.Make().String()
	span.SetAttributes(
		attribute.String("command.id", res.CommandID),
		attribute.String("command.control", control),
	)

	submitted := time.Now()
	cmd := action.Exercise(me, args, res.CommandID)
	_, err := d.ledger.Exercise(ctx, cmd)
	elapsed := time.Since(submitted)

	logger := d.logger.With(
		zap.String("action", string(name)),
		zap.String("control", control),
		zap.String("command_id", res.CommandID),
	)
	if err != nil {
		res.Err = err
		res.Diagnostic = diagnostic(err)
		span.RecordError(err)
		logger.Warn("Command rejected", zap.String("diagnostic", res.Diagnostic), zap.Duration("elapsed", elapsed))
	} else {
		res.OK = true
		logger.Info("Command accepted", zap.Duration("elapsed", elapsed))
	}
	telemetry.RecordCommand(ctx, string(name), res.OK, elapsed)

	d.record(ctx, res, action.Target(me, args), submitted)
	return res
}

func (d *Dispatcher) record(ctx context.Context, res Result, target string, submitted time.Time) {
	if d.journal == nil {
		return
	}
	rec := &models.CommandRecord{
		CommandID:   res.CommandID,
		Party:       d.ledger.Party(),
		Action:      string(res.Action),
		Control:     res.Control,
		Target:      target,
		Accepted:    res.OK,
		Diagnostic:  res.Diagnostic,
		SubmittedAt: submitted,
		CompletedAt: time.Now(),
	}
	// The journal is an audit trail; a failed write never changes the outcome
	if err := d.journal.Record(ctx, rec); err != nil {
		d.logger.Error("Failed to journal command", zap.String("command_id", res.CommandID), zap.Error(err))
	}
}

func diagnostic(err error) string {
	var rejected *ledger.CommandError
	if errors.As(err, &rejected) && rejected.Diagnostic != "" {
		return rejected.Diagnostic
	}
	return err.Error()
}
