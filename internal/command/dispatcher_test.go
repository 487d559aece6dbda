package command

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/datnetwork/datmind/internal/ledger"
	"github.com/datnetwork/datmind/internal/models"
)

type fakeLedger struct {
	party string
	err   error

	// Exercises of blockChoice wait until block is closed
	blockChoice string
	block       chan struct{}

	mu    sync.Mutex
	calls []ledger.ExerciseCommand
}

func (f *fakeLedger) Party() string { return f.party }

func (f *fakeLedger) Exercise(ctx context.Context, cmd ledger.ExerciseCommand) (*ledger.ExerciseResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if f.block != nil && cmd.Choice == f.blockChoice {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.ExerciseResult{}, nil
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memJournal struct {
	mu      sync.Mutex
	records []*models.CommandRecord
}

func (j *memJournal) Record(_ context.Context, rec *models.CommandRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func toJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal %v: %v", v, err)
	}
	return string(b)
}

func TestActionShapes(t *testing.T) {
	tests := []struct {
		name     Name
		args     Args
		template string
		choice   string
		key      string
		contract string
		argument string
	}{
		{Follow, Args{Party: "bob"}, ledger.TemplateUser, ledger.ChoiceRequestToFollow, `"alice"`, "", `{"userToFollow":"bob"}`},
		{Unfollow, Args{Party: "bob"}, ledger.TemplateFollows, ledger.ChoiceUnfollow, `{"follower":"alice","followee":"bob"}`, "", `{}`},
		{WithdrawRequest, Args{Party: "bob"}, ledger.TemplateFollowRequest, ledger.ChoiceWithdrawFollowRequest, `{"follower":"alice","followee":"bob"}`, "", `{}`},
		{RemoveFollower, Args{Party: "bob"}, ledger.TemplateFollows, ledger.ChoiceRemoveFollower, `{"follower":"bob","followee":"alice"}`, "", `{}`},
		{AcceptRequest, Args{RequestID: "#12:0"}, ledger.TemplateFollowRequest, ledger.ChoiceAcceptFollowRequest, "", "#12:0", `{}`},
		{DeclineRequest, Args{RequestID: "#12:0"}, ledger.TemplateFollowRequest, ledger.ChoiceDeclineFollowRequest, "", "#12:0", `{}`},
		{TakeToken, Args{Sender: "bob", PostID: "p-1"}, ledger.TemplatePost, ledger.ChoiceTakeToken, `{"_1":"bob","_2":"p-1"}`, "", `{"newOwner":"alice"}`},
		{DestroyToken, Args{TokenID: "t-1"}, ledger.TemplateToken, ledger.ChoiceDestroyToken, `{"_1":"alice","_2":"t-1"}`, "", `{}`},
	}

	for _, tt := range tests {
		t.Run(string(tt.name)+"/"+tt.args.Party, func(t *testing.T) {
			action, ok := Lookup(tt.name)
			if !ok {
				t.Fatalf("No descriptor for %s", tt.name)
			}
			cmd := action.Exercise("alice", tt.args, "cmd-1")
			if cmd.TemplateID != tt.template || cmd.Choice != tt.choice {
				t.Errorf("Exercise() = %s.%s, want %s.%s", cmd.TemplateID, cmd.Choice, tt.template, tt.choice)
			}
			if tt.contract != "" {
				if cmd.ContractID != tt.contract || cmd.Key != nil {
					t.Errorf("Expected contract %s without key, got %+v", tt.contract, cmd)
				}
			} else if got := toJSON(t, cmd.Key); got != tt.key {
				t.Errorf("Key = %s, want %s", got, tt.key)
			}
			if got := toJSON(t, cmd.Argument); got != tt.argument {
				t.Errorf("Argument = %s, want %s", got, tt.argument)
			}
			if cmd.CommandID != "cmd-1" {
				t.Errorf("CommandID = %q", cmd.CommandID)
			}
		})
	}
}

func TestFreshIdentifiers(t *testing.T) {
	mint, _ := Lookup(MintToken)
	first := mint.Exercise("alice", Args{Content: "x"}, "").Argument.(mintTokenArg)
	second := mint.Exercise("alice", Args{Content: "x"}, "").Argument.(mintTokenArg)
	if first.TokenID == "" || first.TokenID == second.TokenID {
		t.Errorf("Expected fresh token ids, got %q and %q", first.TokenID, second.TokenID)
	}

	post, _ := Lookup(PostToken)
	cmd := post.Exercise("alice", Args{TokenID: "t-1"}, "")
	if arg := cmd.Argument.(sendPostArg); arg.PostID == "" {
		t.Error("Expected a post id")
	}
	if key := toJSON(t, cmd.Key); key != `{"_1":"alice","_2":"t-1"}` {
		t.Errorf("Post key = %s", key)
	}
}

func TestEveryActionHasOneTarget(t *testing.T) {
	for _, name := range Names() {
		action, ok := Lookup(name)
		if !ok {
			t.Fatalf("No descriptor for %s", name)
		}
		if (action.Key == nil) == (action.ContractID == nil) {
			t.Errorf("%s must address a contract by exactly one of key or id", name)
		}
	}
	if len(Names()) != 10 {
		t.Errorf("Expected 10 actions, got %d", len(Names()))
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name Name
		args Args
	}{
		{Follow, Args{}},
		{Follow, Args{Party: "  "}},
		{Follow, Args{Party: "alice"}},
		{Follow, Args{Party: " alice "}},
		{MintToken, Args{Title: "untitled"}},
		{AcceptRequest, Args{}},
		{TakeToken, Args{PostID: "p-1"}},
		{DestroyToken, Args{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.name)+"/"+tt.args.Party, func(t *testing.T) {
			l := &fakeLedger{party: "alice"}
			res := NewDispatcher(l, nil, nil).Submit(context.Background(), "form", tt.name, tt.args)
			if res.OK || !errors.Is(res.Err, ErrInvalidArgument) {
				t.Errorf("Submit() = %+v, want invalid argument", res)
			}
			if l.callCount() != 0 {
				t.Error("Invalid arguments must not reach the ledger")
			}
		})
	}
}

func TestSubmitRejection(t *testing.T) {
	l := &fakeLedger{party: "alice", err: &ledger.CommandError{Status: 409, Diagnostic: "FollowRequest already exists"}}
	journal := &memJournal{}
	d := NewDispatcher(l, journal, nil)

	res := d.Submit(context.Background(), "follow-form", Follow, Args{Party: "bob"})
	if res.OK {
		t.Fatal("Expected rejection")
	}
	if res.Diagnostic != "FollowRequest already exists" {
		t.Errorf("Diagnostic = %q", res.Diagnostic)
	}
	if d.Control("follow-form").Submitting() {
		t.Error("Control must return to idle after rejection")
	}
	if l.callCount() != 1 {
		t.Errorf("Expected exactly one ledger call, got %d", l.callCount())
	}
	if len(journal.records) != 1 || journal.records[0].Accepted || journal.records[0].CommandID != res.CommandID {
		t.Errorf("Unexpected journal: %+v", journal.records)
	}
}

func TestSubmitAccepted(t *testing.T) {
	l := &fakeLedger{party: "alice"}
	journal := &memJournal{}
	res := NewDispatcher(l, journal, nil).Submit(context.Background(), "card-1", DestroyToken, Args{TokenID: "t-1"})
	if !res.OK || res.Err != nil {
		t.Fatalf("Submit() = %+v", res)
	}
	if len(res.CommandID) != 26 {
		t.Errorf("Expected a ULID command id, got %q", res.CommandID)
	}
	if got := l.calls[0].CommandID; got != res.CommandID {
		t.Errorf("Ledger saw command id %q, want %q", got, res.CommandID)
	}
	if rec := journal.records[0]; !rec.Accepted || rec.Action != "destroy_token" || rec.Party != "alice" {
		t.Errorf("Unexpected journal record: %+v", rec)
	}
}

func TestDoubleSubmission(t *testing.T) {
	l := &fakeLedger{party: "alice", blockChoice: ledger.ChoiceMintToken, block: make(chan struct{})}
	d := NewDispatcher(l, nil, nil)

	done := make(chan Result)
	go func() {
		done <- d.Submit(context.Background(), "mint-form", MintToken, Args{Content: "https://img/1.png"})
	}()

	for !d.Control("mint-form").Submitting() {
		runtime.Gosched()
	}

	second := d.Submit(context.Background(), "mint-form", MintToken, Args{Content: "https://img/1.png"})
	if !errors.Is(second.Err, ErrAlreadySubmitting) {
		t.Errorf("Second submit = %+v, want ErrAlreadySubmitting", second)
	}

	// Another control is independent
	other := d.Submit(context.Background(), "card-7", DestroyToken, Args{TokenID: "t-7"})
	if errors.Is(other.Err, ErrAlreadySubmitting) {
		t.Error("Controls must not share the submitting flag")
	}
	close(l.block)

	if first := <-done; !first.OK {
		t.Errorf("First submit = %+v", first)
	}
	if l.callCount() != 2 {
		t.Errorf("Expected two ledger calls, got %d", l.callCount())
	}
	if d.Control("mint-form").Submitting() {
		t.Error("Control must be idle after completion")
	}
}

func TestUnknownAction(t *testing.T) {
	res := NewDispatcher(&fakeLedger{party: "alice"}, nil, nil).Submit(context.Background(), "x", Name("launch"), Args{})
	if !errors.Is(res.Err, ErrUnknownAction) {
		t.Errorf("Submit() = %+v", res)
	}
}

func TestSubmitTrimsIdentifiers(t *testing.T) {
	l := &fakeLedger{party: "alice"}
	res := NewDispatcher(l, nil, nil).Submit(context.Background(), "follow-form", Follow, Args{Party: " bob\t"})
	if !res.OK {
		t.Fatalf("Submit() = %+v", res)
	}
	if got := toJSON(t, l.calls[0].Argument); got != `{"userToFollow":"bob"}` {
		t.Errorf("Argument = %s", got)
	}
}

func TestSubmitOutlivesCaller(t *testing.T) {
	l := &fakeLedger{party: "alice", blockChoice: ledger.ChoiceMintToken, block: make(chan struct{})}
	journal := &memJournal{}
	d := NewDispatcher(l, journal, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result)
	go func() {
		done <- d.Submit(ctx, "mint-form", MintToken, Args{Content: "https://img/2.png"})
	}()

	for !d.Control("mint-form").Submitting() {
		runtime.Gosched()
	}
	for l.callCount() == 0 {
		runtime.Gosched()
	}
	// The caller goes away while the ledger is still working on the command
	cancel()
	close(l.block)

	res := <-done
	if !res.OK || res.Err != nil {
		t.Errorf("Submit() = %+v, want the ledger's verdict", res)
	}
	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.records) != 1 || !journal.records[0].Accepted {
		t.Errorf("Unexpected journal: %+v", journal.records)
	}
}

func TestControlsSharedAcrossDispatchers(t *testing.T) {
	controls := NewControls()
	first := &fakeLedger{party: "alice", blockChoice: ledger.ChoiceRequestToFollow, block: make(chan struct{})}
	second := &fakeLedger{party: "alice"}

	done := make(chan Result)
	go func() {
		done <- NewDispatcher(first, nil, controls).Submit(context.Background(), "follow-form", Follow, Args{Party: "bob"})
	}()
	for !controls.Get("follow-form").Submitting() {
		runtime.Gosched()
	}

	res := NewDispatcher(second, nil, controls).Submit(context.Background(), "follow-form", Follow, Args{Party: "bob"})
	if !errors.Is(res.Err, ErrAlreadySubmitting) {
		t.Errorf("Submit() on a new dispatcher = %+v, want ErrAlreadySubmitting", res)
	}
	if second.callCount() != 0 {
		t.Error("A busy control must not reach the ledger")
	}

	close(first.block)
	<-done
	if len(controls.Submitting()) != 0 {
		t.Errorf("Submitting() = %v after completion", controls.Submitting())
	}
}
