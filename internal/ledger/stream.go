package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// CreatedEvent announces a contract that became active
type CreatedEvent struct {
	ContractID string          `json:"contractId"`
	TemplateID string          `json:"templateId"`
	Key        json.RawMessage `json:"key,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// ArchivedEvent announces a contract that is no longer active
type ArchivedEvent struct {
	ContractID string `json:"contractId"`
	TemplateID string `json:"templateId"`
}

// Event is either a created or an archived event
type Event struct {
	Created  *CreatedEvent  `json:"created,omitempty"`
	Archived *ArchivedEvent `json:"archived,omitempty"`
}

// Batch is one stream delivery. Reset asks the consumer to drop its snapshot before
// applying Events; Live marks the end of the initial active contract set; a non-nil
// Err reports that the stream is currently unavailable.
type Batch struct {
	Events []Event
	Reset  bool
	Live   bool
	Err    error
}

type streamMessage struct {
	Events   []Event         `json:"events"`
	Offset   json.RawMessage `json:"offset"`
	Warnings json.RawMessage `json:"warnings"`
	Errors   []string        `json:"errors"`
}

// ErrStreamRejected is wrapped by errors the ledger reports on a stream
var ErrStreamRejected = errors.New("ledger rejected stream")

// StreamQuery subscribes to every active contract of templateID visible to the party.
// The channel is closed once ctx is cancelled.
func (p *PartyClient) StreamQuery(ctx context.Context, templateID string) <-chan Batch {
	request := []map[string]interface{}{{"templateIds": []string{templateID}}}
	return p.stream(ctx, "/v1/stream/query", templateID, request)
}

// StreamFetch subscribes to the contract of templateID with the given key
func (p *PartyClient) StreamFetch(ctx context.Context, templateID string, key interface{}) <-chan Batch {
	request := []map[string]interface{}{{"templateId": templateID, "key": key}}
	return p.stream(ctx, "/v1/stream/fetch", templateID, request)
}

func (p *PartyClient) stream(ctx context.Context, path, templateID string, request interface{}) <-chan Batch {
	out := make(chan Batch)
	logger := p.client.logger.With(zap.String("template", templateID), zap.String("party", p.id.Party))

	go func() {
		defer close(out)

		deliver := func(b Batch) bool {
			select {
			case out <- b:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for attempt := 0; ; attempt++ {
			err := p.runStream(ctx, path, request, attempt > 0, deliver)
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Ledger stream interrupted", zap.Error(err), zap.Int("attempt", attempt))
			if !deliver(Batch{Err: err}) {
				return
			}

			timer := time.NewTimer(p.client.reconnectTimeout)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()

	return out
}

// runStream holds one websocket connection until it fails or ctx is done
func (p *PartyClient) runStream(ctx context.Context, path string, request interface{}, reconnect bool, deliver func(Batch) bool) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: p.client.httpClient.Timeout,
		Subprotocols:     []string{"jwt.token." + p.id.Token, "daml.ws.auth"},
	}

	ws, _, err := dialer.DialContext(ctx, p.client.wsURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to open stream %s: %w", path, err)
	}
	defer ws.Close()

	// Unblock ReadMessage on cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	if err := ws.WriteJSON(request); err != nil {
		return fmt.Errorf("failed to send stream request: %w", err)
	}

	reset := reconnect
	live := false
	for {
		var msg streamMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return fmt.Errorf("stream read failed: %w", err)
		}
		if len(msg.Errors) > 0 {
			return fmt.Errorf("%w: %v", ErrStreamRejected, msg.Errors)
		}
		if len(msg.Warnings) > 0 {
			p.client.logger.Warn("Ledger stream warning", zap.ByteString("warnings", msg.Warnings))
		}

		hasOffset := len(msg.Offset) > 0 && string(msg.Offset) != "null"
		if len(msg.Events) == 0 && (live || !hasOffset) && !reset {
			// heartbeat
			continue
		}
		live = live || hasOffset

		if !deliver(Batch{Events: msg.Events, Reset: reset, Live: live}) {
			return ctx.Err()
		}
		reset = false
	}
}
