// Package ledger talks to the ledger JSON API: commands over HTTP and live
// contract streams over websockets.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/datnetwork/datmind/internal/identity"
	"github.com/datnetwork/datmind/pkg/config"
	"github.com/datnetwork/datmind/pkg/logging"
	"github.com/datnetwork/datmind/pkg/telemetry"
)

// ExerciseCommand is a single choice exercise, addressed either by contract ID or by key
type ExerciseCommand struct {
	TemplateID string
	ContractID string
	Key        interface{}
	Choice     string
	Argument   interface{}
	CommandID  string
}

// ExerciseResult is the ledger's answer to an accepted exercise
type ExerciseResult struct {
	ExerciseResult json.RawMessage `json:"exerciseResult"`
	Events         json.RawMessage `json:"events"`
}

// CommandError is a ledger rejection; Diagnostic is opaque ledger text
type CommandError struct {
	Status     int
	Diagnostic string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("ledger rejected command (status %d): %s", e.Status, e.Diagnostic)
}

// Client wraps the ledger JSON API
type Client struct {
	baseURL          string
	wsURL            string
	httpClient       *http.Client
	limiter          *rate.Limiter
	reconnectTimeout time.Duration
	logger           *zap.Logger
}

// New creates a new ledger client
func New(cfg *config.LedgerConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ledger_url is required")
	}
	rps := cfg.CommandRPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.CommandBurst
	if burst <= 0 {
		burst = 10
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reconnect := cfg.ReconnectTimeout
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}

	logger := logging.WithComponent("ledger-client")
	client := &Client{
		baseURL:          strings.TrimRight(cfg.URL, "/"),
		wsURL:            strings.TrimRight(cfg.WebsocketURL, "/"),
		httpClient:       &http.Client{Timeout: timeout},
		limiter:          rate.NewLimiter(rate.Limit(rps), burst),
		reconnectTimeout: reconnect,
		logger:           logger,
	}

	logger.Info("Ledger client initialized", zap.String("url", client.baseURL), zap.String("ws_url", client.wsURL))
	return client, nil
}

// ForParty binds the client to an acting identity
func (c *Client) ForParty(id identity.Identity) *PartyClient {
	return &PartyClient{client: c, id: id}
}

// PartyClient issues requests on behalf of one identity
type PartyClient struct {
	client *Client
	id     identity.Identity
}

// Party returns the bound acting party
func (p *PartyClient) Party() string {
	return p.id.Party
}

type apiResponse struct {
	Status int             `json:"status"`
	Result json.RawMessage `json:"result"`
	Errors []string        `json:"errors"`
}

type exerciseRequest struct {
	TemplateID string       `json:"templateId"`
	ContractID string       `json:"contractId,omitempty"`
	Key        interface{}  `json:"key,omitempty"`
	Choice     string       `json:"choice"`
	Argument   interface{}  `json:"argument"`
	Meta       *commandMeta `json:"meta,omitempty"`
}

type commandMeta struct {
	CommandID string `json:"commandId"`
}

// Exercise submits one choice exercise and waits for the ledger's verdict
func (p *PartyClient) Exercise(ctx context.Context, cmd ExerciseCommand) (*ExerciseResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ledger.exercise")
	defer span.End()

	if (cmd.ContractID == "") == (cmd.Key == nil) {
		return nil, fmt.Errorf("exercise %s.%s needs exactly one of contract id or key", cmd.TemplateID, cmd.Choice)
	}
	if err := p.client.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("command throttled: %w", err)
	}

	argument := cmd.Argument
	if argument == nil {
		argument = struct{}{}
	}
	req := exerciseRequest{
		TemplateID: cmd.TemplateID,
		ContractID: cmd.ContractID,
		Key:        cmd.Key,
		Choice:     cmd.Choice,
		Argument:   argument,
	}
	if cmd.CommandID != "" {
		req.Meta = &commandMeta{CommandID: cmd.CommandID}
	}

	result, err := p.post(ctx, "/v1/exercise", req)
	if err != nil {
		return nil, err
	}

	var out ExerciseResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal exercise result: %w", err)
	}
	return &out, nil
}

// Fetch looks up the active contract with the given key; ok is false when none exists
func (p *PartyClient) Fetch(ctx context.Context, templateID string, key interface{}) (json.RawMessage, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "ledger.fetch")
	defer span.End()

	result, err := p.post(ctx, "/v1/fetch", map[string]interface{}{
		"templateId": templateID,
		"key":        key,
	})
	if err != nil {
		return nil, false, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, false, nil
	}
	return result, true, nil
}

func (p *PartyClient) post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.client.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.id.Token)

	resp, err := p.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger response: %w", err)
	}

	var decoded apiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &CommandError{Status: resp.StatusCode, Diagnostic: strings.TrimSpace(string(raw))}
		}
		return nil, fmt.Errorf("failed to unmarshal ledger response: %w", err)
	}
	status := decoded.Status
	if status == 0 {
		status = resp.StatusCode
	}
	if status != http.StatusOK || len(decoded.Errors) > 0 {
		return nil, &CommandError{Status: status, Diagnostic: strings.Join(decoded.Errors, "; ")}
	}
	return decoded.Result, nil
}
