package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/datnetwork/datmind/internal/identity"
	"github.com/datnetwork/datmind/internal/ledger/ledgertest"
	"github.com/datnetwork/datmind/internal/models"
	"github.com/datnetwork/datmind/internal/session"
	"github.com/datnetwork/datmind/internal/stream"
	"github.com/datnetwork/datmind/internal/views"
)

const testSecret = "test-secret"

type memJournal struct {
	mu   sync.Mutex
	recs []*models.CommandRecord
}

func (j *memJournal) Record(_ context.Context, rec *models.CommandRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return nil
}

func (j *memJournal) GetByID(_ context.Context, commandID string) (*models.CommandRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, rec := range j.recs {
		if rec.CommandID == commandID {
			return rec, nil
		}
	}
	return nil, nil
}

func (j *memJournal) ListByParty(_ context.Context, party string, _ int) ([]*models.CommandRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*models.CommandRecord
	for _, rec := range j.recs {
		if rec.Party == party {
			out = append(out, rec)
		}
	}
	return out, nil
}

type testServer struct {
	engine   *gin.Engine
	sessions *session.Manager
	journal  *memJournal
	tokens   map[string]string
}

func newTestServer(t *testing.T, withJournal bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := ledgertest.New()
	l.AddUser("alice")
	l.AddUser("bob")

	journal := &memJournal{}
	opts := session.Options{}
	var routerJournal Journal
	if withJournal {
		opts.Journal = journal
		routerJournal = journal
	}
	sessions := session.NewManager(func(id identity.Identity) session.Ledger { return l.As(id.Party) }, opts, 0)
	t.Cleanup(sessions.Close)

	router := NewRouter(sessions, identity.NewResolver(testSecret), routerJournal)
	engine := gin.New()
	router.SetupRoutes(engine)
	return &testServer{engine: engine, sessions: sessions, journal: journal, tokens: make(map[string]string)}
}

// tokenFor signs one token per party so every request reuses the same session
func (s *testServer) tokenFor(t *testing.T, party string) string {
	t.Helper()
	if signed, ok := s.tokens[party]; ok {
		return signed
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"https://daml.com/ledger-api": map[string]interface{}{"actAs": []string{party}},
		"exp":                         time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	s.tokens[party] = signed
	return signed
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *JSONRPCError   `json:"error"`
}

func (s *testServer) call(t *testing.T, party, method string, params interface{}) (int, rpcReply) {
	t.Helper()
	body, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if party != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokenFor(t, party))
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var reply rpcReply
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("Failed to decode reply %s: %v", w.Body.String(), err)
	}
	return w.Code, reply
}

// waitLive blocks until the session of party reflects the ledger
func (s *testServer) waitLive(t *testing.T, party string, cond func(*views.Views) bool) {
	t.Helper()
	sess, err := s.sessions.Get(context.Background(), identity.Identity{Party: party, Token: s.tokenFor(t, party)})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := sess.Wait(ctx, func(v *views.Views) bool {
		return v.Profile.Loaded && v.Network.Status == stream.StatusLive && cond(v)
	}); err != nil {
		t.Fatalf("Session of %s never converged: %v", party, err)
	}
}

func TestUnauthorized(t *testing.T) {
	s := newTestServer(t, false)
	code, reply := s.call(t, "", "dat.get_profile", nil)
	if code != http.StatusUnauthorized || reply.Error == nil || reply.Error.Code != ErrUnauthorized {
		t.Errorf("Expected unauthorized, got %d %+v", code, reply.Error)
	}
}

func TestErrorCodes(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name   string
		method string
		params interface{}
		code   int
	}{
		{"unknown method", "dat.launch", nil, ErrMethodNotFound},
		{"follow yourself", "dat.follow", map[string]string{"party": "alice"}, ErrInvalidParams},
		{"empty mint", "dat.mint_token", map[string]string{"title": "t"}, ErrInvalidParams},
		{"malformed params", "dat.follow", []int{1}, ErrInvalidParams},
		{"foreign viewpoint", "dat.get_gallery", []string{"mallory"}, ErrInvalidParams},
		{"journal disabled", "dat.get_commands", nil, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reply := s.call(t, "alice", tt.method, tt.params)
			if reply.Error == nil || reply.Error.Code != tt.code {
				t.Errorf("%s: error = %+v, want code %d", tt.method, reply.Error, tt.code)
			}
		})
	}
}

func TestFollowOverRPC(t *testing.T) {
	s := newTestServer(t, true)
	s.waitLive(t, "alice", func(*views.Views) bool { return true })

	_, reply := s.call(t, "alice", "dat.follow", map[string]string{"control": "follow-form", "party": "bob"})
	if reply.Error != nil {
		t.Fatalf("dat.follow error = %+v", reply.Error)
	}
	var res struct {
		OK        bool   `json:"ok"`
		Control   string `json:"control"`
		CommandID string `json:"commandId"`
	}
	if err := json.Unmarshal(reply.Result, &res); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if !res.OK || res.Control != "follow-form" || res.CommandID == "" {
		t.Errorf("dat.follow result = %+v", res)
	}

	s.waitLive(t, "alice", func(v *views.Views) bool { return len(v.Outgoing.Requests) == 1 })
	_, reply = s.call(t, "alice", "dat.get_outgoing_requests", nil)
	var outgoing views.OutgoingView
	if err := json.Unmarshal(reply.Result, &outgoing); err != nil {
		t.Fatalf("Failed to decode outgoing: %v", err)
	}
	if len(outgoing.Requests) != 1 || outgoing.Requests[0].Followee != "bob" {
		t.Errorf("Outgoing = %+v", outgoing)
	}

	// The ledger rejects a second request: a result with ok=false, not an RPC error
	_, reply = s.call(t, "alice", "dat.follow", map[string]string{"party": "bob"})
	if reply.Error != nil {
		t.Fatalf("Rejected command must not be an RPC error: %+v", reply.Error)
	}
	var rejected struct {
		OK         bool   `json:"ok"`
		Diagnostic string `json:"diagnostic"`
	}
	json.Unmarshal(reply.Result, &rejected)
	if rejected.OK || rejected.Diagnostic == "" {
		t.Errorf("Second follow = %+v, want rejection", rejected)
	}

	_, reply = s.call(t, "alice", "dat.get_commands", map[string]int{"limit": 10})
	var entries []journalEntry
	if err := json.Unmarshal(reply.Result, &entries); err != nil {
		t.Fatalf("Failed to decode commands: %v", err)
	}
	if len(entries) != 2 || !entries[0].Accepted || entries[1].Accepted {
		t.Errorf("Journal = %+v", entries)
	}

	_, reply = s.call(t, "bob", "dat.get_command", []string{res.CommandID})
	if string(reply.Result) != "" && string(reply.Result) != "null" {
		t.Errorf("Bob must not see alice's command: %s", reply.Result)
	}
}

func TestReadMethods(t *testing.T) {
	s := newTestServer(t, false)
	s.waitLive(t, "alice", func(*views.Views) bool { return true })

	methods := []string{
		"dat.get_profile", "dat.get_followers", "dat.get_following", "dat.get_network",
		"dat.get_incoming_requests", "dat.get_outgoing_requests", "dat.get_viewpoints",
		"dat.get_gallery", "dat.get_timeline", "dat.get_views", "dat.get_submitting",
	}
	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			_, reply := s.call(t, "alice", method, nil)
			if reply.Error != nil || len(reply.Result) == 0 {
				t.Errorf("%s = %+v", method, reply)
			}
		})
	}

	_, reply := s.call(t, "alice", "dat.get_viewpoints", nil)
	var viewpoints views.PartyList
	json.Unmarshal(reply.Result, &viewpoints)
	if len(viewpoints.Parties) != 1 || viewpoints.Parties[0] != "alice" {
		t.Errorf("Viewpoints = %+v", viewpoints)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("GET /health = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d", w.Code)
	}
}

func TestBatch(t *testing.T) {
	s := newTestServer(t, false)
	s.waitLive(t, "alice", func(*views.Views) bool { return true })

	body := []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"dat.get_viewpoints"},
		{"jsonrpc":"2.0","id":2,"method":"dat.launch"},
		{"jsonrpc":"1.0","id":3,"method":"dat.get_profile"}
	]`)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.tokenFor(t, "alice"))
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var replies []rpcReply
	if err := json.Unmarshal(w.Body.Bytes(), &replies); err != nil {
		t.Fatalf("Failed to decode batch reply %s: %v", w.Body.String(), err)
	}
	if len(replies) != 3 {
		t.Fatalf("Expected 3 replies, got %d", len(replies))
	}
	if replies[0].Error != nil || len(replies[0].Result) == 0 {
		t.Errorf("First call = %+v", replies[0])
	}
	if replies[1].Error == nil || replies[1].Error.Code != ErrMethodNotFound {
		t.Errorf("Second call = %+v", replies[1].Error)
	}
	if replies[2].Error == nil || replies[2].Error.Code != ErrInvalidRequest {
		t.Errorf("Third call = %+v", replies[2].Error)
	}

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`[]`)))
	req.Header.Set("Authorization", "Bearer "+s.tokenFor(t, "alice"))
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	var reply rpcReply
	json.Unmarshal(w.Body.Bytes(), &reply)
	if reply.Error == nil || reply.Error.Code != ErrInvalidRequest {
		t.Errorf("Empty batch = %+v", reply.Error)
	}
}
