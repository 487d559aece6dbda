package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/datnetwork/datmind/internal/api/gallery"
	"github.com/datnetwork/datmind/internal/api/objects"
	"github.com/datnetwork/datmind/internal/api/social"
	"github.com/datnetwork/datmind/internal/identity"
	"github.com/datnetwork/datmind/internal/models"
	"github.com/datnetwork/datmind/pkg/logging"
)

// Journal lists past submissions
type Journal interface {
	GetByID(ctx context.Context, commandID string) (*models.CommandRecord, error)
	ListByParty(ctx context.Context, party string, limit int) ([]*models.CommandRecord, error)
}

// Checker reports the health of a backing service
type Checker interface {
	Health(ctx context.Context) error
}

// Router sets up API routes
type Router struct {
	handler  *JSONRPCHandler
	sessions objects.Sessions
	resolver *identity.Resolver
	journal  Journal
	checks   map[string]Checker
	logger   *zap.Logger
}

// NewRouter creates a new API router. journal may be nil.
func NewRouter(sessions objects.Sessions, resolver *identity.Resolver, journal Journal) *Router {
	handler := NewJSONRPCHandler()
	router := &Router{
		handler:  handler,
		sessions: sessions,
		resolver: resolver,
		journal:  journal,
		checks:   make(map[string]Checker),
		logger:   logging.GetLogger().With(zap.String("component", "api-router")),
	}

	// Register all API methods
	router.registerMethods()

	return router
}

// AddHealthCheck includes a backing service in /health
func (r *Router) AddHealthCheck(name string, check Checker) {
	r.checks[name] = check
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.Use(RequestLogger())

	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// JSON-RPC endpoint
	engine.POST("/", Auth(r.resolver), r.handler.Handle)
}

// registerMethods registers all API methods
func (r *Router) registerMethods() {
	socialAPI := social.NewSocialAPI(r.sessions)

	r.handler.RegisterMethod("dat.get_profile", socialAPI.GetProfile)
	r.handler.RegisterMethod("dat.get_followers", socialAPI.GetFollowers)
	r.handler.RegisterMethod("dat.get_following", socialAPI.GetFollowing)
	r.handler.RegisterMethod("dat.get_network", socialAPI.GetNetwork)
	r.handler.RegisterMethod("dat.get_incoming_requests", socialAPI.GetIncomingRequests)
	r.handler.RegisterMethod("dat.get_outgoing_requests", socialAPI.GetOutgoingRequests)
	r.handler.RegisterMethod("dat.follow", socialAPI.Follow)
	r.handler.RegisterMethod("dat.unfollow", socialAPI.Unfollow)
	r.handler.RegisterMethod("dat.withdraw_request", socialAPI.WithdrawRequest)
	r.handler.RegisterMethod("dat.remove_follower", socialAPI.RemoveFollower)
	r.handler.RegisterMethod("dat.accept_request", socialAPI.AcceptRequest)
	r.handler.RegisterMethod("dat.decline_request", socialAPI.DeclineRequest)

	galleryAPI := gallery.NewGalleryAPI(r.sessions)

	r.handler.RegisterMethod("dat.get_viewpoints", galleryAPI.GetViewpoints)
	r.handler.RegisterMethod("dat.get_gallery", galleryAPI.GetGallery)
	r.handler.RegisterMethod("dat.get_timeline", galleryAPI.GetTimeline)
	r.handler.RegisterMethod("dat.mint_token", galleryAPI.MintToken)
	r.handler.RegisterMethod("dat.post_token", galleryAPI.PostToken)
	r.handler.RegisterMethod("dat.take_token", galleryAPI.TakeToken)
	r.handler.RegisterMethod("dat.destroy_token", galleryAPI.DestroyToken)

	// Session
	r.handler.RegisterMethod("dat.get_views", r.getViews)
	r.handler.RegisterMethod("dat.get_submitting", r.getSubmitting)
	r.handler.RegisterMethod("dat.refresh", r.refresh)

	// Command journal
	r.handler.RegisterMethod("dat.get_commands", r.getCommands)
	r.handler.RegisterMethod("dat.get_command", r.getCommand)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "OK"
	deps := gin.H{}
	for name, check := range r.checks {
		if err := check.Health(ctx); err != nil {
			status = "DEGRADED"
			deps[name] = err.Error()
			continue
		}
		deps[name] = "OK"
	}

	c.JSON(200, gin.H{
		"status":       status,
		"service":      "datmind-api",
		"dependencies": deps,
	})
}

// getViews returns every view of the caller from one consistent derivation
func (r *Router) getViews(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	sess, err := objects.SessionFor(c, r.sessions)
	if err != nil {
		return nil, err
	}
	return sess.Views(), nil
}

// getSubmitting lists the caller's controls with a command in flight
func (r *Router) getSubmitting(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	sess, err := objects.SessionFor(c, r.sessions)
	if err != nil {
		return nil, err
	}
	controls := sess.Submitting()
	if controls == nil {
		controls = []string{}
	}
	return gin.H{"controls": controls}, nil
}

// refresh drops the caller's snapshots and subscribes again
func (r *Router) refresh(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	sess, err := objects.SessionFor(c, r.sessions)
	if err != nil {
		return nil, err
	}
	if err := sess.Refresh(); err != nil {
		return nil, err
	}
	return gin.H{"refreshing": true}, nil
}

// getCommands lists the caller's recent submissions
func (r *Router) getCommands(c *gin.Context, params json.RawMessage) (interface{}, error) {
	if r.journal == nil {
		return nil, NewError(ErrServerError, "command journal disabled")
	}
	id, ok := identity.FromContext(c.Request.Context())
	if !ok {
		return nil, identity.ErrMissingToken
	}

	var p struct {
		Limit int `json:"limit"`
	}
	if err := objects.DecodeParams(params, &p); err != nil {
		return nil, err
	}

	recs, err := r.journal.ListByParty(c.Request.Context(), id.Party, p.Limit)
	if err != nil {
		return nil, err
	}
	return commandEntries(recs), nil
}

// getCommand returns one of the caller's submissions
func (r *Router) getCommand(c *gin.Context, params json.RawMessage) (interface{}, error) {
	if r.journal == nil {
		return nil, NewError(ErrServerError, "command journal disabled")
	}
	id, ok := identity.FromContext(c.Request.Context())
	if !ok {
		return nil, identity.ErrMissingToken
	}

	commandID, err := objects.PositionalString(params, "commandId")
	if err != nil {
		return nil, err
	}
	if commandID == "" {
		return nil, NewError(ErrInvalidParams, "missing required parameter: commandId")
	}

	rec, err := r.journal.GetByID(c.Request.Context(), commandID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Party != id.Party {
		return nil, nil
	}
	return commandEntry(rec), nil
}

type journalEntry struct {
	CommandID   string    `json:"commandId"`
	Action      string    `json:"action"`
	Control     string    `json:"control"`
	Target      string    `json:"target"`
	Accepted    bool      `json:"accepted"`
	Diagnostic  string    `json:"diagnostic,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

func commandEntry(rec *models.CommandRecord) journalEntry {
	return journalEntry{
		CommandID:   rec.CommandID,
		Action:      rec.Action,
		Control:     rec.Control,
		Target:      rec.Target,
		Accepted:    rec.Accepted,
		Diagnostic:  rec.Diagnostic,
		SubmittedAt: rec.SubmittedAt,
		CompletedAt: rec.CompletedAt,
	}
}

func commandEntries(recs []*models.CommandRecord) []journalEntry {
	out := make([]journalEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, commandEntry(rec))
	}
	return out
}
