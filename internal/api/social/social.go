// Package social serves the follow graph: profile, followers, following, requests
// and the commands that change them.
package social

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/datnetwork/datmind/internal/api/objects"
	"github.com/datnetwork/datmind/internal/command"
	"github.com/datnetwork/datmind/pkg/logging"
)

// SocialAPI provides the follow-graph methods
type SocialAPI struct {
	sessions objects.Sessions
	logger   *zap.Logger
}

// NewSocialAPI creates a new social API
func NewSocialAPI(sessions objects.Sessions) *SocialAPI {
	return &SocialAPI{
		sessions: sessions,
		logger:   logging.GetLogger().With(zap.String("component", "social-api")),
	}
}

// GetProfile handles dat.get_profile
func (s *SocialAPI) GetProfile(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	sess, err := objects.SessionFor(c, s.sessions)
	if err != nil {
		return nil, err
	}
	v := sess.Views()
	return gin.H{
		"party":   v.Me,
		"version": v.Version,
		"profile": v.Profile,
	}, nil
}

// GetFollowers handles dat.get_followers
func (s *SocialAPI) GetFollowers(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	sess, err := objects.SessionFor(c, s.sessions)
	if err != nil {
		return nil, err
	}
	return sess.Views().Followers, nil
}

// GetFollowing handles dat.get_following
func (s *SocialAPI) GetFollowing(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	sess, err := objects.SessionFor(c, s.sessions)
	if err != nil {
		return nil, err
	}
	return sess.Views().Following, nil
}

// GetNetwork handles dat.get_network
func (s *SocialAPI) GetNetwork(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	sess, err := objects.SessionFor(c, s.sessions)
	if err != nil {
		return nil, err
	}
	return sess.Views().Network, nil
}

// GetIncomingRequests handles dat.get_incoming_requests
func (s *SocialAPI) GetIncomingRequests(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	sess, err := objects.SessionFor(c, s.sessions)
	if err != nil {
		return nil, err
	}
	return sess.Views().Incoming, nil
}

// GetOutgoingRequests handles dat.get_outgoing_requests
func (s *SocialAPI) GetOutgoingRequests(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	sess, err := objects.SessionFor(c, s.sessions)
	if err != nil {
		return nil, err
	}
	return sess.Views().Outgoing, nil
}

// Follow handles dat.follow
func (s *SocialAPI) Follow(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return objects.Submit(c, s.sessions, command.Follow, params)
}

// Unfollow handles dat.unfollow
func (s *SocialAPI) Unfollow(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return objects.Submit(c, s.sessions, command.Unfollow, params)
}

// WithdrawRequest handles dat.withdraw_request
func (s *SocialAPI) WithdrawRequest(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return objects.Submit(c, s.sessions, command.WithdrawRequest, params)
}

// RemoveFollower handles dat.remove_follower
func (s *SocialAPI) RemoveFollower(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return objects.Submit(c, s.sessions, command.RemoveFollower, params)
}

// AcceptRequest handles dat.accept_request
func (s *SocialAPI) AcceptRequest(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return objects.Submit(c, s.sessions, command.AcceptRequest, params)
}

// DeclineRequest handles dat.decline_request
func (s *SocialAPI) DeclineRequest(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return objects.Submit(c, s.sessions, command.DeclineRequest, params)
}
