// Package gallery serves tokens and posts: galleries, the timeline and the token
// commands.
package gallery

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/datnetwork/datmind/internal/api/objects"
	"github.com/datnetwork/datmind/internal/command"
)

// GalleryAPI provides the token and post methods
type GalleryAPI struct {
	sessions objects.Sessions
}

// NewGalleryAPI creates a new gallery API
func NewGalleryAPI(sessions objects.Sessions) *GalleryAPI {
	return &GalleryAPI{sessions: sessions}
}

// GetViewpoints handles dat.get_viewpoints
func (g *GalleryAPI) GetViewpoints(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	sess, err := objects.SessionFor(c, g.sessions)
	if err != nil {
		return nil, err
	}
	return sess.Views().Viewpoints, nil
}

// GetGallery handles dat.get_gallery. The optional viewpoint defaults to the caller.
func (g *GalleryAPI) GetGallery(c *gin.Context, params json.RawMessage) (interface{}, error) {
	viewpoint, err := objects.PositionalString(params, "viewpoint")
	if err != nil {
		return nil, err
	}
	sess, err := objects.SessionFor(c, g.sessions)
	if err != nil {
		return nil, err
	}
	return sess.Gallery(viewpoint)
}

// GetTimeline handles dat.get_timeline
func (g *GalleryAPI) GetTimeline(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	sess, err := objects.SessionFor(c, g.sessions)
	if err != nil {
		return nil, err
	}
	return sess.Views().Timeline, nil
}

// MintToken handles dat.mint_token
func (g *GalleryAPI) MintToken(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return objects.Submit(c, g.sessions, command.MintToken, params)
}

// PostToken handles dat.post_token
func (g *GalleryAPI) PostToken(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return objects.Submit(c, g.sessions, command.PostToken, params)
}

// TakeToken handles dat.take_token
func (g *GalleryAPI) TakeToken(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return objects.Submit(c, g.sessions, command.TakeToken, params)
}

// DestroyToken handles dat.destroy_token
func (g *GalleryAPI) DestroyToken(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return objects.Submit(c, g.sessions, command.DestroyToken, params)
}
