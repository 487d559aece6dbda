// Package views derives the presentation models from ledger snapshots. Every
// function here is pure: the same snapshots and identity give the same views.
package views

import (
	"errors"

	"github.com/datnetwork/datmind/internal/models"
	"github.com/datnetwork/datmind/internal/stream"
)

// ErrViewpointNotAllowed is returned when a gallery is requested for a party that is
// neither me nor someone I follow
var ErrViewpointNotAllowed = errors.New("viewpoint not allowed")

// Feed is the current snapshot of one subscription with its status
type Feed[T any] struct {
	Records []models.Contract[T]
	Status  stream.Status
}

// Inputs are the latest snapshots a derivation runs over
type Inputs struct {
	Me       models.Party
	Profile  Feed[models.User]
	Follows  Feed[models.Follows]
	Requests Feed[models.FollowRequest]
	Tokens   Feed[models.Token]
	Posts    Feed[models.Post]
}

// ProfileView is the acting user's own profile
type ProfileView struct {
	Status   stream.Status `json:"status"`
	Username models.Party  `json:"username,omitempty"`
	Loaded   bool          `json:"loaded"`
}

// PartyList is a sorted list of parties with the status of its sources
type PartyList struct {
	Status  stream.Status  `json:"status"`
	Parties []models.Party `json:"parties"`
}

// FollowersView lists my followers
type FollowersView struct {
	Status  stream.Status   `json:"status"`
	Entries []FollowerEntry `json:"entries"`
}

// NetworkView lists who I follow and who I asked to follow
type NetworkView struct {
	Status  stream.Status  `json:"status"`
	Entries []NetworkEntry `json:"entries"`
}

// IncomingView lists follow requests waiting for my answer
type IncomingView struct {
	Status   stream.Status     `json:"status"`
	Requests []IncomingRequest `json:"requests"`
}

// OutgoingView lists my pending follow requests
type OutgoingView struct {
	Status   stream.Status     `json:"status"`
	Requests []OutgoingRequest `json:"requests"`
}

// GalleryView lists the tokens owned by the selected viewpoint
type GalleryView struct {
	Status    stream.Status `json:"status"`
	Viewpoint models.Party  `json:"viewpoint"`
	Tokens    []TokenView   `json:"tokens"`
}

// TimelineView lists the posts visible to me
type TimelineView struct {
	Status  stream.Status   `json:"status"`
	Entries []TimelineEntry `json:"entries"`
}

// Views is one consistent derivation. Values are never mutated after Derive returns.
type Views struct {
	Me         models.Party  `json:"me"`
	Version    uint64        `json:"version"`
	Profile    ProfileView   `json:"profile"`
	Followers  FollowersView `json:"followers"`
	Following  PartyList     `json:"following"`
	Network    NetworkView   `json:"network"`
	Incoming   IncomingView  `json:"incoming"`
	Outgoing   OutgoingView  `json:"outgoing"`
	Viewpoints PartyList     `json:"viewpoints"`
	Gallery    GalleryView   `json:"gallery"`
	Timeline   TimelineView  `json:"timeline"`

	tokens Feed[models.Token]
}

// Derive computes every view from in
func Derive(in Inputs) *Views {
	me := in.Me
	edges := in.Follows.Records
	reqs := in.Requests.Records

	following := Following(edges, me)
	followers := Followers(edges, me)
	states := PairStates(edges, reqs, me)
	graph := stream.Combine(in.Follows.Status, in.Requests.Status)

	v := &Views{
		Me:      me,
		Profile: deriveProfile(in.Profile, me),
		Followers: FollowersView{
			Status:  graph,
			Entries: FollowerEntries(followers, states, me),
		},
		Following: PartyList{Status: in.Follows.Status, Parties: following},
		Network:   NetworkView{Status: graph, Entries: Network(states)},
		Incoming: IncomingView{
			Status:   graph,
			Requests: IncomingRequests(edges, reqs, me),
		},
		Outgoing: OutgoingView{
			Status:   graph,
			Requests: OutgoingRequests(edges, reqs, me),
		},
		Viewpoints: PartyList{Status: in.Follows.Status, Parties: Viewpoints(following, me)},
		Timeline: TimelineView{
			Status:  stream.Combine(in.Posts.Status, in.Follows.Status),
			Entries: Timeline(in.Posts.Records, following, me),
		},
		tokens: in.Tokens,
	}
	v.Gallery = v.GalleryFor(me)
	return v
}

// GalleryFor derives the gallery of viewpoint from the same snapshot as v
func (v *Views) GalleryFor(viewpoint models.Party) GalleryView {
	return GalleryView{
		Status:    stream.Combine(v.tokens.Status, v.Following.Status),
		Viewpoint: viewpoint,
		Tokens:    VisibleTokens(v.tokens.Records, viewpoint, v.Following.Parties, v.Me),
	}
}

// CanView reports whether viewpoint may be selected in the gallery
func (v *Views) CanView(viewpoint models.Party) bool {
	return AllowedViewpoint(viewpoint, v.Following.Parties, v.Me)
}

func deriveProfile(feed Feed[models.User], me models.Party) ProfileView {
	view := ProfileView{Status: feed.Status}
	for _, u := range feed.Records {
		if u.Payload.Username == me {
			view.Username = u.Payload.Username
			view.Loaded = true
			break
		}
	}
	return view
}
