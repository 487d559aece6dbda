package views

import (
	"cmp"
	"slices"

	"github.com/datnetwork/datmind/internal/models"
)

// IncomingRequest is a follow request addressed to the acting party
type IncomingRequest struct {
	RequestID models.ContractID `json:"requestId"`
	Follower  models.Party      `json:"follower"`
}

// OutgoingRequest is a follow request issued by the acting party
type OutgoingRequest struct {
	RequestID models.ContractID `json:"requestId"`
	Followee  models.Party      `json:"followee"`
}

// NetworkEntry is one row of the merged following/pending list
type NetworkEntry struct {
	Party   models.Party     `json:"party"`
	Pending bool             `json:"pending"`
	State   models.PairState `json:"-"`
}

// FollowerEntry is one follower together with the follow-back affordance
type FollowerEntry struct {
	Party         models.Party `json:"party"`
	CanFollowBack bool         `json:"canFollowBack"`
}

// Followers returns the parties following me, ascending and without duplicates
func Followers(edges []models.Contract[models.Follows], me models.Party) []models.Party {
	out := make([]models.Party, 0)
	for _, e := range edges {
		if e.Payload.Followee == me {
			out = append(out, e.Payload.Follower)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Following returns the parties I follow, ascending and without duplicates
func Following(edges []models.Contract[models.Follows], me models.Party) []models.Party {
	out := make([]models.Party, 0)
	for _, e := range edges {
		if e.Payload.Follower == me {
			out = append(out, e.Payload.Followee)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// IncomingRequests returns requests addressed to me, ascending by follower then
// request ID. A request whose follower already follows me is hidden: the edge wins.
func IncomingRequests(edges []models.Contract[models.Follows], reqs []models.Contract[models.FollowRequest], me models.Party) []IncomingRequest {
	followers := make(map[models.Party]bool)
	for _, f := range Followers(edges, me) {
		followers[f] = true
	}

	out := make([]IncomingRequest, 0)
	for _, r := range reqs {
		pair := r.Payload.Follows
		if pair.Followee != me || followers[pair.Follower] {
			continue
		}
		out = append(out, IncomingRequest{RequestID: r.ID, Follower: pair.Follower})
	}
	slices.SortFunc(out, func(a, b IncomingRequest) int {
		return cmp.Or(cmp.Compare(a.Follower, b.Follower), cmp.Compare(a.RequestID, b.RequestID))
	})
	return out
}

// OutgoingRequests returns my pending requests, ascending by followee then request ID.
// Targets I already follow are excluded so following and pending never intersect.
func OutgoingRequests(edges []models.Contract[models.Follows], reqs []models.Contract[models.FollowRequest], me models.Party) []OutgoingRequest {
	states := PairStates(edges, reqs, me)

	out := make([]OutgoingRequest, 0)
	for _, r := range reqs {
		pair := r.Payload.Follows
		if pair.Follower != me || states[pair.Followee] != models.PairPending {
			continue
		}
		out = append(out, OutgoingRequest{RequestID: r.ID, Followee: pair.Followee})
	}
	slices.SortFunc(out, func(a, b OutgoingRequest) int {
		return cmp.Or(cmp.Compare(a.Followee, b.Followee), cmp.Compare(a.RequestID, b.RequestID))
	})
	return out
}

// PairStates maps every target of my outgoing pairs to its state. When an edge and a
// request coexist during stream convergence the edge wins.
func PairStates(edges []models.Contract[models.Follows], reqs []models.Contract[models.FollowRequest], me models.Party) map[models.Party]models.PairState {
	states := make(map[models.Party]models.PairState)
	for _, r := range reqs {
		if pair := r.Payload.Follows; pair.Follower == me && states[pair.Followee] == models.PairNone {
			states[pair.Followee] = models.PairPending
		}
	}
	for _, e := range edges {
		if e.Payload.Follower == me {
			states[e.Payload.Followee] = models.PairEdge
		}
	}
	return states
}

// Network merges following and pending targets into one list sorted by party
func Network(states map[models.Party]models.PairState) []NetworkEntry {
	out := make([]NetworkEntry, 0, len(states))
	for party, state := range states {
		if state == models.PairNone {
			continue
		}
		out = append(out, NetworkEntry{Party: party, Pending: state == models.PairPending, State: state})
	}
	slices.SortFunc(out, func(a, b NetworkEntry) int { return cmp.Compare(a.Party, b.Party) })
	return out
}

// FollowerEntries decorates followers with whether I can still request to follow them
func FollowerEntries(followers []models.Party, states map[models.Party]models.PairState, me models.Party) []FollowerEntry {
	out := make([]FollowerEntry, 0, len(followers))
	for _, f := range followers {
		out = append(out, FollowerEntry{
			Party:         f,
			CanFollowBack: f != me && states[f] == models.PairNone,
		})
	}
	return out
}
