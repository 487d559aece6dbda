package views

import (
	"cmp"
	"slices"

	"github.com/datnetwork/datmind/internal/models"
)

// TokenView is a token as shown in a gallery
type TokenView struct {
	ContractID models.ContractID `json:"contractId"`
	Token      models.Token      `json:"token"`
	CanPost    bool              `json:"canPost"`
	CanDestroy bool              `json:"canDestroy"`
}

// TimelineEntry is a post as shown on the timeline
type TimelineEntry struct {
	ContractID models.ContractID `json:"contractId"`
	Post       models.Post       `json:"post"`
	CanTake    bool              `json:"canTake"`
}

// Viewpoints lists the parties whose galleries I may browse: me and everyone I follow
func Viewpoints(following []models.Party, me models.Party) []models.Party {
	out := make([]models.Party, 0, len(following)+1)
	out = append(out, following...)
	out = append(out, me)
	slices.Sort(out)
	return slices.Compact(out)
}

// AllowedViewpoint reports whether viewpoint is me or someone I follow
func AllowedViewpoint(viewpoint models.Party, following []models.Party, me models.Party) bool {
	if viewpoint == me {
		return true
	}
	_, found := slices.BinarySearch(following, viewpoint)
	return found
}

// VisibleTokens returns the tokens owned by viewpoint, most recent ownership first.
// Ties on ownerSince fall back to ascending contract ID. A viewpoint outside
// Viewpoints yields an empty list.
func VisibleTokens(tokens []models.Contract[models.Token], viewpoint models.Party, following []models.Party, me models.Party) []TokenView {
	out := make([]TokenView, 0)
	if !AllowedViewpoint(viewpoint, following, me) {
		return out
	}
	for _, t := range tokens {
		if t.Payload.Owner != viewpoint {
			continue
		}
		owned := t.Payload.Owner == me
		out = append(out, TokenView{
			ContractID: t.ID,
			Token:      t.Payload,
			CanPost:    owned,
			CanDestroy: owned && t.Payload.Author == me,
		})
	}
	slices.SortFunc(out, func(a, b TokenView) int {
		return cmp.Or(b.Token.OwnerSince.Compare(a.Token.OwnerSince), cmp.Compare(a.ContractID, b.ContractID))
	})
	return out
}

// Timeline returns posts sent by me or anyone I follow, newest first. Ties on
// timestamp fall back to ascending contract ID.
func Timeline(posts []models.Contract[models.Post], following []models.Party, me models.Party) []TimelineEntry {
	out := make([]TimelineEntry, 0)
	for _, p := range posts {
		if !AllowedViewpoint(p.Payload.Sender, following, me) {
			continue
		}
		out = append(out, TimelineEntry{
			ContractID: p.ID,
			Post:       p.Payload,
			CanTake:    p.Payload.Sender != me,
		})
	}
	slices.SortFunc(out, func(a, b TimelineEntry) int {
		return cmp.Or(b.Post.Timestamp.Compare(a.Post.Timestamp), cmp.Compare(a.ContractID, b.ContractID))
	})
	return out
}
