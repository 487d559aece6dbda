package models

// Follows is an established directed edge; the ledger keys it by the ordered pair
type Follows struct {
	Follower Party `json:"follower"`
	Followee Party `json:"followee"`
}

// FollowRequest is a pending edge proposal keyed by the same ordered pair
type FollowRequest struct {
	Follows Follows `json:"follows"`
}

// PairState tags the relationship of an ordered (follower, followee) pair
type PairState int

const (
	PairNone    PairState = iota // No request and no edge
	PairPending                  // Follow request outstanding
	PairEdge                     // Following
)

func (s PairState) String() string {
	switch s {
	case PairPending:
		return "pending"
	case PairEdge:
		return "following"
	default:
		return "none"
	}
}
