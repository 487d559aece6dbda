package models

// Post offers a snapshot of a token to the sender's followers
type Post struct {
	Sender    Party      `json:"sender"`
	ID        string     `json:"id"`
	Timestamp LedgerTime `json:"timestamp"`
	Token     Token      `json:"token"`
}

// Key returns the ledger key of the post
func (p Post) Key() TupleKey {
	return TupleKey{First: p.Sender, Second: p.ID}
}
