package models

// OwnerEntry is one (owner, since) tuple of a token's provenance
type OwnerEntry struct {
	Owner Party      `json:"_1"`
	Since LedgerTime `json:"_2"`
}

// Token is an ownable artifact with append-only ownership history
type Token struct {
	Author       Party        `json:"author"`
	Owner        Party        `json:"owner"`
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Content      string       `json:"content"`
	Description  string       `json:"description"`
	AuthoredOn   LedgerTime   `json:"authoredOn"`
	OwnerSince   LedgerTime   `json:"ownerSince"`
	OwnerHistory []OwnerEntry `json:"ownerHistory"`
}

// Key returns the ledger key of the token
func (t Token) Key() TupleKey {
	return TupleKey{First: t.Owner, Second: t.ID}
}

// TupleKey is a two-element ledger tuple key as rendered by the JSON API
type TupleKey struct {
	First  Party  `json:"_1"`
	Second string `json:"_2"`
}
