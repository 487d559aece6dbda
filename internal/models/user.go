package models

// User is the acting party's profile contract, keyed by username
type User struct {
	Username Party `json:"username"`
}
