package models

// Account is an admin credential. PHC holds the password hash in a
// self-describing format; only the auth package interprets it.
type Account struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	PHC      string `json:"-"`
}
