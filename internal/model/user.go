// Package model defines the data structures used throughout the application.
package model

import "time"

// DefaultAvatar is assigned to every account at registration.
const DefaultAvatar = "/standard.png"

// User is an entry in the user directory.
//
// ID is the internal xid; PublicID is its reversible short encoding and is
// the only identifier that leaves the service. IsModerator is decided once,
// at registration, from the configured allow-list.
type User struct {
	ID           string    `json:"-"`
	PublicID     string    `json:"publicId"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	Title        string    `json:"title"` // display title shown next to the username
	Avatar       string    `json:"avatar"`
	PasswordHash string    `json:"-"`
	IsModerator  bool      `json:"isModerator"`
	CreatedAt    time.Time `json:"createdAt"`
}
