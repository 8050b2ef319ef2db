package model

import "time"

// Contribution is a user-submitted item subject to community rating and
// moderator review.
type Contribution struct {
	ID        string           `json:"-"`
	PublicID  string           `json:"publicId"`
	Title     string           `json:"title"`
	DateAdded time.Time        `json:"dateAdded"`
	Author    Author           `json:"author"`
	Tags      []string         `json:"tags"`
	Data      ContributionData `json:"data"`
	Messages  []Message        `json:"messages"`
	Raters    []string         `json:"raters"`
	Rate      int              `json:"rate"`
	Review    Review           `json:"review"`
}

// Author is a denormalized copy of the submitting user taken at creation.
// It does not follow later profile changes.
type Author struct {
	PublicID string `json:"publicId"`
	Title    string `json:"title"`
	Avatar   string `json:"avatar"`
	Username string `json:"username"`
}

// ContributionData is the free-form payload; the only mutable part of a
// contribution besides its messages, rate and review.
type ContributionData struct {
	Type  string `json:"type"`
	Info  string `json:"info"`
	Image string `json:"image"`
}

// Message is one entry of a contribution's comment thread.
type Message struct {
	ID      string        `json:"id"`
	Content string        `json:"content"`
	Date    time.Time     `json:"date"`
	Author  MessageAuthor `json:"author"`
}

type MessageAuthor struct {
	Username string `json:"username"`
	PublicID string `json:"publicId"`
	Avatar   string `json:"avatar"`
}

// Review holds the moderator's verdict. Both fields stay nil until a
// moderator acts.
type Review struct {
	Message  *string `json:"message"`
	Approved *bool   `json:"approved"`
}

// IsApproved reports whether a moderator approved the contribution.
// Approved contributions can no longer be deleted.
func (r Review) IsApproved() bool {
	return r.Approved != nil && *r.Approved
}

// FindMessage returns the message with the given id, or nil.
func (c *Contribution) FindMessage(id string) *Message {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return &c.Messages[i]
		}
	}
	return nil
}
