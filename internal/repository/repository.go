// Package repository declares the persistence contracts the services
// depend on. Implementations live in subpackages (see repository/sqlite).
package repository

import (
	"context"

	"github.com/sakif/automata/internal/model"
)

// Page sizes shared by every list query.
const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// ListOptions selects one page of a list query.
type ListOptions struct {
	Limit  int
	Offset int
}

// Normalize applies DefaultListLimit to a missing limit, caps it at
// MaxListLimit and clears a negative offset.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// UserRepository stores user directory entries.
type UserRepository interface {
	// Create inserts a new user. The caller fills ID and PublicID.
	// Returns apperror.ErrConflict if the username is taken.
	Create(ctx context.Context, user *model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// ContributionRepository is the document store for contributions.
//
// Array fields (messages, rate) are changed through dedicated append and
// remove operations rather than by rewriting the whole record, so
// concurrent writers to the same contribution do not overwrite each other.
type ContributionRepository interface {
	// Create inserts the full record, public id included, in one write.
	Create(ctx context.Context, c *model.Contribution) error
	GetByID(ctx context.Context, id string) (*model.Contribution, error)

	// ListRecent returns contributions newest first.
	ListRecent(ctx context.Context, opts ListOptions) ([]model.Contribution, error)
	ListByTag(ctx context.Context, tag string, opts ListOptions) ([]model.Contribution, error)
	ListByAuthor(ctx context.Context, username string, opts ListOptions) ([]model.Contribution, error)

	UpdateData(ctx context.Context, id string, data model.ContributionData) error
	UpdateReview(ctx context.Context, id string, review model.Review) error

	// ToggleRate adds username to the rate set if absent and removes it
	// otherwise. It returns the new size of the set and whether username
	// is now a member.
	ToggleRate(ctx context.Context, id, username string) (count int, rated bool, err error)

	AppendMessage(ctx context.Context, id string, msg *model.Message) error
	RemoveMessage(ctx context.Context, id, messageID string) error

	Delete(ctx context.Context, id string) error
}
