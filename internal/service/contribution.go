package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/sakif/automata/internal/apperror"
	"github.com/sakif/automata/internal/hashtag"
	"github.com/sakif/automata/internal/idcodec"
	"github.com/sakif/automata/internal/model"
	"github.com/sakif/automata/internal/repository"
)

const (
	MaxInfoLength    = 5000
	MaxMessageLength = 2000
	DefaultListLimit = repository.DefaultListLimit
	MaxListLimit     = repository.MaxListLimit
)

// Status values reported back to callers.
const (
	StatusCreated = "created"
	StatusDeleted = "deleted"
)

// UserDirectory resolves the actors of contribution operations.
// *UserService satisfies it.
type UserDirectory interface {
	Lookup(ctx context.Context, username string) (*model.User, error)
}

// ContributionOptions are the policy switches of ContributionService.
type ContributionOptions struct {
	// RequireEditOwnership restricts Edit to the contribution's author.
	RequireEditOwnership bool
	// TagOrder selects how tags are cut down at submission.
	TagOrder hashtag.Order
}

// DefaultContributionOptions enforces edit ownership and uses the
// truncate-then-filter tag order.
func DefaultContributionOptions() ContributionOptions {
	return ContributionOptions{
		RequireEditOwnership: true,
		TagOrder:             hashtag.TruncateThenFilter,
	}
}

// SubmitInput is the payload of a new contribution.
type SubmitInput struct {
	Title string                 `json:"title"`
	Data  model.ContributionData `json:"data"`
}

// DataPatch is a partial update of a contribution's data. Empty fields
// keep the stored value.
type DataPatch struct {
	Type  string `json:"type"`
	Info  string `json:"info"`
	Image string `json:"image"`
}

// ReviewInput is a moderator's verdict. Approved defaults to false.
type ReviewInput struct {
	Message  *string `json:"message"`
	Approved *bool   `json:"approved"`
}

// RateResult reports the rate after a toggle.
type RateResult struct {
	PublicID string `json:"publicId"`
	Rate     int    `json:"rate"`
	Rated    bool   `json:"rated"` // whether the caller is now in the rate set
}

// MessageReceipt is a newly appended message with its contribution.
type MessageReceipt struct {
	model.Message
	Contribution string `json:"contribution"`
	Status       string `json:"status"`
}

// DeleteResult confirms a deletion.
type DeleteResult struct {
	PublicID  string `json:"publicId"`
	MessageID string `json:"messageId,omitempty"`
	Status    string `json:"status"`
}

// ContributionService owns the contribution lifecycle: submission, rating,
// editing, the message thread, moderator review and deletion.
type ContributionService struct {
	repo   repository.ContributionRepository
	users  UserDirectory
	codec  *idcodec.Codec
	tags   hashtag.Extractor
	opts   ContributionOptions
	logger *slog.Logger
	now    func() time.Time
}

// NewContributionService creates a ContributionService.
func NewContributionService(
	repo repository.ContributionRepository,
	users UserDirectory,
	codec *idcodec.Codec,
	opts ContributionOptions,
	logger *slog.Logger,
) *ContributionService {
	return &ContributionService{
		repo:   repo,
		users:  users,
		codec:  codec,
		tags:   hashtag.Extractor{Order: opts.TagOrder},
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit creates a contribution authored by authorUsername.
//
// The internal id is generated here so the public id can be derived before
// the write; the record is stored complete in one insert.
func (s *ContributionService) Submit(ctx context.Context, in SubmitInput, authorUsername string) (*model.Contribution, error) {
	// === VALIDATION ===
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperror.ValidationFailed("title", "contribution title is required")
	}
	if len(title) > MaxTitleLength {
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("contribution title must be %d characters or less", MaxTitleLength))
	}
	info := strings.TrimSpace(in.Data.Info)
	if info == "" {
		return nil, apperror.ValidationFailed("data.info", "contribution info is required")
	}
	if len(info) > MaxInfoLength {
		return nil, apperror.ValidationFailed("data.info",
			fmt.Sprintf("contribution info must be %d characters or less", MaxInfoLength))
	}

	// === RESOLVE AUTHOR ===
	author, err := s.users.Lookup(ctx, authorUsername)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("author", normalizeUsername(authorUsername))
		}
		return nil, err
	}

	// === BUILD AND STORE ===
	id := xid.New()
	publicID, err := s.codec.Encode(id)
	if err != nil {
		return nil, fmt.Errorf("service/contribution: %w", err)
	}

	c := &model.Contribution{
		ID:        id.String(),
		PublicID:  publicID,
		Title:     title,
		DateAdded: s.now(),
		Author: model.Author{
			PublicID: author.PublicID,
			Title:    author.Title,
			Avatar:   author.Avatar,
			Username: author.Username,
		},
		Tags: s.tags.Extract(info),
		Data: model.ContributionData{
			Type:  strings.TrimSpace(in.Data.Type),
			Info:  info,
			Image: strings.TrimSpace(in.Data.Image),
		},
		Messages: []model.Message{},
		Raters:   []string{},
	}

	if err := s.repo.Create(ctx, c); err != nil {
		s.logger.Error("failed to create contribution",
			slog.String("author", author.Username),
			slog.String("error", err.Error()),
		)
		return nil, storeErr("creating contribution", err)
	}

	s.logger.Info("contribution submitted",
		slog.String("publicId", c.PublicID),
		slog.String("author", author.Username),
		slog.Int("tags", len(c.Tags)),
	)
	return c, nil
}

// Fetch returns the contribution behind publicID.
func (s *ContributionService) Fetch(ctx context.Context, publicID string) (*model.Contribution, error) {
	return s.resolve(ctx, publicID)
}

// ListRecent returns contributions newest first.
func (s *ContributionService) ListRecent(ctx context.Context, limit, offset int) ([]model.Contribution, error) {
	list, err := s.repo.ListRecent(ctx, page(limit, offset))
	if err != nil {
		s.logger.Error("failed to list contributions", slog.String("error", err.Error()))
		return nil, storeErr("listing contributions", err)
	}
	return list, nil
}

// ListByTag returns the contributions filed under tag; "amor" and "#Amor"
// are the same tag.
func (s *ContributionService) ListByTag(ctx context.Context, tag string, limit, offset int) ([]model.Contribution, error) {
	normalized := hashtag.Normalize(tag)
	if normalized == "" {
		return nil, apperror.ValidationFailed("tag", fmt.Sprintf("%q is not a valid tag", tag))
	}

	list, err := s.repo.ListByTag(ctx, normalized, page(limit, offset))
	if err != nil {
		s.logger.Error("failed to list contributions by tag",
			slog.String("tag", normalized),
			slog.String("error", err.Error()),
		)
		return nil, storeErr("listing contributions by tag", err)
	}
	return list, nil
}

// ListByAuthor returns the contributions submitted by username.
func (s *ContributionService) ListByAuthor(ctx context.Context, username string, limit, offset int) ([]model.Contribution, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, apperror.ValidationFailed("author", "author is required")
	}

	list, err := s.repo.ListByAuthor(ctx, username, page(limit, offset))
	if err != nil {
		s.logger.Error("failed to list contributions by author",
			slog.String("author", username),
			slog.String("error", err.Error()),
		)
		return nil, storeErr("listing contributions by author", err)
	}
	return list, nil
}

// RateToggle adds username to the contribution's rate set, or removes it
// if already present. Calling it twice restores the original count, so
// callers must not retry it blindly.
func (s *ContributionService) RateToggle(ctx context.Context, publicID, username string) (*RateResult, error) {
	c, err := s.resolve(ctx, publicID)
	if err != nil {
		return nil, err
	}
	user, err := s.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}

	count, rated, err := s.repo.ToggleRate(ctx, c.ID, user.Username)
	if err != nil {
		return nil, s.mutationErr(err, c.PublicID, "toggling rate")
	}

	s.logger.Info("contribution rate toggled",
		slog.String("publicId", c.PublicID),
		slog.String("username", user.Username),
		slog.Bool("rated", rated),
		slog.Int("rate", count),
	)
	return &RateResult{PublicID: c.PublicID, Rate: count, Rated: rated}, nil
}

// Edit merges patch into the contribution's data field by field. Title and
// tags are not touched. When RequireEditOwnership is set only the author
// may edit.
func (s *ContributionService) Edit(ctx context.Context, publicID, username string, patch DataPatch) (*model.ContributionData, error) {
	patch.Type = strings.TrimSpace(patch.Type)
	patch.Info = strings.TrimSpace(patch.Info)
	patch.Image = strings.TrimSpace(patch.Image)
	if patch.Type == "" && patch.Info == "" && patch.Image == "" {
		return nil, apperror.ValidationFailed("data", "at least one of type, info or image is required")
	}
	if len(patch.Info) > MaxInfoLength {
		return nil, apperror.ValidationFailed("data.info",
			fmt.Sprintf("contribution info must be %d characters or less", MaxInfoLength))
	}

	user, err := s.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}
	c, err := s.resolve(ctx, publicID)
	if err != nil {
		return nil, err
	}

	if s.opts.RequireEditOwnership && c.Author.Username != user.Username {
		return nil, apperror.Unauthorized("only the author can edit this contribution")
	}

	data := c.Data
	if patch.Type != "" {
		data.Type = patch.Type
	}
	if patch.Info != "" {
		data.Info = patch.Info
	}
	if patch.Image != "" {
		data.Image = patch.Image
	}

	if err := s.repo.UpdateData(ctx, c.ID, data); err != nil {
		return nil, s.mutationErr(err, c.PublicID, "updating contribution data")
	}

	s.logger.Info("contribution edited",
		slog.String("publicId", c.PublicID),
		slog.String("username", user.Username),
	)
	return &data, nil
}

// AppendMessage adds a message by username to the contribution's thread.
func (s *ContributionService) AppendMessage(ctx context.Context, publicID, username, content string) (*MessageReceipt, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.ValidationFailed("content", "message content is required")
	}
	if len(content) > MaxMessageLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("message must be %d characters or less", MaxMessageLength))
	}

	user, err := s.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}
	c, err := s.resolve(ctx, publicID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:      uuid.NewString(),
		Content: content,
		Date:    s.now(),
		Author: model.MessageAuthor{
			Username: user.Username,
			PublicID: user.PublicID,
			Avatar:   user.Avatar,
		},
	}

	if err := s.repo.AppendMessage(ctx, c.ID, msg); err != nil {
		return nil, s.mutationErr(err, c.PublicID, "appending message")
	}

	s.logger.Info("message added",
		slog.String("publicId", c.PublicID),
		slog.String("messageId", msg.ID),
		slog.String("username", user.Username),
	)
	return &MessageReceipt{Message: *msg, Contribution: c.PublicID, Status: StatusCreated}, nil
}

// DeleteMessage removes one message. Only the message's own author may do
// so; owning the contribution is not enough.
func (s *ContributionService) DeleteMessage(ctx context.Context, publicID, username, messageID string) (*DeleteResult, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, apperror.ValidationFailed("messageId", "message id is required")
	}

	c, err := s.resolve(ctx, publicID)
	if err != nil {
		return nil, err
	}

	msg := c.FindMessage(messageID)
	if msg == nil {
		return nil, apperror.NotFound("message", messageID)
	}
	if msg.Author.Username != normalizeUsername(username) {
		return nil, apperror.Unauthorized("only the author of a message can delete it")
	}

	if err := s.repo.RemoveMessage(ctx, c.ID, messageID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("message", messageID)
		}
		return nil, storeErr("removing message", err)
	}

	s.logger.Info("message deleted",
		slog.String("publicId", c.PublicID),
		slog.String("messageId", messageID),
	)
	return &DeleteResult{PublicID: c.PublicID, MessageID: messageID, Status: StatusDeleted}, nil
}

// Review records a moderator's verdict, replacing any earlier one.
func (s *ContributionService) Review(ctx context.Context, publicID, reviewerUsername string, in ReviewInput) (*model.Review, error) {
	reviewer, err := s.lookupUser(ctx, reviewerUsername)
	if err != nil {
		return nil, err
	}
	if !reviewer.IsModerator {
		return nil, apperror.Unauthorized("only moderators can review contributions")
	}

	c, err := s.resolve(ctx, publicID)
	if err != nil {
		return nil, err
	}

	approved := in.Approved != nil && *in.Approved
	review := model.Review{Approved: &approved}
	if in.Message != nil {
		msg := strings.TrimSpace(*in.Message)
		review.Message = &msg
	}

	if err := s.repo.UpdateReview(ctx, c.ID, review); err != nil {
		return nil, s.mutationErr(err, c.PublicID, "updating review")
	}

	s.logger.Info("contribution reviewed",
		slog.String("publicId", c.PublicID),
		slog.String("reviewer", reviewer.Username),
		slog.Bool("approved", approved),
	)
	return &review, nil
}

// Delete hard-deletes a contribution. Approved contributions cannot be
// deleted by anyone; otherwise only the author may delete.
func (s *ContributionService) Delete(ctx context.Context, publicID, username string) (*DeleteResult, error) {
	user, err := s.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}
	c, err := s.resolve(ctx, publicID)
	if err != nil {
		return nil, err
	}

	if c.Review.IsApproved() {
		return nil, apperror.Forbidden("approved contributions cannot be deleted")
	}
	if c.Author.Username != user.Username {
		return nil, apperror.Unauthorized("only the author can delete this contribution")
	}

	if err := s.repo.Delete(ctx, c.ID); err != nil {
		return nil, s.mutationErr(err, c.PublicID, "deleting contribution")
	}

	s.logger.Info("contribution deleted",
		slog.String("publicId", c.PublicID),
		slog.String("username", user.Username),
	)
	return &DeleteResult{PublicID: c.PublicID, Status: StatusDeleted}, nil
}

// resolve decodes publicID and loads the contribution.
func (s *ContributionService) resolve(ctx context.Context, publicID string) (*model.Contribution, error) {
	publicID = strings.TrimSpace(publicID)
	id, err := s.codec.DecodeString(publicID)
	if err != nil {
		return nil, apperror.InvalidID("contribution", publicID)
	}

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("contribution", publicID)
		}
		s.logger.Error("failed to load contribution",
			slog.String("publicId", publicID),
			slog.String("error", err.Error()),
		)
		return nil, storeErr("loading contribution", err)
	}
	return c, nil
}

func (s *ContributionService) lookupUser(ctx context.Context, username string) (*model.User, error) {
	user, err := s.users.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// mutationErr translates a repository failure after the contribution was
// resolved. NotFound here means it was deleted in between.
func (s *ContributionService) mutationErr(err error, publicID, op string) error {
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.NotFound("contribution", publicID)
	}
	s.logger.Error("contribution store failure",
		slog.String("publicId", publicID),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return storeErr(op, err)
}

func page(limit, offset int) repository.ListOptions {
	return repository.ListOptions{Limit: limit, Offset: offset}.Normalize()
}
