// Package service contains the business rules of the application.
//
// Handlers parse requests and call services; services validate input,
// enforce ownership and role checks, and call repositories. Services never
// see HTTP types and never see SQL.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/automata/internal/apperror"
	"github.com/sakif/automata/internal/auth"
	"github.com/sakif/automata/internal/idcodec"
	"github.com/sakif/automata/internal/model"
	"github.com/sakif/automata/internal/repository"
)

const (
	MinPasswordLength = 8
	MaxNameLength     = 80
	MaxTitleLength    = 120
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,30}$`)

// RegisterInput is what a new account is created from.
type RegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Title    string `json:"title"`
}

// UserService is the user directory: registration, lookup by username,
// and credential checks.
type UserService struct {
	repo       repository.UserRepository
	passwords  *auth.PasswordService
	codec      *idcodec.Codec
	moderators map[string]struct{}
	logger     *slog.Logger
}

// NewUserService creates a UserService. Usernames in moderators are granted
// the moderator role when, and only when, they register.
func NewUserService(
	repo repository.UserRepository,
	passwords *auth.PasswordService,
	codec *idcodec.Codec,
	moderators []string,
	logger *slog.Logger,
) *UserService {
	allow := make(map[string]struct{}, len(moderators))
	for _, m := range moderators {
		if m = normalizeUsername(m); m != "" {
			allow[m] = struct{}{}
		}
	}
	return &UserService{
		repo:       repo,
		passwords:  passwords,
		codec:      codec,
		moderators: allow,
		logger:     logger,
	}
}

// Register validates in, hashes the password and stores the new user.
// Returns apperror.ErrConflict if the username is already taken.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	username := normalizeUsername(in.Username)
	if username == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}
	if !usernamePattern.MatchString(username) {
		return nil, apperror.ValidationFailed("username",
			"username must be 3-30 characters of letters, digits, '_', '.' or '-'")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}

	name := strings.TrimSpace(in.Name)
	if len(name) > MaxNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	email := strings.TrimSpace(in.Email)
	if email != "" && !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "email is not valid")
	}
	title := strings.TrimSpace(in.Title)
	if len(title) > MaxTitleLength {
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/user: %w", err)
	}

	id := xid.New()
	publicID, err := s.codec.Encode(id)
	if err != nil {
		return nil, fmt.Errorf("service/user: %w", err)
	}

	_, moderator := s.moderators[username]
	user := &model.User{
		ID:           id.String(),
		PublicID:     publicID,
		Username:     username,
		Name:         name,
		Email:        email,
		Title:        title,
		Avatar:       model.DefaultAvatar,
		PasswordHash: hash,
		IsModerator:  moderator,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		s.logger.Error("failed to create user",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return nil, storeErr("creating user", err)
	}

	s.logger.Info("user registered",
		slog.String("publicId", user.PublicID),
		slog.String("username", user.Username),
		slog.Bool("moderator", user.IsModerator),
	)
	return user, nil
}

// Lookup returns the user with the given username.
// Returns apperror.ErrNotFound if there is none.
func (s *UserService) Lookup(ctx context.Context, username string) (*model.User, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("user", username)
		}
		s.logger.Error("failed to look up user",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return nil, storeErr("loading user", err)
	}
	return user, nil
}

// Authenticate returns the user when password matches. Unknown users and
// wrong passwords both yield apperror.ErrUnauthorized.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.Lookup(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrValidation) {
			return nil, apperror.Unauthorized("invalid username or password")
		}
		return nil, err
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrMismatch) {
			s.logger.Error("unusable password hash",
				slog.String("username", user.Username),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.Unauthorized("invalid username or password")
	}
	return user, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// storeErr passes application errors through and marks anything else as a
// persistence failure.
func storeErr(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.StoreFailed(op, err)
}
