package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/automata/internal/model"
	"github.com/sakif/automata/internal/service"
)

// UserService is what the user handler needs from the service layer.
type UserService interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.User, error)
	Lookup(ctx context.Context, username string) (*model.User, error)
}

// Profile is the public view of a user; it leaves out the email address.
type Profile struct {
	PublicID    string    `json:"publicId"`
	Username    string    `json:"username"`
	Name        string    `json:"name"`
	Title       string    `json:"title"`
	Avatar      string    `json:"avatar"`
	IsModerator bool      `json:"isModerator"`
	CreatedAt   time.Time `json:"createdAt"`
}

func profileOf(u *model.User) Profile {
	return Profile{
		PublicID:    u.PublicID,
		Username:    u.Username,
		Name:        u.Name,
		Title:       u.Title,
		Avatar:      u.Avatar,
		IsModerator: u.IsModerator,
		CreatedAt:   u.CreatedAt,
	}
}

type UserHandler struct {
	service UserService
	logger  *slog.Logger
}

func NewUserHandler(svc UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: svc, logger: logger}
}

// HandleRegister handles POST /api/users.
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// HandleGet handles GET /api/users/{username}.
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Lookup(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileOf(user))
}

// HandleMe handles GET /api/me. It returns the full record, email included.
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}
