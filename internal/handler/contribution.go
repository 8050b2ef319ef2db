package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/automata/internal/apperror"
	"github.com/sakif/automata/internal/auth"
	"github.com/sakif/automata/internal/model"
	"github.com/sakif/automata/internal/service"
)

// ContributionService is what the contribution handler needs from the
// service layer. *service.ContributionService satisfies it.
type ContributionService interface {
	Submit(ctx context.Context, in service.SubmitInput, authorUsername string) (*model.Contribution, error)
	Fetch(ctx context.Context, publicID string) (*model.Contribution, error)
	ListRecent(ctx context.Context, limit, offset int) ([]model.Contribution, error)
	ListByTag(ctx context.Context, tag string, limit, offset int) ([]model.Contribution, error)
	ListByAuthor(ctx context.Context, username string, limit, offset int) ([]model.Contribution, error)
	RateToggle(ctx context.Context, publicID, username string) (*service.RateResult, error)
	Edit(ctx context.Context, publicID, username string, patch service.DataPatch) (*model.ContributionData, error)
	AppendMessage(ctx context.Context, publicID, username, content string) (*service.MessageReceipt, error)
	DeleteMessage(ctx context.Context, publicID, username, messageID string) (*service.DeleteResult, error)
	Review(ctx context.Context, publicID, reviewerUsername string, in service.ReviewInput) (*model.Review, error)
	Delete(ctx context.Context, publicID, username string) (*service.DeleteResult, error)
}

var _ ContributionService = (*service.ContributionService)(nil)

type ContributionHandler struct {
	service ContributionService
	logger  *slog.Logger
}

func NewContributionHandler(svc ContributionService, logger *slog.Logger) *ContributionHandler {
	return &ContributionHandler{service: svc, logger: logger}
}

type messageRequest struct {
	Content string `json:"content"`
}

// HandleList handles GET /api/contributions.
//
// Query parameters: limit, offset, and at most one of tag or author.
func (h *ContributionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	tag, author := q.Get("tag"), q.Get("author")

	var list []model.Contribution
	switch {
	case tag != "" && author != "":
		writeError(w, apperror.ValidationFailed("tag", "filter by tag or by author, not both"))
		return
	case tag != "":
		list, err = h.service.ListByTag(r.Context(), tag, limit, offset)
	case author != "":
		list, err = h.service.ListByAuthor(r.Context(), author, limit, offset)
	default:
		list, err = h.service.ListRecent(r.Context(), limit, offset)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGet handles GET /api/contributions/{publicId}.
func (h *ContributionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Fetch(r.Context(), chi.URLParam(r, "publicId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleSubmit handles POST /api/contributions.
func (h *ContributionHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in service.SubmitInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, err)
		return
	}

	c, err := h.service.Submit(r.Context(), in, user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/contributions/"+c.PublicID)
	writeJSON(w, http.StatusCreated, c)
}

// HandleEdit handles PATCH /api/contributions/{publicId}.
func (h *ContributionHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var patch service.DataPatch
	if err := decodeJSON(w, r, &patch, false); err != nil {
		writeError(w, err)
		return
	}

	data, err := h.service.Edit(r.Context(), chi.URLParam(r, "publicId"), user.Username, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// HandleDelete handles DELETE /api/contributions/{publicId}.
func (h *ContributionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	res, err := h.service.Delete(r.Context(), chi.URLParam(r, "publicId"), user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleRate handles POST /api/contributions/{publicId}/rate.
func (h *ContributionHandler) HandleRate(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	res, err := h.service.RateToggle(r.Context(), chi.URLParam(r, "publicId"), user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleAddMessage handles POST /api/contributions/{publicId}/messages.
func (h *ContributionHandler) HandleAddMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	receipt, err := h.service.AppendMessage(r.Context(), chi.URLParam(r, "publicId"), user.Username, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// HandleDeleteMessage handles DELETE /api/contributions/{publicId}/messages/{messageId}.
func (h *ContributionHandler) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	res, err := h.service.DeleteMessage(r.Context(),
		chi.URLParam(r, "publicId"), user.Username, chi.URLParam(r, "messageId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleReview handles PUT /api/contributions/{publicId}/review.
// An empty body records a rejection without a message.
func (h *ContributionHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in service.ReviewInput
	if err := decodeJSON(w, r, &in, true); err != nil {
		writeError(w, err)
		return
	}

	review, err := h.service.Review(r.Context(), chi.URLParam(r, "publicId"), user.Username, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

// requireUser fetches the authenticated user placed in the context by
// auth.RequireUser, answering 401 if there is none.
func requireUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid credentials required"))
		return nil, false
	}
	return user, true
}
