package links

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/sundayezeilo/linkshare/internal/auth"
	"github.com/sundayezeilo/linkshare/internal/errx"
	"github.com/sundayezeilo/linkshare/internal/httpx"
	"github.com/sundayezeilo/linkshare/internal/idgen"
	"github.com/sundayezeilo/linkshare/internal/preview"
)

// HTTPCreateLinkRequest represents the JSON request body for creating a link.
type HTTPCreateLinkRequest struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// HTTPUpdateLinkRequest represents the JSON request body for updating a link. URL is
// accepted only so that an attempt to change it gets a clear error.
type HTTPUpdateLinkRequest struct {
	URL         *string `json:"url,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// LinkResponse is the JSON form of a link.
type LinkResponse struct {
	ID            string           `json:"id"`
	URL           string           `json:"url"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	OwnerID       string           `json:"owner_id"`
	ClickCount    int64            `json:"click_count"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
	EditableUntil string           `json:"editable_until"`
	Preview       *preview.Preview `json:"preview"`
}

// ListLinksResponse wraps a page of links.
type ListLinksResponse struct {
	Links  []LinkResponse `json:"links"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Handler provides HTTP handlers for the link service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *slog.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service: cfg.Service,
		logger:  logger,
	}
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
}

// CreateLink handles POST /links.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	principal, ok := auth.FromContext(ctx)
	if !ok {
		h.handleError(ctx, logger, w, errx.E("links.handler.CreateLink", errx.Unauthorized, errors.New("no principal")))
		return
	}

	req, err := httpx.DecodeJSON[HTTPCreateLinkRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}

	link, err := h.service.Create(ctx, principal, CreateInput{
		URL:         req.URL,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		h.handleError(ctx, logger, w, err)
		return
	}

	logger.InfoContext(ctx, "link created successfully",
		"link_id", link.ID.String(),
		"user_id", principal.UserID,
	)

	httpx.WriteJSON(w, http.StatusCreated, h.toResponse(link))
}

// ListLinks handles GET /links?limit=&offset=.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	limit, err := queryInt(r, "limit")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}

	items, err := h.service.List(ctx, limit, offset)
	if err != nil {
		h.handleError(ctx, logger, w, err)
		return
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	httpx.WriteJSON(w, http.StatusOK, ListLinksResponse{
		Links:  lo.Map(items, func(l Link, _ int) LinkResponse { return h.toResponse(l) }),
		Limit:  min(limit, MaxListLimit),
		Offset: offset,
	})
}

// GetLink handles GET /links/{id}.
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	id, ok := h.linkID(w, r, logger)
	if !ok {
		return
	}

	link, err := h.service.Get(ctx, id)
	if err != nil {
		h.handleError(ctx, logger, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.toResponse(link))
}

// UpdateLink handles PATCH /links/{id}.
func (h *Handler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	principal, ok := auth.FromContext(ctx)
	if !ok {
		h.handleError(ctx, logger, w, errx.E("links.handler.UpdateLink", errx.Unauthorized, errors.New("no principal")))
		return
	}

	id, ok := h.linkID(w, r, logger)
	if !ok {
		return
	}

	req, err := httpx.DecodeJSON[HTTPUpdateLinkRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	if req.URL != nil {
		logger.WarnContext(ctx, "attempt to change link url", "link_id", id.String())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", "url cannot be changed", nil)
		return
	}

	link, err := h.service.Update(ctx, principal, id, Patch{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		h.handleError(ctx, logger, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.toResponse(link))
}

// DeleteLink handles DELETE /links/{id}.
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	principal, ok := auth.FromContext(ctx)
	if !ok {
		h.handleError(ctx, logger, w, errx.E("links.handler.DeleteLink", errx.Unauthorized, errors.New("no principal")))
		return
	}

	id, ok := h.linkID(w, r, logger)
	if !ok {
		return
	}

	if err := h.service.Delete(ctx, principal, id); err != nil {
		h.handleError(ctx, logger, w, err)
		return
	}

	httpx.WriteNoContent(w)
}

// RecordClick handles POST /links/{id}/click.
func (h *Handler) RecordClick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	id, ok := h.linkID(w, r, logger)
	if !ok {
		return
	}

	if err := h.service.RecordClick(ctx, id, httpx.ClientIP(r)); err != nil {
		h.handleError(ctx, logger, w, err)
		return
	}

	httpx.WriteNoContent(w)
}

func (h *Handler) linkID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := idgen.Parse(raw)
	if err != nil {
		logger.WarnContext(r.Context(), "invalid link id", "id", raw, "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", "invalid link id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) toResponse(l Link) LinkResponse {
	return LinkResponse{
		ID:            l.ID.String(),
		URL:           l.URL,
		Title:         l.Title,
		Description:   l.Description,
		OwnerID:       l.OwnerID,
		ClickCount:    l.ClickCount,
		CreatedAt:     l.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     l.UpdatedAt.UTC().Format(time.RFC3339),
		EditableUntil: h.service.EditableUntil(l).UTC().Format(time.RFC3339),
		Preview:       l.Preview,
	}
}

// handleError logs err at a level matching its kind and writes the response.
func (h *Handler) handleError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
	}

	switch kind {
	case errx.Invalid:
		logger.WarnContext(ctx, "invalid link request", logAttrs...)
	case errx.NotFound:
		logger.InfoContext(ctx, "link not found", logAttrs...)
	case errx.Unauthorized, errx.Forbidden:
		logger.WarnContext(ctx, "link access denied", logAttrs...)
	case errx.Expired:
		logger.InfoContext(ctx, "edit window closed", logAttrs...)
	case errx.Unavailable:
		logger.ErrorContext(ctx, "service unavailable", logAttrs...)
	default:
		logger.ErrorContext(ctx, "unexpected error handling link request", logAttrs...)
	}

	httpx.WriteErrx(w, err, "")
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}
