// Package rest is the operator surface: dead-letter triage, a manual
// submission intake, and health/readiness probes. The contestant-facing
// API lives in another service; nothing here is exposed publicly.
package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/contracts/message"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	appctx "github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/context"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/transport/rest/response"
)

// AdminAPI is the slice of the admin service the handlers consume.
type AdminAPI interface {
	ListDLQ(ctx context.Context, filter domain.DLQFilter, page, perPage int) ([]domain.DLQEntry, int64, error)
	GetDLQEntry(ctx context.Context, id int64) (*domain.DLQEntry, error)
	DLQStats(ctx context.Context) (*domain.DLQStats, error)
	Resolve(ctx context.Context, id int64, resolvedBy string) error
	ResolveMany(ctx context.Context, ids []int64, resolvedBy string) (int64, error)
	RetryEntry(ctx context.Context, id int64, resolvedBy string) (*domain.DLQEntry, error)
	SubmitAndDispatch(ctx context.Context, sub *domain.Submission, snap *domain.ProblemSnapshot) (string, error)
	GetSubmission(ctx context.Context, id int32) (*domain.Submission, error)
}

type Handler struct {
	svc      AdminAPI
	validate *validator.Validate
}

func NewHandler(svc AdminAPI) *Handler {
	return &Handler{svc: svc, validate: newValidator()}
}

func (h *Handler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter domain.DLQFilter
	if s := strings.TrimSpace(q.Get("message_type")); s != "" {
		if s != message.TypeJudgeJob && s != message.TypeJudgeResult {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid message_type", map[string]string{
				"message_type": "must be judge_job or judge_result",
			})
			return
		}
		filter.MessageType = &s
	}
	if s := strings.TrimSpace(q.Get("resolved")); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid resolved", map[string]string{
				"resolved": "must be true or false",
			})
			return
		}
		filter.Resolved = &b
	}

	page := parsePositiveInt(q.Get("page"), 1)
	perPage := parsePositiveInt(q.Get("per_page"), 20)

	entries, total, err := h.svc.ListDLQ(r.Context(), filter, page, perPage)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.DLQEntry{}
	}
	response.Data(w, http.StatusOK, listDLQResponse{
		Items:   entries,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

func (h *Handler) DLQStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.DLQStats(r.Context())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, stats)
}

func (h *Handler) GetDLQEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.svc.GetDLQEntry(r.Context(), id)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, entry)
}

func (h *Handler) ResolveEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeResolve(w, r)
	if !ok {
		return
	}
	if err := h.svc.Resolve(r.Context(), id, req.ResolvedBy); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

func (h *Handler) BulkResolve(w http.ResponseWriter, r *http.Request) {
	var req bulkResolveRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		failValidation(w, r, err)
		return
	}
	n, err := h.svc.ResolveMany(r.Context(), req.IDs, req.ResolvedBy)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"resolved_count": n})
}

// RetryEntry republishes the stored payload and resolves the entry. A
// publish failure maps to 502, leaving the entry retryable.
func (h *Handler) RetryEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeResolve(w, r)
	if !ok {
		return
	}
	entry, err := h.svc.RetryEntry(r.Context(), id, req.ResolvedBy)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, entry)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		failValidation(w, r, err)
		return
	}

	sub, snap := req.toDomain()
	jobID, err := h.svc.SubmitAndDispatch(r.Context(), sub, snap)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusAccepted, map[string]any{
		"submission_id": sub.ID,
		"job_id":        jobID,
		"status":        sub.Status,
	})
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid id", map[string]string{
			"id": "must be a positive integer",
		})
		return
	}
	sub, err := h.svc.GetSubmission(r.Context(), int32(id))
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toSubmissionResponse(sub))
}

// decodeResolve reads the optional {resolved_by} body. A missing body is
// fine; a present but malformed one is not.
func (h *Handler) decodeResolve(w http.ResponseWriter, r *http.Request) (resolveRequest, bool) {
	var req resolveRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return req, false
	}
	if err := h.validate.Struct(&req); err != nil {
		failValidation(w, r, err)
		return req, false
	}
	return req, true
}

func entryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid id", map[string]string{
			"id": "must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func parsePositiveInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return def
	}
	return n
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fail(w, r, http.StatusNotFound, "not_found", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrAlreadyResolved):
		fail(w, r, http.StatusConflict, "already_resolved", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrRateLimited):
		fail(w, r, http.StatusTooManyRequests, "rate_limited", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrSizeLimitExceeded):
		fail(w, r, http.StatusBadRequest, "size_limit_exceeded", err.Error(), nil)
		return
	}

	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case domain.ErrCodeInvalidInput:
			fail(w, r, http.StatusBadRequest, "invalid_input", appErr.Message, nil)
			return
		case domain.ErrCodeConnection:
			fail(w, r, http.StatusBadGateway, "broker_unavailable", appErr.Message, nil)
			return
		case domain.ErrCodeTransient, domain.ErrCodeBusiness:
			fail(w, r, http.StatusServiceUnavailable, "temporarily_unavailable", appErr.Message, nil)
			return
		}
	}

	// keep details in logs only
	log := logger.WithCtx(r.Context())
	log.Error().Err(err).Msg("unhandled error")
	fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
}

func failValidation(w http.ResponseWriter, r *http.Request, err error) {
	meta := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			meta[fe.Field()] = fe.Tag()
		}
	}
	fail(w, r, http.StatusBadRequest, "request.invalid", "validation failed", meta)
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	response.Fail(w, status, code, message, meta, appctx.GetRequestID(r.Context()))
}
