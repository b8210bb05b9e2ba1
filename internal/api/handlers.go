package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/pkg/httputil"
	"github.com/ignite/fanmail/internal/pkg/logger"
	"github.com/ignite/fanmail/internal/quota"
	"github.com/ignite/fanmail/internal/segmentation"
	"github.com/ignite/fanmail/internal/service/segment"
	"github.com/ignite/fanmail/internal/service/sending"
)

// AccountHeader carries the caller's account id. Authentication happens
// upstream; this service only scopes by it.
const AccountHeader = "X-Account-ID"

type accountKey struct{}

func requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(AccountHeader))
		if id == "" {
			respondSendError(w, r, sending.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, id)))
	})
}

func accountID(r *http.Request) string {
	id, _ := r.Context().Value(accountKey{}).(string)
	return id
}

// Sends is the part of sending.Service the handlers call.
type Sends interface {
	EnqueueCampaignSend(ctx context.Context, accountID, campaignID string, opts sending.SendOptions) (*sending.EnqueueResult, error)
	RetryFailed(ctx context.Context, accountID, campaignID string) (*sending.EnqueueResult, error)
	GetJobStatus(ctx context.Context, accountID, jobID string) (*sending.JobStatus, error)
	Pause(ctx context.Context, accountID, jobID string) (*sending.JobStatus, error)
	Resume(ctx context.Context, accountID, jobID string) (*sending.JobStatus, error)
}

// Segments creates segments.
type Segments interface {
	Create(ctx context.Context, accountID string, in segment.CreateInput) (*domain.Segment, error)
}

// QuotaStats reports counters for a quota subject.
type QuotaStats interface {
	Stats(ctx context.Context, subject string) (quota.Stats, error)
}

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	sends    Sends
	segments Segments
	quota    QuotaStats
	quotaKey string
}

// NewHandlers creates handlers. quotaKey is the subject reported by
// GET /api/quota.
func NewHandlers(sends Sends, segments Segments, q QuotaStats, quotaKey string) *Handlers {
	return &Handlers{sends: sends, segments: segments, quota: q, quotaKey: quotaKey}
}

// SendCampaign queues a campaign send.
//
//	POST /api/campaigns/{id}/send
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	var opts sending.SendOptions
	if !httputil.Decode(w, r, &opts) {
		return
	}
	res, err := h.sends.EnqueueCampaignSend(r.Context(), accountID(r), chi.URLParam(r, "id"), opts)
	if err != nil {
		respondSendError(w, r, err)
		return
	}
	httputil.Accepted(w, res)
}

// RetryFailed queues the failed recipients of the campaign's last job.
//
//	POST /api/campaigns/{id}/retry-failed
func (h *Handlers) RetryFailed(w http.ResponseWriter, r *http.Request) {
	res, err := h.sends.RetryFailed(r.Context(), accountID(r), chi.URLParam(r, "id"))
	if err != nil {
		respondSendError(w, r, err)
		return
	}
	httputil.Accepted(w, res)
}

// JobStatus returns a job snapshot.
//
//	GET /api/queue/status?jobId=
func (h *Handlers) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		httputil.BadRequest(w, "jobId is required")
		return
	}
	st, err := h.sends.GetJobStatus(r.Context(), accountID(r), jobID)
	if err != nil {
		respondSendError(w, r, err)
		return
	}
	httputil.OK(w, st)
}

// PauseJob stops a job between batches.
//
//	POST /api/queue/{jobId}/pause
func (h *Handlers) PauseJob(w http.ResponseWriter, r *http.Request) {
	st, err := h.sends.Pause(r.Context(), accountID(r), chi.URLParam(r, "jobId"))
	if err != nil {
		respondSendError(w, r, err)
		return
	}
	httputil.OK(w, st)
}

// ResumeJob requeues a paused job.
//
//	POST /api/queue/{jobId}/resume
func (h *Handlers) ResumeJob(w http.ResponseWriter, r *http.Request) {
	st, err := h.sends.Resume(r.Context(), accountID(r), chi.URLParam(r, "jobId"))
	if err != nil {
		respondSendError(w, r, err)
		return
	}
	httputil.OK(w, st)
}

type createSegmentResponse struct {
	Segment  *domain.Segment `json:"segment"`
	FanCount int             `json:"fan_count"`
}

// CreateSegment validates and stores a segment, returning its size.
//
//	POST /api/segments
func (h *Handlers) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var in segment.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	seg, err := h.segments.Create(r.Context(), accountID(r), in)
	if err != nil {
		if errors.Is(err, segment.ErrInvalid) {
			var details any
			var ve *segmentation.ValidationError
			if errors.As(err, &ve) {
				details = map[string]any{"index": ve.Index, "reason": ve.Reason}
			}
			httputil.ErrorWithCode(w, http.StatusBadRequest, "validation_failed", err.Error(), details)
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, createSegmentResponse{Segment: seg, FanCount: seg.FanCount})
}

// QuotaStats reports today's and the current window's usage.
//
//	GET /api/quota
func (h *Handlers) QuotaStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.quota.Stats(r.Context(), h.quotaKey)
	if err != nil {
		logger.Error("quota stats failed", "subject", h.quotaKey, "error", err)
		httputil.ErrorWithCode(w, sending.ErrQuotaUnavailable.Status,
			sending.ErrQuotaUnavailable.Code, sending.ErrQuotaUnavailable.Message, nil)
		return
	}
	httputil.OK(w, st)
}
