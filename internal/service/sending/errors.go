package sending

import (
	"fmt"
	"net/http"
)

// Error is a caller-facing send failure. Every Error matches, via
// errors.Is, the sentinel with the same Code.
type Error struct {
	Code      string
	Message   string
	Status    int
	Remaining *int
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Is matches on Code so that detail-carrying copies still match sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Unwrap() error { return e.cause }

func sentinel(code string, status int, msg string) *Error {
	return &Error{Code: code, Status: status, Message: msg}
}

// Sentinel errors. Codes are stable API identifiers.
var (
	ErrUnauthorized         = sentinel("unauthorized", http.StatusForbidden, "unauthorized")
	ErrNotFound             = sentinel("not_found", http.StatusNotFound, "not found")
	ErrSegmentNotFound      = sentinel("segment_not_found", http.StatusNotFound, "segment not found")
	ErrAlreadySent          = sentinel("already_sent", http.StatusBadRequest, "campaign has already been sent")
	ErrAlreadyQueued        = sentinel("already_queued", http.StatusConflict, "campaign already has a send in progress")
	ErrMissingContent       = sentinel("missing_content", http.StatusBadRequest, "campaign needs a subject and content before sending")
	ErrUnverifiedDomain     = sentinel("unverified_domain", http.StatusBadRequest, "sending domain is not verified")
	ErrNoEligibleRecipients = sentinel("no_eligible_recipients", http.StatusBadRequest, "no eligible recipients")
	ErrInsufficientQuota    = sentinel("insufficient_quota", http.StatusBadRequest, "insufficient daily quota for this send")
	ErrJobTerminal          = sentinel("job_terminal", http.StatusConflict, "send job has already finished")
	ErrJobBusy              = sentinel("job_busy", http.StatusConflict, "send job is processing a batch, try again")
	ErrQuotaUnavailable     = sentinel("quota_unavailable", http.StatusServiceUnavailable, "quota service unavailable")
	ErrQueueDispatch        = sentinel("queue_dispatch_failed", http.StatusInternalServerError, "send could not be queued")
	ErrInternal             = sentinel("internal_error", http.StatusInternalServerError, "internal error")
)

func insufficientQuota(remaining, needed int) *Error {
	return &Error{
		Code:      ErrInsufficientQuota.Code,
		Status:    ErrInsufficientQuota.Status,
		Message:   fmt.Sprintf("insufficient daily quota: %d remaining, %d needed", remaining, needed),
		Remaining: &remaining,
	}
}

// wrap returns a copy of s carrying cause for logs. The cause never reaches
// API clients.
func wrap(s *Error, cause error) *Error {
	cp := *s
	cp.cause = cause
	return &cp
}
