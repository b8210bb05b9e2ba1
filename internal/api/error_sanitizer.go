package api

import (
	"errors"
	"net/http"

	"github.com/ignite/fanmail/internal/pkg/httputil"
	"github.com/ignite/fanmail/internal/pkg/logger"
	"github.com/ignite/fanmail/internal/service/sending"
)

// respondSendError renders a send failure as the error envelope. The
// message always comes from the taxonomy entry, never from the wrapped
// cause, so storage and provider details stay in the logs.
func respondSendError(w http.ResponseWriter, r *http.Request, err error) {
	var se *sending.Error
	if !errors.As(err, &se) {
		httputil.InternalError(w, err)
		return
	}

	if se.Status >= http.StatusInternalServerError {
		logger.Error("send request failed",
			"path", r.URL.Path,
			"code", se.Code,
			"error", err,
		)
	}

	var details any
	if se.Remaining != nil {
		details = map[string]int{"remaining": *se.Remaining}
	}
	httputil.ErrorWithCode(w, se.Status, se.Code, se.Message, details)
}
