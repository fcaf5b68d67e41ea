package route

import (
	"encoding/json"
	"net/http"
)

// handlerError pairs an error with how it should be presented to the caller.
type handlerError struct {
	err error
	// msg is the human-readable context for the failure
	msg string
	// status is the HTTP status code to return
	status int
	// detailed appends err's own text to msg in the response
	detailed bool
	// friendly is false when msg could leak internals; the caller gets a
	// generic message instead
	friendly bool
}

var ErrGenericMessage = "unexpected error!"

var (
	ErrJSONFailed      = handlerError{nil, "failed to parse JSON", http.StatusBadRequest, false, true}
	ErrJSONBuildFailed = handlerError{nil, "failed to build JSON response", http.StatusInternalServerError, false, true}
	ErrPostBody        = handlerError{nil, "failed to read request body", http.StatusInternalServerError, false, false}
	ErrBodyTooLarge    = handlerError{nil, "request body too large", http.StatusRequestEntityTooLarge, false, true}
	ErrReqToMark       = handlerError{nil, "failed to parse mark request", http.StatusBadRequest, true, true}
	ErrReqToObserve    = handlerError{nil, "failed to parse observe request", http.StatusBadRequest, true, true}
	ErrKindConflict    = handlerError{nil, "metric kind conflict", http.StatusConflict, true, true}
	ErrMetricNotFound  = handlerError{nil, "unknown metric", http.StatusNotFound, true, true}
	ErrCaughtPanic     = handlerError{nil, "caught panic in handler", http.StatusInternalServerError, false, false}
)

func (r *Router) handlerReturnWithError(w http.ResponseWriter, he handlerError, err error) {
	if err != nil {
		he.err = err
	}
	r.Logger.Error().WithField("error.detail", he.err.Error()).Logf("returning error %s", he.msg)
	w.WriteHeader(he.status)
	errmsg := he.msg
	if he.detailed {
		errmsg += ": " + he.err.Error()
	}
	if !he.friendly {
		errmsg = ErrGenericMessage
	}
	// error text can carry quoted names, so let the encoder do the escaping
	jsonErrMsg, _ := json.Marshal(map[string]string{"error": errmsg})
	w.Write(jsonErrMsg)
}
