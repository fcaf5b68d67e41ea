package route

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/flowmetrics/flowmeter/types"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// panicCatcher recovers any panics, sets a 500, and returns an obvious error
func (r *Router) panicCatcher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rcvr := recover(); rcvr != nil {
				err, ok := rcvr.(error)

				if !ok {
					err = fmt.Errorf("caught panic: %v", rcvr)
				}

				r.handlerReturnWithError(w, ErrCaughtPanic, err)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// requestLogger logs one debug line per request and marks the request meter
func (r *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		arrivalTime := time.Now()

		// generate a request ID and put it in the context for logging
		reqID := uuid.NewString()
		req = req.WithContext(context.WithValue(req.Context(), types.RequestIDContextKey{}, reqID))

		wrapped := statusRecorder{w, 200}
		next.ServeHTTP(&wrapped, req)

		if r.httpRequests != nil {
			r.httpRequests.Mark(1)
		}

		r.Logger.Debug().WithFields(map[string]any{
			"request_id":  reqID,
			"remote_addr": req.RemoteAddr,
			"method":      req.Method,
			"url":         req.URL.String(),
			"duration_ms": float64(time.Since(arrivalTime)) / float64(time.Millisecond),
			"status":      wrapped.status,
		}).Logf("handled %s request", mux.CurrentRoute(req).GetName())
	})
}

func (r *Router) setResponseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {

		// Set content type header early so it's before any calls to WriteHeader
		w.Header().Set("Content-Type", "application/json")

		// Allow cross-origin API operation from browser js
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, req)

	})
}

// limitRequestBody caps how much of an ingest body we are willing to read.
func (r *Router) limitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if max := r.Config.GetMaxBodySize(); max > 0 {
			req.Body = http.MaxBytesReader(w, req.Body, max)
		}
		next.ServeHTTP(w, req)
	})
}
