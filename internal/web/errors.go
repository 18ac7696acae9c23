package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err) or respondStatus(w, r, err, status)
//  3. Error is mapped via core.MapError to a message, an action and a code
//  4. Technical error is logged with the request ID for correlation
//  5. The client gets JSON on /api routes and plain text elsewhere

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/sukl/internal/core"
	"github.com/JonMunkholm/sukl/internal/logging"
)

// errBadRequest marks client input errors that have no sentinel in core.
var errBadRequest = errors.New("bad request")

// requestError is a client input error whose message is safe to show.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Is(target error) bool { return target == errBadRequest }

var rateLimitMessage = core.MapError(errors.New("rate limit exceeded"))

// ErrorResponse represents the JSON structure for API error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError picks the status from the error and responds.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondStatus(w, r, err, statusFor(err))
}

// respondStatus logs err and writes the mapped message with statusCode.
func respondStatus(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		userMsg = core.UserMessage{
			Message: reqErr.msg,
			Action:  "Fix the request and try again",
			Code:    "REQ001",
		}
	}

	if wantsJSON(r) {
		respondErrorJSON(w, userMsg, statusCode)
	} else {
		http.Error(w, userMsg.Message+" ("+userMsg.Code+")", statusCode)
	}
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor maps known errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrUnknownDataset):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyImports),
		errors.Is(err, core.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// badRequest wraps a validation message so statusFor returns 400.
func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	// API routes default to JSON
	return strings.HasPrefix(r.URL.Path, "/api/")
}
