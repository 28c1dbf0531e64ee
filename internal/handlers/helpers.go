package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Response codes carried in the envelope's msg field
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeInvalidJSON           = "INVALID_JSON"
	CodeSessionNotFound       = "SESSION_NOT_FOUND"
	CodeAgentStarted          = "AGENT_STARTED"
	CodeStatusRetrieved       = "AGENT_STATUS_RETRIEVED"
	CodeAllStatusesRetrieved  = "ALL_AGENT_STATUSES_RETRIEVED"
	CodeHistoryRetrieved      = "AGENT_HISTORY_RETRIEVED"
	CodeAgentDeleted          = "AGENT_DELETED"
	CodeSelectorsCaptured     = "SELECTORS_CAPTURED"
	CodeResponseDelivered     = "HUMAN_RESPONSE_DELIVERED"
	CodeNoPendingQuestion     = "NO_PENDING_QUESTION"
	CodeInvalidState          = "INVALID_STATE"
	CodeDetailsGenerated      = "DETAILS_GENERATED"
	CodeResponseParsingFailed = "RESPONSE_PARSING_FAILED"
	CodeUnexpectedError       = "UNEXPECTED_ERROR"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 10 << 20

// validate is shared by every handler; validator caches struct metadata
var validate = validator.New(validator.WithRequiredStructEnabled())

// Envelope is the shape of every JSON API response
type Envelope struct {
	Error bool        `json:"error"`
	Msg   string      `json:"msg"`
	Data  interface{} `json:"data"`
}

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, fmt.Sprintf("method %s not allowed", r.Method))
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a success envelope.
func WriteSuccess(w http.ResponseWriter, code string, data interface{}) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	return WriteJSON(w, http.StatusOK, Envelope{Error: false, Msg: code, Data: data})
}

// WriteError writes an error envelope with a human-readable detail.
func WriteError(w http.ResponseWriter, statusCode int, code string, detail string) error {
	data := map[string]interface{}{}
	if detail != "" {
		data["detail"] = detail
	}
	return WriteJSON(w, statusCode, Envelope{Error: true, Msg: code, Data: data})
}

// DecodeJSON reads a JSON body into v and validates it.
// On failure the error envelope is already written and false is returned.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "failed to read request body")
		return false
	}

	if err := json.Unmarshal(body, v); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidJSON, err.Error())
		return false
	}

	if err := validate.Struct(v); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, validationDetail(err))
		return false
	}
	return true
}

// validationDetail flattens validator errors into "field: tag" pairs
func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// PathParam returns the path segment after prefix, up to the next slash.
// PathParam("/api/agent/abc/status", "/api/agent/") returns "abc".
func PathParam(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return ""
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// QueryInt parses an integer query parameter, returning fallback when absent or invalid
func QueryInt(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
