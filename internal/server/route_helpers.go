package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/ternarybob/agentstream/internal/handlers"
)

// methodRoutes dispatches one path to a handler per HTTP method.
type methodRoutes map[string]http.HandlerFunc

func (m methodRoutes) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if handler, ok := m[r.Method]; ok {
		handler(w, r)
		return
	}

	allowed := make([]string, 0, len(m))
	for method := range m {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	handlers.WriteError(w, http.StatusMethodNotAllowed, handlers.CodeInvalidRequest, "method "+r.Method+" not allowed")
}

// sessionActions maps the trailing segment of /api/agent/{session_id}/{action}
// to its routes. The empty action is the bare session path.
type sessionActions map[string]methodRoutes

// splitSessionPath splits prefix + "{session_id}[/{action}]". Session ids
// are a single non-empty segment and at most one action segment follows.
func splitSessionPath(path, prefix string) (sessionID, action string, ok bool) {
	rest, found := strings.CutPrefix(path, prefix)
	if !found || rest == "" {
		return "", "", false
	}

	sessionID, action, _ = strings.Cut(rest, "/")
	if sessionID == "" || strings.Contains(action, "/") {
		return "", "", false
	}
	return sessionID, action, true
}

// serve routes r to the action named by its path, reporting false when the
// path or action is unknown.
func (a sessionActions) serve(w http.ResponseWriter, r *http.Request, prefix string) bool {
	_, action, ok := splitSessionPath(r.URL.Path, prefix)
	if !ok {
		return false
	}
	routes, ok := a[action]
	if !ok {
		return false
	}
	routes.ServeHTTP(w, r)
	return true
}
