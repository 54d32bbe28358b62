package handler

import "net/http"

// NotFound renders a uniform JSON 404 for routes the router itself
// couldn't match (as opposed to an unresolved code, which RedirectHandler
// handles).
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
}

// MethodNotAllowed renders a uniform JSON 405.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
}
