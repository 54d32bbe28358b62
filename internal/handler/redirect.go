// Package handler hosts the thin HTTP glue that composes the cache, click
// manager and storage façade into responses.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/penshort/shortlinker/internal/cache"
	"github.com/penshort/shortlinker/internal/clickmanager"
	"github.com/penshort/shortlinker/internal/model"
	"github.com/penshort/shortlinker/internal/storage"
)

// PasswordGate is an optional collaborator consulted before a password
// protected link is served. A nil PasswordGate means no enforcement is
// configured and protected links redirect like any other.
type PasswordGate interface {
	Check(r *http.Request, link *model.ShortLink) bool
}

// RedirectHandler serves GET/HEAD /<code>, consulting the composite cache
// first and falling back to storage on a cache miss.
type RedirectHandler struct {
	cache      *cache.Cache
	store      storage.Store
	clicks     *clickmanager.Manager
	gate       PasswordGate
	defaultURL string
	logger     *slog.Logger
}

// NewRedirectHandler constructs a RedirectHandler. defaultURL may be empty,
// in which case unresolved codes get a plain 404.
func NewRedirectHandler(c *cache.Cache, store storage.Store, clicks *clickmanager.Manager, gate PasswordGate, defaultURL string, logger *slog.Logger) *RedirectHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedirectHandler{cache: c, store: store, clicks: clicks, gate: gate, defaultURL: defaultURL, logger: logger}
}

// ServeHTTP resolves the path's code and issues a 307 to its target, the
// default URL, or a 404.
func (h *RedirectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := extractCode(r.URL.Path)
	if code == "" {
		h.fallback(w, r)
		return
	}

	link, ok := h.resolve(r.Context(), code)
	if !ok {
		h.fallback(w, r)
		return
	}

	if h.gate != nil && link.HasPassword() && !h.gate.Check(r, link) {
		http.Error(w, "password required", http.StatusUnauthorized)
		return
	}

	h.clicks.Increment(code)
	http.Redirect(w, r, link.Target, http.StatusTemporaryRedirect)
}

// resolve consults the negative and object caches via Cache.Get, falls
// through to storage only on Unknown, and back-fills the cache either way
// so the next request is served without a storage round trip.
func (h *RedirectHandler) resolve(ctx context.Context, code string) (*model.ShortLink, bool) {
	switch h.cache.Get(code) {
	case cache.Found:
		link, ok := h.cache.Peek(code)
		if !ok || link.IsExpired() {
			return nil, false
		}
		return link, true
	case cache.KnownAbsent:
		return nil, false
	}

	link, err := h.store.Get(ctx, code)
	if err != nil {
		if err == storage.ErrNotFound {
			h.cache.MarkAbsent(code)
		} else {
			h.logger.Error("redirect: storage lookup failed", "code", code, "error", err)
		}
		return nil, false
	}

	if link.IsExpired() {
		return nil, false
	}

	h.cache.Insert(link)
	return link, true
}

func (h *RedirectHandler) fallback(w http.ResponseWriter, r *http.Request) {
	if h.defaultURL != "" {
		http.Redirect(w, r, h.defaultURL, http.StatusTemporaryRedirect)
		return
	}
	http.NotFound(w, r)
}

func extractCode(path string) string {
	if len(path) < 2 || path[0] != '/' {
		return ""
	}
	return path[1:]
}
