package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/penshort/shortlinker/internal/apperr"
	"github.com/penshort/shortlinker/internal/cache"
	"github.com/penshort/shortlinker/internal/model"
	"github.com/penshort/shortlinker/internal/reload"
	"github.com/penshort/shortlinker/internal/storage"
)

// PasswordHasher abstracts the argon2 hashing collaborator so the handler
// does not need to know its algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Deps are the collaborators the IPC handler dispatches commands to.
type Deps struct {
	Store     storage.Store
	Cache     *cache.Cache
	Reload    *reload.Coordinator
	Hasher    PasswordHasher
	Version   string
	StartedAt time.Time
	// Shutdown is started on its own goroutine when a Shutdown command is
	// dispatched, so it runs concurrently with the server writing the
	// ShuttingDown response. May be nil in tests that don't exercise
	// process lifecycle.
	Shutdown func()
}

// Handler dispatches decoded command envelopes to the core components and
// produces the matching response envelope. One Handler is shared by every
// connection; all state it touches is already safe for concurrent use.
type Handler struct {
	deps Deps
}

// NewHandler constructs a Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// Dispatch decodes env's payload according to its Type, runs the matching
// operation, and returns the response envelope. A panic-free, error-free
// return always yields *some* envelope — failures are reported as a
// RespError envelope, never as a Go error, since the wire protocol has no
// other way to carry them.
func (h *Handler) Dispatch(ctx context.Context, env Envelope) Envelope {
	switch env.Type {
	case CmdPing:
		return h.ping()
	case CmdGetStatus:
		return h.getStatus(ctx)
	case CmdShutdown:
		return h.shutdown()
	case CmdReload:
		return h.reload(ctx, env)
	case CmdAddLink:
		return h.addLink(ctx, env)
	case CmdRemoveLink:
		return h.removeLink(ctx, env)
	case CmdUpdateLink:
		return h.updateLink(ctx, env)
	case CmdGetLink:
		return h.getLink(ctx, env)
	case CmdListLinks:
		return h.listLinks(ctx, env)
	case CmdGetLinkStats:
		return h.getLinkStats(ctx)
	case CmdImportLinks:
		return h.importLinks(ctx, env)
	case CmdExportLinks:
		return h.exportLinks(ctx)
	default:
		return errEnvelope(apperr.ProtocolError, fmt.Sprintf("unknown command %q", env.Type))
	}
}

func errEnvelope(code apperr.Code, message string) Envelope {
	env, err := newEnvelope(RespError, ErrorPayload{Code: string(code), Message: message})
	if err != nil {
		// ErrorPayload always marshals; this path is unreachable in practice.
		return Envelope{Type: RespError}
	}
	return env
}

func mustEnvelope(typ string, payload any) Envelope {
	env, err := newEnvelope(typ, payload)
	if err != nil {
		return errEnvelope(apperr.Internal, err.Error())
	}
	return env
}

func decodePayload[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, fmt.Errorf("ipc: missing payload for %s", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("ipc: decode %s payload: %w", env.Type, err)
	}
	return v, nil
}

func (h *Handler) ping() Envelope {
	return mustEnvelope(RespPong, PongPayload{
		Version:    h.deps.Version,
		UptimeSecs: int64(time.Since(h.deps.StartedAt).Seconds()),
	})
}

func (h *Handler) getStatus(ctx context.Context) Envelope {
	status := h.deps.Reload.Status()
	linksCount := 0
	if all, err := h.deps.Store.LoadAll(ctx); err == nil {
		linksCount = len(all)
	}
	return mustEnvelope(RespStatus, StatusPayload{
		Version:          h.deps.Version,
		UptimeSecs:       int64(time.Since(h.deps.StartedAt).Seconds()),
		IsReloading:      status.IsReloading,
		LastDataReload:   status.LastDataReload,
		LastConfigReload: status.LastConfigReload,
		LinksCount:       linksCount,
	})
}

func (h *Handler) shutdown() Envelope {
	env := mustEnvelope(RespShuttingDown, nil)
	if h.deps.Shutdown != nil {
		go h.deps.Shutdown()
	}
	return env
}

func (h *Handler) reload(ctx context.Context, env Envelope) Envelope {
	payload, err := decodePayload[ReloadPayload](env)
	if err != nil {
		return errEnvelope(apperr.ProtocolError, err.Error())
	}

	outcome, err := h.deps.Reload.Reload(ctx, payload.Target)
	result := ReloadResultPayload{
		Success:    outcome.Success,
		Target:     payload.Target,
		DurationMs: outcome.Duration.Milliseconds(),
	}
	if err != nil {
		result.Message = err.Error()
	}
	return mustEnvelope(RespReloadResult, result)
}

func (h *Handler) addLink(ctx context.Context, env Envelope) Envelope {
	payload, err := decodePayload[AddLinkPayload](env)
	if err != nil {
		return errEnvelope(apperr.ProtocolError, err.Error())
	}

	generated := false
	code := payload.Code
	if code == "" {
		code = ulid.Make().String()
		generated = true
	}

	if !payload.Force {
		if existing, err := h.deps.Store.Get(ctx, code); err == nil && existing != nil {
			return errEnvelope(apperr.AlreadyExists, fmt.Sprintf("code %q already exists", code))
		}
	}

	link := &model.ShortLink{
		ID:        ulid.Make().String(),
		Code:      code,
		Target:    payload.Target,
		CreatedAt: time.Now(),
		ExpiresAt: payload.ExpiresAt,
	}
	if payload.Password != "" {
		hash, err := h.deps.Hasher.Hash(payload.Password)
		if err != nil {
			return errEnvelope(apperr.Internal, "failed to hash password")
		}
		link.PasswordHash = &hash
	}

	if err := h.deps.Store.Upsert(ctx, link); err != nil {
		return errEnvelope(apperr.CodeOf(err), err.Error())
	}
	h.deps.Cache.Insert(link)

	return mustEnvelope(RespLinkCreated, LinkCreatedPayload{Link: link, GeneratedCode: generated})
}

func (h *Handler) removeLink(ctx context.Context, env Envelope) Envelope {
	payload, err := decodePayload[RemoveLinkPayload](env)
	if err != nil {
		return errEnvelope(apperr.ProtocolError, err.Error())
	}

	if err := h.deps.Store.Remove(ctx, payload.Code); err != nil {
		if err == storage.ErrNotFound {
			return errEnvelope(apperr.NotFound, fmt.Sprintf("code %q not found", payload.Code))
		}
		return errEnvelope(apperr.CodeOf(err), err.Error())
	}
	h.deps.Cache.Invalidate(payload.Code)
	h.deps.Cache.MarkAbsent(payload.Code)

	return mustEnvelope(RespLinkDeleted, LinkDeletedPayload{Code: payload.Code})
}

func (h *Handler) updateLink(ctx context.Context, env Envelope) Envelope {
	payload, err := decodePayload[UpdateLinkPayload](env)
	if err != nil {
		return errEnvelope(apperr.ProtocolError, err.Error())
	}

	existing, err := h.deps.Store.Get(ctx, payload.Code)
	if err != nil {
		if err == storage.ErrNotFound {
			return errEnvelope(apperr.NotFound, fmt.Sprintf("code %q not found", payload.Code))
		}
		return errEnvelope(apperr.CodeOf(err), err.Error())
	}

	existing.Target = payload.Target
	existing.ExpiresAt = payload.ExpiresAt
	if payload.Password != "" {
		hash, err := h.deps.Hasher.Hash(payload.Password)
		if err != nil {
			return errEnvelope(apperr.Internal, "failed to hash password")
		}
		existing.PasswordHash = &hash
	}

	if err := h.deps.Store.Upsert(ctx, existing); err != nil {
		return errEnvelope(apperr.CodeOf(err), err.Error())
	}
	h.deps.Cache.Insert(existing)

	return mustEnvelope(RespLinkUpdated, LinkUpdatedPayload{Link: existing})
}

func (h *Handler) getLink(ctx context.Context, env Envelope) Envelope {
	payload, err := decodePayload[GetLinkPayload](env)
	if err != nil {
		return errEnvelope(apperr.ProtocolError, err.Error())
	}

	link, err := h.deps.Store.Get(ctx, payload.Code)
	if err != nil {
		if err == storage.ErrNotFound {
			return mustEnvelope(RespLinkFound, LinkFoundPayload{})
		}
		return errEnvelope(apperr.CodeOf(err), err.Error())
	}
	return mustEnvelope(RespLinkFound, LinkFoundPayload{Link: link})
}

func (h *Handler) listLinks(ctx context.Context, env Envelope) Envelope {
	payload, err := decodePayload[ListLinksPayload](env)
	if err != nil {
		return errEnvelope(apperr.ProtocolError, err.Error())
	}
	if payload.Page < 1 {
		payload.Page = 1
	}
	if payload.PageSize < 1 {
		payload.PageSize = 20
	}

	all, err := h.deps.Store.LoadAll(ctx)
	if err != nil {
		return errEnvelope(apperr.CodeOf(err), err.Error())
	}

	matched := make([]*model.ShortLink, 0, len(all))
	for _, link := range all {
		if payload.Search == "" || containsFold(link.Code, payload.Search) || containsFold(link.Target, payload.Search) {
			matched = append(matched, link)
		}
	}

	start := (payload.Page - 1) * payload.PageSize
	end := start + payload.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}

	return mustEnvelope(RespLinkList, LinkListPayload{
		Links:    matched[start:end],
		Total:    len(matched),
		Page:     payload.Page,
		PageSize: payload.PageSize,
	})
}

func (h *Handler) getLinkStats(ctx context.Context) Envelope {
	all, err := h.deps.Store.LoadAll(ctx)
	if err != nil {
		return errEnvelope(apperr.CodeOf(err), err.Error())
	}

	stats := StatsResultPayload{TotalLinks: len(all)}
	for _, link := range all {
		stats.TotalClicks += int(link.Click)
		if !link.IsExpired() {
			stats.ActiveLinks++
		}
	}
	return mustEnvelope(RespStatsResult, stats)
}

func (h *Handler) importLinks(ctx context.Context, env Envelope) Envelope {
	payload, err := decodePayload[ImportLinksPayload](env)
	if err != nil {
		return errEnvelope(apperr.ProtocolError, err.Error())
	}

	result := ImportResultPayload{}
	for _, link := range payload.Links {
		if link.Code == "" || link.Target == "" {
			result.Failed++
			result.Errors = append(result.Errors, "link missing code or target")
			continue
		}
		if !payload.Overwrite {
			if existing, err := h.deps.Store.Get(ctx, link.Code); err == nil && existing != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("code %q already exists", link.Code))
				continue
			}
		}
		if link.ID == "" {
			link.ID = ulid.Make().String()
		}
		if err := h.deps.Store.Upsert(ctx, link); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("code %q: %v", link.Code, err))
			continue
		}
		h.deps.Cache.Insert(link)
		result.Success++
	}

	return mustEnvelope(RespImportResult, result)
}

func (h *Handler) exportLinks(ctx context.Context) Envelope {
	all, err := h.deps.Store.LoadAll(ctx)
	if err != nil {
		return errEnvelope(apperr.CodeOf(err), err.Error())
	}
	links := make([]*model.ShortLink, 0, len(all))
	for _, link := range all {
		links = append(links, link)
	}
	return mustEnvelope(RespExportResult, ExportResultPayload{Links: links})
}

func containsFold(haystack, needle string) bool {
	return len(needle) == 0 || strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
