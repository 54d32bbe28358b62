package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/penshort/shortlinker/internal/cache"
	"github.com/penshort/shortlinker/internal/model"
	"github.com/penshort/shortlinker/internal/reload"
	"github.com/penshort/shortlinker/internal/storage"
)

type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

type noopReloader struct{}

func (noopReloader) ReloadData(ctx context.Context) error   { return nil }
func (noopReloader) ReloadConfig(ctx context.Context) error { return nil }

func newTestHandler(t *testing.T) (*Handler, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	c, err := cache.New(cache.Config{BloomCapacity: 1000, BloomFalsePosRate: 0.01})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	coord := reload.New(noopReloader{}, noopReloader{})

	h := NewHandler(Deps{
		Store:     store,
		Cache:     c,
		Reload:    coord,
		Hasher:    fakeHasher{},
		Version:   "test",
		StartedAt: time.Now(),
	})
	return h, store
}

func envelopeFor(t *testing.T, typ string, payload any) Envelope {
	t.Helper()
	env, err := newEnvelope(typ, payload)
	if err != nil {
		t.Fatalf("newEnvelope: %v", err)
	}
	return env
}

func TestHandler_Ping(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Dispatch(context.Background(), envelopeFor(t, CmdPing, nil))
	if resp.Type != RespPong {
		t.Fatalf("expected %s, got %s", RespPong, resp.Type)
	}
}

func TestHandler_UnknownCommand(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Dispatch(context.Background(), Envelope{Type: "Bogus"})
	if resp.Type != RespError {
		t.Fatalf("expected %s, got %s", RespError, resp.Type)
	}
}

func TestHandler_AddLinkThenGetLink(t *testing.T) {
	h, _ := newTestHandler(t)

	addResp := h.Dispatch(context.Background(), envelopeFor(t, CmdAddLink, AddLinkPayload{
		Code: "abc", Target: "https://example.com",
	}))
	if addResp.Type != RespLinkCreated {
		t.Fatalf("expected %s, got %s (payload %s)", RespLinkCreated, addResp.Type, addResp.Payload)
	}

	getResp := h.Dispatch(context.Background(), envelopeFor(t, CmdGetLink, GetLinkPayload{Code: "abc"}))
	payload, err := decodePayload[LinkFoundPayload](getResp)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if payload.Link == nil || payload.Link.Target != "https://example.com" {
		t.Fatalf("expected link to be found with target set, got %+v", payload.Link)
	}
}

func TestHandler_AddLinkGeneratesCodeWhenOmitted(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Dispatch(context.Background(), envelopeFor(t, CmdAddLink, AddLinkPayload{Target: "https://example.com"}))
	payload, err := decodePayload[LinkCreatedPayload](resp)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if !payload.GeneratedCode || payload.Link.Code == "" {
		t.Fatalf("expected a generated code, got %+v", payload)
	}
}

func TestHandler_AddLinkRejectsDuplicateWithoutForce(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Dispatch(context.Background(), envelopeFor(t, CmdAddLink, AddLinkPayload{Code: "abc", Target: "https://a.example"}))

	resp := h.Dispatch(context.Background(), envelopeFor(t, CmdAddLink, AddLinkPayload{Code: "abc", Target: "https://b.example"}))
	if resp.Type != RespError {
		t.Fatalf("expected %s for duplicate code, got %s", RespError, resp.Type)
	}
}

func TestHandler_RemoveLinkInvalidatesCache(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Dispatch(context.Background(), envelopeFor(t, CmdAddLink, AddLinkPayload{Code: "abc", Target: "https://example.com"}))

	if h.deps.Cache.Get("abc") != cache.Found {
		t.Fatal("expected cache to hold the link after AddLink")
	}

	resp := h.Dispatch(context.Background(), envelopeFor(t, CmdRemoveLink, RemoveLinkPayload{Code: "abc"}))
	if resp.Type != RespLinkDeleted {
		t.Fatalf("expected %s, got %s", RespLinkDeleted, resp.Type)
	}

	if h.deps.Cache.Get("abc") != cache.KnownAbsent {
		t.Fatal("expected cache to report KnownAbsent after RemoveLink")
	}
}

func TestHandler_RemoveLinkNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Dispatch(context.Background(), envelopeFor(t, CmdRemoveLink, RemoveLinkPayload{Code: "missing"}))
	if resp.Type != RespError {
		t.Fatalf("expected %s, got %s", RespError, resp.Type)
	}
}

func TestHandler_UpdateLinkChangesTarget(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Dispatch(context.Background(), envelopeFor(t, CmdAddLink, AddLinkPayload{Code: "abc", Target: "https://old.example"}))

	resp := h.Dispatch(context.Background(), envelopeFor(t, CmdUpdateLink, UpdateLinkPayload{
		Code: "abc", Target: "https://new.example",
	}))
	payload, err := decodePayload[LinkUpdatedPayload](resp)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if payload.Link.Target != "https://new.example" {
		t.Fatalf("expected updated target, got %q", payload.Link.Target)
	}
}

func TestHandler_ListLinksPagination(t *testing.T) {
	h, _ := newTestHandler(t)
	for i := 0; i < 5; i++ {
		code := string(rune('a' + i))
		h.Dispatch(context.Background(), envelopeFor(t, CmdAddLink, AddLinkPayload{Code: code, Target: "https://example.com/" + code}))
	}

	resp := h.Dispatch(context.Background(), envelopeFor(t, CmdListLinks, ListLinksPayload{Page: 1, PageSize: 2}))
	payload, err := decodePayload[LinkListPayload](resp)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if payload.Total != 5 {
		t.Fatalf("expected total 5, got %d", payload.Total)
	}
	if len(payload.Links) != 2 {
		t.Fatalf("expected page size 2, got %d", len(payload.Links))
	}
}

func TestHandler_GetLinkStats(t *testing.T) {
	h, store := newTestHandler(t)
	h.Dispatch(context.Background(), envelopeFor(t, CmdAddLink, AddLinkPayload{Code: "abc", Target: "https://example.com"}))
	if err := store.FlushClicks(context.Background(), []storage.ClickUpdate{{Code: "abc", Delta: 7}}); err != nil {
		t.Fatalf("flush: %v", err)
	}

	resp := h.Dispatch(context.Background(), envelopeFor(t, CmdGetLinkStats, nil))
	payload, err := decodePayload[StatsResultPayload](resp)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if payload.TotalLinks != 1 || payload.TotalClicks != 7 || payload.ActiveLinks != 1 {
		t.Fatalf("unexpected stats: %+v", payload)
	}
}

func TestHandler_ImportExportLinks(t *testing.T) {
	h, _ := newTestHandler(t)
	links := []*model.ShortLink{
		{Code: "abc", Target: "https://a.example", CreatedAt: time.Now()},
		{Code: "def", Target: "https://b.example", CreatedAt: time.Now()},
	}

	importResp := h.Dispatch(context.Background(), envelopeFor(t, CmdImportLinks, ImportLinksPayload{Links: links}))
	importPayload, err := decodePayload[ImportResultPayload](importResp)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if importPayload.Success != 2 || importPayload.Failed != 0 {
		t.Fatalf("unexpected import result: %+v", importPayload)
	}

	exportResp := h.Dispatch(context.Background(), envelopeFor(t, CmdExportLinks, nil))
	exportPayload, err := decodePayload[ExportResultPayload](exportResp)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if len(exportPayload.Links) != 2 {
		t.Fatalf("expected 2 exported links, got %d", len(exportPayload.Links))
	}
}

func TestHandler_ShutdownInvokesCallback(t *testing.T) {
	h, _ := newTestHandler(t)
	called := make(chan struct{})
	h.deps.Shutdown = func() { close(called) }

	resp := h.Dispatch(context.Background(), envelopeFor(t, CmdShutdown, nil))
	if resp.Type != RespShuttingDown {
		t.Fatalf("expected %s, got %s", RespShuttingDown, resp.Type)
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("expected shutdown callback to be invoked")
	}
}
