package storage

import (
	"context"
	"sync"

	"github.com/penshort/shortlinker/internal/model"
)

// MemStore is an in-memory Store used by tests of the redirect handler, the
// IPC handler and this package, so they can exercise the storage contract
// without a live Postgres instance.
type MemStore struct {
	mu        sync.Mutex
	links     map[string]*model.ShortLink
	flushErr  error
	flushHook func(updates []ClickUpdate)
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{links: make(map[string]*model.ShortLink)}
}

// SetFlushError makes the next FlushClicks call fail with err, simulating a
// sink outage; the error is cleared once that call returns it.
func (m *MemStore) SetFlushError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushErr = err
}

// OnFlush installs a hook invoked with every FlushClicks batch, for
// assertions on what was actually written.
func (m *MemStore) OnFlush(hook func(updates []ClickUpdate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushHook = hook
}

func (m *MemStore) Get(_ context.Context, code string) (*model.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[code]
	if !ok {
		return nil, ErrNotFound
	}
	return link.Clone(), nil
}

func (m *MemStore) LoadAll(_ context.Context) (map[string]*model.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*model.ShortLink, len(m.links))
	for k, v := range m.links {
		out[k] = v.Clone()
	}
	return out, nil
}

func (m *MemStore) Upsert(_ context.Context, link *model.ShortLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.Code] = link.Clone()
	return nil
}

func (m *MemStore) Remove(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[code]; !ok {
		return ErrNotFound
	}
	delete(m.links, code)
	return nil
}

func (m *MemStore) BatchGet(_ context.Context, codes []string) (map[string]*model.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*model.ShortLink, len(codes))
	for _, c := range codes {
		if link, ok := m.links[c]; ok {
			out[c] = link.Clone()
		}
	}
	return out, nil
}

func (m *MemStore) BatchSet(_ context.Context, links []*model.ShortLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, link := range links {
		m.links[link.Code] = link.Clone()
	}
	return nil
}

func (m *MemStore) BatchRemove(_ context.Context, codes []string) ([]string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found, notFound []string
	for _, c := range codes {
		if _, ok := m.links[c]; ok {
			delete(m.links, c)
			found = append(found, c)
		} else {
			notFound = append(notFound, c)
		}
	}
	return found, notFound, nil
}

func (m *MemStore) FlushClicks(_ context.Context, updates []ClickUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flushHook != nil {
		m.flushHook(updates)
	}
	if m.flushErr != nil {
		err := m.flushErr
		m.flushErr = nil
		return err
	}
	for _, u := range updates {
		if link, ok := m.links[u.Code]; ok {
			link.Click += u.Delta
		}
	}
	return nil
}

func (m *MemStore) Reload(_ context.Context) error { return nil }

func (m *MemStore) Ping(_ context.Context) error { return nil }

func (m *MemStore) Close() {}

var _ Store = (*MemStore)(nil)
