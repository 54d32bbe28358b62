package reload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/penshort/shortlinker/internal/model"
)

// CatalogSource is the slice of the storage façade the data reload
// consumes: the Reload extensibility hook plus a full catalog read.
type CatalogSource interface {
	Reload(ctx context.Context) error
	LoadAll(ctx context.Context) (map[string]*model.ShortLink, error)
}

// CatalogCache is the slice of the composite cache the data reload drives:
// a Bloom rebuild sized to the fresh catalog, then a bulk repopulation.
type CatalogCache interface {
	Reconfigure(capacity uint, fpRate float64) error
	Load(links map[string]*model.ShortLink)
}

// DataLoader implements DataReloader over a storage source and the
// composite cache, following the reload-data procedure: storage reload
// hook, load-all, Bloom reconfigure at the new capacity, bulk cache load.
type DataLoader struct {
	source CatalogSource
	cache  CatalogCache
	fpRate float64
	logger *slog.Logger
}

// NewDataLoader wires a DataLoader. fpRate is the Bloom false-positive
// target applied on every rebuild.
func NewDataLoader(source CatalogSource, cache CatalogCache, fpRate float64, logger *slog.Logger) *DataLoader {
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.001
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DataLoader{source: source, cache: cache, fpRate: fpRate, logger: logger}
}

// ReloadData refreshes the cache from storage. Any step failing aborts the
// reload before the cache is touched, so readers keep serving the previous
// catalog; once Reconfigure succeeds the Load that follows cannot fail.
func (d *DataLoader) ReloadData(ctx context.Context) error {
	if err := d.source.Reload(ctx); err != nil {
		return fmt.Errorf("storage reload: %w", err)
	}

	links, err := d.source.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	capacity := uint(len(links))
	if capacity == 0 {
		capacity = 1
	}
	if err := d.cache.Reconfigure(capacity, d.fpRate); err != nil {
		return fmt.Errorf("reconfigure bloom: %w", err)
	}
	d.cache.Load(links)

	d.logger.Info("catalog reloaded", "links", len(links), "bloom_capacity", capacity)
	return nil
}

var _ DataReloader = (*DataLoader)(nil)
