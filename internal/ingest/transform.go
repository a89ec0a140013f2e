package ingest

import (
	"context"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
)

// CatalogTransformer implements Transformer for enriched USGS catalogue rows.
type CatalogTransformer struct{}

func NewTransformer() CatalogTransformer { return CatalogTransformer{} }

func (CatalogTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.StagingRecord, error) {
	return domain.ParseRawEvent(raw)
}
