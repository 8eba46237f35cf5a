package filter

import (
	"context"
	"strings"

	"github.com/sells-group/lead-qualifier/internal/store"
)

// Deduplicator drops candidates whose canonical name or registry id already
// belongs to a stored entity, or to an earlier candidate of the same batch.
type Deduplicator struct {
	names       map[string]struct{}
	registryIDs map[string]struct{}
}

// KeyLoader loads the dedup keys of every stored entity.
type KeyLoader interface {
	EntityKeys(ctx context.Context) (*store.EntityKeys, error)
}

// NewDeduplicator snapshots the stored entity keys.
func NewDeduplicator(ctx context.Context, loader KeyLoader) (*Deduplicator, error) {
	keys, err := loader.EntityKeys(ctx)
	if err != nil {
		return nil, err
	}
	d := &Deduplicator{
		names:       make(map[string]struct{}, len(keys.Names)),
		registryIDs: make(map[string]struct{}, len(keys.RegistryIDs)),
	}
	for k := range keys.Names {
		d.names[k] = struct{}{}
	}
	for k := range keys.RegistryIDs {
		d.registryIDs[k] = struct{}{}
	}
	return d, nil
}

// Keep reports whether a candidate is new and, if so, reserves its keys.
func (d *Deduplicator) Keep(canonicalKey, registryID string) bool {
	registryID = strings.TrimSpace(registryID)
	if _, ok := d.names[canonicalKey]; ok {
		return false
	}
	if registryID != "" {
		if _, ok := d.registryIDs[registryID]; ok {
			return false
		}
		d.registryIDs[registryID] = struct{}{}
	}
	d.names[canonicalKey] = struct{}{}
	return true
}
