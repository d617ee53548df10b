package attrstore

import (
	"context"
	"errors"

	"github.com/AndrewDonelson/attrstore/internal/kvs"
)

// minUnusedEndpointKey holds the lowest endpoint id not yet assigned.
const minUnusedEndpointKey = "min_uu_ep_id"

// getOrMigrate consults the current key, then the legacy key. A legacy hit
// is erased from the legacy namespace and re-stored under the current key;
// both steps are best effort. When both lookups fail the current lookup's
// error is returned.
func (s *Store) getOrMigrate(ctx context.Context, k Key, v *Value) error {
	err := s.get(ctx, s.cfg.Namespace, k.Encoded(), v, true)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return err
	}

	legacyNS, legacyKey := k.legacy()
	if lerr := s.get(ctx, legacyNS, legacyKey, v, false); lerr != nil {
		s.legacyLookupFailed(legacyNS, legacyKey, lerr)
		return err
	}

	s.bestEffortErase(ctx, legacyNS, legacyKey, "legacy_erase")
	s.bestEffortStore(ctx, s.cfg.Namespace, k.Encoded(), *v, "legacy_restore")
	s.stats.Migrations.Add(1)
	s.metrics.RecordMigration("legacy_key")
	s.logger.Info("attrstore: migrated legacy attribute", "key", k.String(),
		"from", legacyNS+"/"+legacyKey)
	return nil
}

// SaveMinUnusedEndpointID records the lowest endpoint id not yet assigned.
func (s *Store) SaveMinUnusedEndpointID(ctx context.Context, id uint16) error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.store(ctx, s.cfg.Namespace, minUnusedEndpointKey, UInt16(id))
	s.observe("set", err)
	return err
}

// LoadMinUnusedEndpointID returns the id saved by SaveMinUnusedEndpointID,
// moving it out of the legacy node namespace on first read.
func (s *Store) LoadMinUnusedEndpointID(ctx context.Context) (uint16, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	v := Value{Type: TypeUInt16}
	err := s.get(ctx, s.cfg.Namespace, minUnusedEndpointKey, &v, true)
	if errors.Is(err, ErrNotFound) {
		lerr := s.get(ctx, s.cfg.LegacyNodeNamespace, minUnusedEndpointKey, &v, false)
		if lerr == nil {
			s.bestEffortErase(ctx, s.cfg.LegacyNodeNamespace, minUnusedEndpointKey, "legacy_node_erase")
			s.bestEffortStore(ctx, s.cfg.Namespace, minUnusedEndpointKey, v, "legacy_node_restore")
			s.stats.Migrations.Add(1)
			s.metrics.RecordMigration("legacy_node")
			err = nil
		} else {
			s.legacyLookupFailed(s.cfg.LegacyNodeNamespace, minUnusedEndpointKey, lerr)
		}
	}
	s.observe("get", err)
	if err != nil {
		return 0, err
	}
	return uint16(v.Uint()), nil
}

// legacyLookupFailed logs a legacy read that failed for a reason other than
// absence. Legacy keys over the backend limit were never stored and are
// treated as absent.
func (s *Store) legacyLookupFailed(namespace, key string, err error) {
	if errors.Is(err, ErrNotFound) || errors.Is(err, kvs.ErrKeyTooLong) {
		return
	}
	s.logger.Warn("attrstore: legacy lookup failed", "namespace", namespace, "key", key, "error", err)
}
