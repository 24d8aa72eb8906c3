package cache

import (
	"context"
	"log"
)

// Version is the running build's cache-schema version. Bump it whenever
// the persisted shape of a data cache changes.
const Version = "2.3.0"

// CheckVersion compares the persisted version string with the running
// build. On mismatch it wipes the data caches (indicators, cap ranks,
// logos) while leaving preference caches (favorites, layout, filters)
// untouched, then records the new version. Preferences are user intent
// and must survive upgrades; market data must not be served across a
// schema change. providers lists the enabled provider names so their
// per-provider indicator keys are wiped too.
func (s *Store) CheckVersion(ctx context.Context, providers ...string) error {
	entry, err := Get[string](ctx, s, KeyVersion)
	if err != nil {
		return err
	}
	if entry != nil && entry.Data == Version {
		return nil
	}

	stored := ""
	if entry != nil {
		stored = entry.Data
	}
	log.Printf("[cache] version changed %q -> %q, clearing data caches", stored, Version)

	wipe := append([]string(nil), dataKeys...)
	for _, p := range providers {
		wipe = append(wipe, IndicatorsKey(p))
	}
	for _, key := range wipe {
		if err := s.Remove(ctx, key); err != nil {
			return err
		}
	}
	return Set(ctx, s, KeyVersion, Version)
}
