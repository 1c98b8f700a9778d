// hub/cache.go
// Copyright(c) 2024-2026 atctrainer contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package hub

import (
	"os"
	"path/filepath"
	"time"

	"github.com/atctrainer/network/util"
)

// cachedResource is one static reference-data payload (a boundary,
// topology, or geo-feature file) along with the modification time a
// client uses as its freshness key.
type cachedResource struct {
	Data    []byte
	ModTime time.Time
}

// resource returns the named static resource, preferring the
// in-memory LRU, then the on-disk msgpack+flate cache
// (util.CacheStoreObject/CacheRetrieveObject), and only falling
// through to a fresh disk read of h.cfg.StaticResources if neither
// cache has it yet — the cache-miss edge case in spec.md §6.
func (h *Hub) resource(name string) (cachedResource, error) {
	if cr, ok := h.resourceCache.Get(name); ok {
		return cr, nil
	}

	var cr cachedResource
	if mt, err := util.CacheRetrieveObject(name, &cr.Data); err == nil {
		cr.ModTime = mt
		h.resourceCache.Add(name, cr)
		return cr, nil
	}

	data, modTime, err := h.loadResourceFresh(name)
	if err != nil {
		return cachedResource{}, err
	}
	cr = cachedResource{Data: data, ModTime: modTime}

	_ = util.CacheStoreObject(name, data)
	h.resourceCache.Add(name, cr)

	return cr, nil
}

// loadResourceFresh reads a static resource straight from disk. The
// format and layout of the files under StaticResources is a loader
// concern out of scope here: the hub only knows how to serve whatever
// bytes are at that path.
func (h *Hub) loadResourceFresh(name string) ([]byte, time.Time, error) {
	path := filepath.Join(h.cfg.StaticResources, filepath.Clean("/"+name))
	fi, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, fi.ModTime(), nil
}
