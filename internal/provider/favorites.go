package provider

import (
	"encoding/json"
	"sync"

	"xevivu-client/internal/backend"
	"xevivu-client/internal/logger"
)

const favoritesKey = "@xevivu_favorites_v1"

// FavoritesProvider owns the device-local favorite set: an ordered list of
// car ids, most recently favorited first. It is independent of the Session
// and never synced server-side.
type FavoritesProvider struct {
	store *backend.LocalStore

	mu  sync.RWMutex
	ids []string
}

// NewFavoritesProvider loads the persisted set. A load failure is logged
// and absorbed: favorites start empty rather than blocking startup.
func NewFavoritesProvider(store *backend.LocalStore) *FavoritesProvider {
	p := &FavoritesProvider{store: store}
	data, ok, err := store.Get(favoritesKey)
	if err != nil {
		logger.Warn("Failed to load favorites", "error", err)
		return p
	}
	if ok {
		if err := json.Unmarshal(data, &p.ids); err != nil {
			logger.Warn("Discarding unreadable favorites", "error", err)
			p.ids = nil
		}
	}
	return p
}

// Toggle adds the car to the front of the set, or removes it when already
// present, then persists. Persistence errors are logged and absorbed.
func (p *FavoritesProvider) Toggle(carID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make([]string, 0, len(p.ids)+1)
	removed := false
	for _, id := range p.ids {
		if id == carID {
			removed = true
			continue
		}
		next = append(next, id)
	}
	if !removed {
		next = append([]string{carID}, next...)
	}
	p.ids = next

	data, err := json.Marshal(p.ids)
	if err == nil {
		err = p.store.Set(favoritesKey, data)
	}
	if err != nil {
		logger.Warn("Failed to save favorites", "error", err)
	}
}

// IsFavorite reports membership.
func (p *FavoritesProvider) IsFavorite(carID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, id := range p.ids {
		if id == carID {
			return true
		}
	}
	return false
}

// IDs returns a copy of the favorite set, most recent first.
func (p *FavoritesProvider) IDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}
