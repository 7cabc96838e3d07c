package reg

import (
	"sync"

	"github.com/iamwavecut/doorbot/internal/db"
)

// registry is a process-local cache for per-group settings, saving a
// store round trip on every join in busy groups.
type registry struct {
	mu       sync.RWMutex
	settings map[int64]db.GroupSettings
}

var instance *registry
var once sync.Once

func Get() *registry {
	once.Do(func() {
		instance = &registry{
			settings: map[int64]db.GroupSettings{},
		}
	})
	return instance
}

func (r *registry) GetSettings(chatID int64) (db.GroupSettings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settings[chatID]
	return s, ok
}

func (r *registry) SetSettings(chatID int64, s db.GroupSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[chatID] = s
}

func (r *registry) RemoveSettings(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.settings, chatID)
}
