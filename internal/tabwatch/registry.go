// Package tabwatch attaches to the application's browser tabs over CDP,
// tracks their navigation state, and feeds route changes to the recovery
// coordinator.
package tabwatch

import (
	"net/url"
	"sync"

	"github.com/chromedp/cdproto/target"
)

// TabInfo is the tracked metadata for one attached tab.
type TabInfo struct {
	TargetID string
	URL      string
	Path     string
}

// Registry maps CDP target IDs to tab metadata.
type Registry struct {
	mu   sync.RWMutex
	tabs map[target.ID]*TabInfo
}

func NewRegistry() *Registry {
	return &Registry{tabs: make(map[target.ID]*TabInfo)}
}

// Register records or updates a tab's current URL.
func (r *Registry) Register(targetID target.ID, rawURL string) *TabInfo {
	info := &TabInfo{
		TargetID: string(targetID),
		URL:      rawURL,
		Path:     pathOf(rawURL),
	}
	r.mu.Lock()
	r.tabs[targetID] = info
	r.mu.Unlock()
	return info
}

func (r *Registry) Get(targetID target.ID) (*TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tabs[targetID]
	return info, ok
}

func (r *Registry) Remove(targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, targetID)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}

// List returns a snapshot of all tracked tabs.
func (r *Registry) List() []TabInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TabInfo, 0, len(r.tabs))
	for _, info := range r.tabs {
		out = append(out, *info)
	}
	return out
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
