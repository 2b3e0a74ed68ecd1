package tabwatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/tab_sentry/internal/navguard"
)

// Sink receives navigation activity from watched tabs.
type Sink interface {
	// RecoveryLinkOpened fires when a watched tab lands on a recovery
	// link. path is the recovery route path.
	RecoveryLinkOpened(tabKey, path string)
	// ShouldSuppress decides whether a navigation away from currentPath
	// must be blocked; a true return makes the watcher steer the tab back.
	ShouldSuppress(ev navguard.Event, currentPath string) bool
}

// Watcher attaches to matching browser tabs and tracks their navigation.
type Watcher struct {
	cdpURL        string
	urlFilter     string
	recoveryRoute string
	tokenKey      string
	registry      *Registry
	sink          Sink

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu   sync.RWMutex
	tabs map[target.ID]*tabContext
	done chan struct{}
}

type tabContext struct {
	id     target.ID
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher builds a watcher against the browser's CDP endpoint. Tabs
// whose URL does not contain urlFilter are ignored; an empty filter
// matches everything. tokenKey is the local-storage key cleared in-page
// when a tab opens a recovery link; empty disables the clear.
func NewWatcher(cdpURL, urlFilter, recoveryRoute, tokenKey string, registry *Registry, sink Sink) *Watcher {
	return &Watcher{
		cdpURL:        cdpURL,
		urlFilter:     urlFilter,
		recoveryRoute: recoveryRoute,
		tokenKey:      tokenKey,
		registry:      registry,
		sink:          sink,
		tabs:          make(map[target.ID]*tabContext),
		done:          make(chan struct{}),
	}
}

// Connect dials the browser and attaches to every matching open tab.
// ctx becomes the parent of every per-tab session; cancelling it detaches
// the watcher.
func (w *Watcher) Connect(ctx context.Context) error {
	slog.Info("connecting to browser", "url", w.cdpURL)

	w.allocCtx, w.allocCancel = chromedp.NewRemoteAllocator(ctx, w.cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(w.allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return fmt.Errorf("enumerate targets: %w", err)
	}

	attached := 0
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !w.matchesURL(t.URL) {
			slog.Debug("skipping tab (url filter)", "url", t.URL)
			continue
		}
		if err := w.attach(t.TargetID, t.URL); err != nil {
			slog.Error("attach to tab failed", "target_id", t.TargetID, "error", err)
			continue
		}
		attached++
	}

	slog.Info("attached to tabs", "count", attached, "url_filter", w.urlFilter)
	return nil
}

// WatchTargets periodically attaches to matching tabs opened after
// Connect, until ctx is done.
func (w *Watcher) WatchTargets(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
		}

		tempCtx, tempCancel := chromedp.NewContext(w.allocCtx)
		targets, err := chromedp.Targets(tempCtx)
		tempCancel()
		if err != nil {
			slog.Debug("enumerate targets", "error", err)
			continue
		}
		for _, t := range targets {
			if t.Type != "page" || !w.matchesURL(t.URL) {
				continue
			}
			w.mu.RLock()
			_, known := w.tabs[t.TargetID]
			w.mu.RUnlock()
			if known {
				continue
			}
			if err := w.attach(t.TargetID, t.URL); err != nil {
				slog.Error("attach to new tab failed", "target_id", t.TargetID, "error", err)
			}
		}
	}
}

func (w *Watcher) attach(targetID target.ID, rawURL string) error {
	info := w.registry.Register(targetID, rawURL)

	tabCtx, tabCancel := chromedp.NewContext(w.allocCtx, chromedp.WithTargetID(targetID))
	w.mu.Lock()
	w.tabs[targetID] = &tabContext{id: targetID, ctx: tabCtx, cancel: tabCancel}
	w.mu.Unlock()

	if err := chromedp.Run(tabCtx, page.Enable()); err != nil {
		tabCancel()
		w.registry.Remove(targetID)
		w.mu.Lock()
		delete(w.tabs, targetID)
		w.mu.Unlock()
		return fmt.Errorf("enable page domain: %w", err)
	}

	slog.Info("attached to tab", "target_id", targetID, "path", info.Path)
	chromedp.ListenTarget(tabCtx, w.eventHandler(targetID))

	// The tab may already be sitting on a recovery link when we attach.
	if IsRecoveryLink(rawURL, w.recoveryRoute) {
		w.clearPageToken(targetID)
		w.sink.RecoveryLinkOpened(string(targetID), info.Path)
	}
	return nil
}

func (w *Watcher) eventHandler(targetID target.ID) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				// Full loads come from the address bar, link clicks, or
				// reloads; treat them as user-initiated.
				w.handleNavigation(targetID, e.Frame.URL, true)
			}
		case *page.EventNavigatedWithinDocument:
			// SPA route changes are programmatic.
			w.handleNavigation(targetID, e.URL, false)
		}
	}
}

func (w *Watcher) handleNavigation(targetID target.ID, rawURL string, userInitiated bool) {
	prior, known := w.registry.Get(targetID)
	priorPath := ""
	if known {
		priorPath = prior.Path
	}

	if IsRecoveryLink(rawURL, w.recoveryRoute) {
		info := w.registry.Register(targetID, rawURL)
		slog.Info("recovery link opened", "target_id", targetID, "path", info.Path)
		w.clearPageToken(targetID)
		w.sink.RecoveryLinkOpened(string(targetID), info.Path)
		return
	}

	ev := navguard.Event{URL: rawURL, UserInitiated: userInitiated}
	if w.sink.ShouldSuppress(ev, priorPath) {
		slog.Info("suppressing navigation during recovery",
			"target_id", targetID, "from", priorPath, "to", truncateURL(rawURL))
		w.steerBack(targetID, priorPath)
		return
	}

	info := w.registry.Register(targetID, rawURL)
	slog.Debug("tab navigated", "target_id", targetID, "path", info.Path,
		"user_initiated", userInitiated)
}

// steerBack navigates a tab back to the path it was suppressed from
// leaving. Runs async; navigation events it causes are themselves
// programmatic and re-enter the handler, where the matching route makes
// them no-ops.
func (w *Watcher) steerBack(targetID target.ID, path string) {
	w.mu.RLock()
	tab, ok := w.tabs[targetID]
	w.mu.RUnlock()
	if !ok {
		return
	}
	go func() {
		navCtx, cancel := context.WithTimeout(tab.ctx, 10*time.Second)
		defer cancel()
		if err := chromedp.Run(navCtx, chromedp.NavigateBack()); err != nil {
			slog.Warn("steer back after suppressed navigation", "target_id", targetID,
				"path", path, "error", err)
		}
	}()
}

// clearPageToken removes the persisted token from a tab's local storage,
// mirroring the defensive clear the coordinator does in its own keyspace.
// It runs async so recovery activation never blocks on the page.
func (w *Watcher) clearPageToken(targetID target.ID) {
	if w.tokenKey == "" {
		return
	}
	w.mu.RLock()
	tab, ok := w.tabs[targetID]
	w.mu.RUnlock()
	if !ok {
		return
	}
	go func() {
		evalCtx, cancel := context.WithTimeout(tab.ctx, 10*time.Second)
		defer cancel()

		var removed bool
		if err := chromedp.Run(evalCtx, chromedp.Evaluate(removeItemScript(w.tokenKey), &removed)); err != nil {
			slog.Warn("clear page token", "target_id", targetID, "error", err)
			return
		}
		slog.Debug("cleared page token", "target_id", targetID, "key", w.tokenKey)
	}()
}

// removeItemScript builds the localStorage eval for the token clear. The
// trailing expression gives the eval a serializable result.
func removeItemScript(key string) string {
	return fmt.Sprintf("localStorage.removeItem(%q); true", key)
}

// Close detaches from every tab.
func (w *Watcher) Close() error {
	close(w.done)

	w.mu.Lock()
	for id, tab := range w.tabs {
		tab.cancel()
		delete(w.tabs, id)
	}
	w.mu.Unlock()

	if w.allocCancel != nil {
		w.allocCancel()
	}
	slog.Info("tab watcher closed")
	return nil
}

// TabCount returns the number of attached tabs.
func (w *Watcher) TabCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.tabs)
}

func (w *Watcher) matchesURL(rawURL string) bool {
	if w.urlFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(rawURL), strings.ToLower(w.urlFilter))
}

func truncateURL(rawURL string) string {
	if len(rawURL) > 120 {
		return rawURL[:120] + "..."
	}
	return rawURL
}
