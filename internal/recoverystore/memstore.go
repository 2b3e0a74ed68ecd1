package recoverystore

import (
	"encoding/json"
	"sync"
	"time"
)

// MemStore is an in-process rendition of the origin-scoped keyspace. Each
// simulated tab obtains its own handle via Tab(); a write through one
// handle notifies the subscribers of every other handle, never its own,
// matching the cross-tab broadcast primitive.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	subsMu sync.RWMutex
	subs   map[int64]*memSub
	nextID int64
}

type memSub struct {
	owner *MemTab
	fn    func(*State)
}

func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string][]byte),
		subs: make(map[int64]*memSub),
	}
}

// Tab returns a Store handle representing one tab sharing this keyspace.
func (m *MemStore) Tab() *MemTab {
	return &MemTab{shared: m}
}

func (m *MemStore) get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemStore) set(key string, v []byte) {
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
}

func (m *MemStore) delete(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

// notifyOthers dispatches the current state to every tab except the writer.
// Dispatch is synchronous so tests observe deterministic ordering; real
// cross-tab delivery is modeled by the Listener re-reading the store.
func (m *MemStore) notifyOthers(writer *MemTab, s *State) {
	m.subsMu.RLock()
	targets := make([]*memSub, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.owner != writer {
			targets = append(targets, sub)
		}
	}
	m.subsMu.RUnlock()
	for _, sub := range targets {
		sub.fn(s)
	}
}

// MemTab is one tab's view of a MemStore. It implements Store.
type MemTab struct {
	shared *MemStore
}

func (t *MemTab) WriteState(s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	t.shared.set(stateKey, data)
	t.shared.notifyOthers(t, &s)
	return nil
}

func (t *MemTab) ReadState() *State {
	raw, ok := t.shared.get(stateKey)
	if !ok {
		return nil
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func (t *MemTab) ClearState() error {
	t.shared.delete(stateKey)
	t.shared.notifyOthers(t, nil)
	return nil
}

func (t *MemTab) OnChange(fn func(*State)) func() {
	t.shared.subsMu.Lock()
	t.shared.nextID++
	id := t.shared.nextID
	t.shared.subs[id] = &memSub{owner: t, fn: fn}
	t.shared.subsMu.Unlock()
	return func() {
		t.shared.subsMu.Lock()
		delete(t.shared.subs, id)
		t.shared.subsMu.Unlock()
	}
}

func (t *MemTab) LastAttempt() (time.Time, bool) {
	raw, ok := t.shared.get(throttleKey)
	if !ok {
		return time.Time{}, false
	}
	var rec throttleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return time.Time{}, false
	}
	return rec.LastAttemptAt, true
}

func (t *MemTab) RecordAttempt(at time.Time) error {
	data, err := json.Marshal(throttleRecord{LastAttemptAt: at})
	if err != nil {
		return err
	}
	t.shared.set(throttleKey, data)
	return nil
}

func (t *MemTab) Token() (string, bool) {
	raw, ok := t.shared.get(tokenKey)
	if !ok || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

func (t *MemTab) WriteToken(token string) error {
	t.shared.set(tokenKey, []byte(token))
	return nil
}

func (t *MemTab) ClearToken() error {
	t.shared.delete(tokenKey)
	return nil
}
