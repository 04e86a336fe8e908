package offline

import (
	"sort"
	"sync"
)

// Store persists queued actions across restarts. Load returns actions
// in replay order (priority tier, then enqueue time).
type Store interface {
	Save(action *Action) error
	Delete(action *Action) error
	Load() ([]*Action, error)
	Close() error
}

// MemoryStore is a non-durable Store for tests and single-shot tools.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[string]*Action
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]*Action)}
}

func (m *MemoryStore) Save(action *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *action
	m.actions[action.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(action *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.actions, action.ID)
	return nil
}

func (m *MemoryStore) Load() ([]*Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Action, 0, len(m.actions))
	for _, a := range m.actions {
		cp := *a
		out = append(out, &cp)
	}
	sortActions(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// sortActions orders actions by priority tier, then enqueue time, then
// id to break exact-time ties deterministically.
func sortActions(actions []*Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		ri, rj := actions[i].Priority.rank(), actions[j].Priority.rank()
		if ri != rj {
			return ri < rj
		}
		if !actions[i].EnqueuedAt.Equal(actions[j].EnqueuedAt) {
			return actions[i].EnqueuedAt.Before(actions[j].EnqueuedAt)
		}
		return actions[i].ID < actions[j].ID
	})
}
