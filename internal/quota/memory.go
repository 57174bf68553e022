package quota

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/model"
)

// MemoryStore is an in-process Store, used by tests and dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	days map[string]model.QuotaWindow
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{days: make(map[string]model.QuotaWindow)}
}

func (m *MemoryStore) LoadQuota(_ context.Context, day string) (model.QuotaWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windowLocked(day), nil
}

func (m *MemoryStore) SaveQuota(_ context.Context, w model.QuotaWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[w.Day] = model.QuotaWindow{Day: w.Day, Count: w.Count, Ceiling: w.Ceiling}
	return nil
}

func (m *MemoryStore) IncrementQuota(_ context.Context, day string, ceiling int) (model.QuotaWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.days[day]
	w.Day = day
	w.Ceiling = ceiling
	if w.Count >= ceiling {
		out := m.windowLocked(day)
		out.Ceiling = ceiling
		return out, eris.Wrapf(ErrExhausted, "memory: increment quota %s", day)
	}
	w.Count++
	m.days[day] = w

	out := m.windowLocked(day)
	out.Ceiling = ceiling
	return out, nil
}

func (m *MemoryStore) windowLocked(day string) model.QuotaWindow {
	w := m.days[day]
	w.Day = day
	w.AllTime = 0
	for _, d := range m.days {
		w.AllTime += d.Count
	}
	return w
}
