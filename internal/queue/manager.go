package queue

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Manager holds every destination's playback queue in memory and eagerly
// persists the full record on each mutation. In-memory state is the source of
// truth for the process lifetime; persistence failures are logged and do not
// roll anything back.
type Manager struct {
	repo Repository

	mu      sync.Mutex
	items   map[int64][]Entry
	cursors map[int64]int
	repeats map[int64]bool
}

func NewManager(repo Repository) *Manager {
	return &Manager{
		repo:    repo,
		items:   make(map[int64][]Entry),
		cursors: make(map[int64]int),
		repeats: make(map[int64]bool),
	}
}

// Load restores every persisted destination queue.
func (m *Manager) Load(ctx context.Context) error {
	records, err := m.repo.LoadQueues(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range records {
		dest, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			slog.Warn("skipping queue record with malformed destination key", "destination", key)
			continue
		}
		if len(rec.Items) == 0 {
			continue
		}
		cursor := rec.Current
		if cursor < 0 || cursor >= len(rec.Items) {
			cursor = 0
		}
		m.items[dest] = rec.Items
		m.cursors[dest] = cursor
		m.repeats[dest] = rec.Repeat
	}
	slog.Info("queues loaded", "destinations", len(m.items))
	return nil
}

// Append adds an entry to the destination's queue, stamps its enqueue time and
// returns its 1-based position.
func (m *Manager) Append(ctx context.Context, dest int64, e Entry) int {
	m.mu.Lock()
	e.AddedAt = time.Now().Unix()
	m.items[dest] = append(m.items[dest], e)
	pos := len(m.items[dest])
	m.persistLocked(ctx, dest)
	m.mu.Unlock()
	return pos
}

// Current returns the entry at the cursor, or false if the queue is empty or
// the cursor is out of range.
func (m *Manager) Current(dest int64) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[dest]
	cursor := m.cursors[dest]
	if len(items) == 0 || cursor < 0 || cursor >= len(items) {
		return Entry{}, false
	}
	return items[cursor], true
}

// Advance moves the cursor forward. Past the last index it wraps to 0 when
// repeat is set; otherwise it reports false and leaves the cursor unchanged,
// so the queue stays inspectable after finishing.
func (m *Manager) Advance(ctx context.Context, dest int64) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[dest]
	if len(items) == 0 {
		return Entry{}, false
	}
	next := m.cursors[dest] + 1
	if next >= len(items) {
		if !m.repeats[dest] {
			return Entry{}, false
		}
		next = 0
	}
	m.cursors[dest] = next
	m.persistLocked(ctx, dest)
	return items[next], true
}

// Clear drops the destination's queue, cursor and repeat flag.
func (m *Manager) Clear(ctx context.Context, dest int64) {
	m.mu.Lock()
	delete(m.items, dest)
	delete(m.cursors, dest)
	delete(m.repeats, dest)
	m.persistLocked(ctx, dest)
	m.mu.Unlock()
}

func (m *Manager) SetRepeat(ctx context.Context, dest int64, enabled bool) {
	m.mu.Lock()
	m.repeats[dest] = enabled
	m.persistLocked(ctx, dest)
	m.mu.Unlock()
}

func (m *Manager) Repeat(dest int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repeats[dest]
}

// Items returns a copy of the destination's queue in playback order.
func (m *Manager) Items(dest int64) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[dest]
	out := make([]Entry, len(items))
	copy(out, items)
	return out
}

func (m *Manager) Len(dest int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items[dest])
}

// Cursor returns the current index, 0 when the queue is empty.
func (m *Manager) Cursor(dest int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[dest]
}

// persistLocked writes the destination's whole record, or deletes it when the
// queue is empty. Callers hold m.mu.
func (m *Manager) persistLocked(ctx context.Context, dest int64) {
	key := strconv.FormatInt(dest, 10)
	items := m.items[dest]
	if len(items) == 0 {
		if err := m.repo.DeleteQueue(ctx, key); err != nil {
			slog.Error("failed to delete persisted queue", "error", err, "destination", key)
		}
		return
	}
	rec := Record{
		Items:   items,
		Current: m.cursors[dest],
		Repeat:  m.repeats[dest],
	}
	if err := m.repo.SaveQueue(ctx, key, rec); err != nil {
		slog.Error("failed to persist queue", "error", err, "destination", key, "items", len(items))
	}
}
