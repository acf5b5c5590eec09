package task

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/kandev/agentcore/internal/common/errors"
	"github.com/kandev/agentcore/internal/common/logger"
)

// Table is the shared TaskId -> Task map (§4.5). All mutation is short-scope:
// acquire the lock, mutate, release. Readers see a consistent snapshot of a
// single task; there is no cross-task transactional consistency.
type Table struct {
	mu    sync.RWMutex
	tasks map[ID]*Task

	cap int
	ttl time.Duration

	log *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewTable builds an empty task table with the given retention cap and TTL.
func NewTable(cap int, ttl time.Duration, log *logger.Logger) *Table {
	return &Table{
		tasks:  make(map[ID]*Task),
		cap:    cap,
		ttl:    ttl,
		log:    log.WithFields(zap.String("component", "task_table")),
		stopCh: make(chan struct{}),
	}
}

// Insert adds a new task to the table, failing CapacityExceeded if the table
// is already at its cap and has no evictable (terminal) entries to make room.
func (t *Table) Insert(tk *Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.tasks) >= t.cap {
		if !t.evictOldestTerminalLocked() {
			return apperrors.CapacityExceeded("task_table")
		}
	}
	t.tasks[tk.ID] = tk
	return nil
}

// Get returns a copy-by-pointer snapshot of a task. Mutating the returned
// value does not affect the table; use Mutate for writes.
func (t *Table) Get(id ID) (*Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tk, ok := t.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task", id.String())
	}
	cp := *tk
	return &cp, nil
}

// Mutate applies fn to the stored task under the write lock. fn must not
// block or call back into the Table.
func (t *Table) Mutate(id ID, fn func(*Task)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[id]
	if !ok {
		return apperrors.NotFound("task", id.String())
	}
	fn(tk)
	return nil
}

// List returns a snapshot slice of all tasks currently in the table.
func (t *Table) List() []*Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Task, 0, len(t.tasks))
	for _, tk := range t.tasks {
		cp := *tk
		out = append(out, &cp)
	}
	return out
}

// Len reports the current number of tasks held (pending, in-flight, or
// terminal-but-not-yet-evicted).
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

// evictOldestTerminalLocked removes the oldest terminal task, if any exists,
// to make room for a new insert. Must be called with the write lock held.
func (t *Table) evictOldestTerminalLocked() bool {
	var h terminalHeap
	for _, tk := range t.tasks {
		if tk.Status.Terminal() {
			h = append(h, tk)
		}
	}
	if len(h) == 0 {
		return false
	}
	heap.Init(&h)
	oldest := heap.Pop(&h).(*Task)
	delete(t.tasks, oldest.ID)
	return true
}

// terminalHeap orders terminal tasks by CompletedAt ascending so the oldest
// sits at the root; used only transiently during eviction.
type terminalHeap []*Task

func (h terminalHeap) Len() int { return len(h) }
func (h terminalHeap) Less(i, j int) bool {
	ci, cj := h[i].CompletedAt, h[j].CompletedAt
	if ci == nil || cj == nil {
		return false
	}
	return ci.Before(*cj)
}
func (h terminalHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *terminalHeap) Push(x any)        { *h = append(*h, x.(*Task)) }
func (h *terminalHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// StartSweeper launches the background goroutine that evicts terminal tasks
// past the configured TTL. Call Stop to terminate it.
func (t *Table) StartSweeper(ctx context.Context, interval time.Duration) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
}

func (t *Table) sweep() {
	now := time.Now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, tk := range t.tasks {
		if !tk.Status.Terminal() || tk.CompletedAt == nil {
			continue
		}
		if now.Sub(*tk.CompletedAt) > t.ttl {
			delete(t.tasks, id)
		}
	}
}

// Stop terminates the sweeper goroutine and waits for it to exit.
func (t *Table) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}
