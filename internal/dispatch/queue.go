package dispatch

import (
	"sort"
	"sync"

	"github.com/AGENTFABRIC/internal/types"
)

// Queue is a thread-safe priority queue holding overflow tasks that could
// not be assigned because the registry was at capacity.
type Queue struct {
	mu    sync.RWMutex
	tasks []*types.Task
	index map[string]*types.Task
}

// NewQueue creates an empty overflow queue
func NewQueue() *Queue {
	return &Queue{
		tasks: make([]*types.Task, 0),
		index: make(map[string]*types.Task),
	}
}

// Add inserts a task, maintaining priority order
func (q *Queue) Add(task *types.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)
	q.index[task.ID] = task
	q.sortLocked()
}

// Peek returns the highest priority task without removing it
func (q *Queue) Peek() *types.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.tasks) == 0 {
		return nil
	}
	return q.tasks[0]
}

// Pop removes and returns the highest priority task
func (q *Queue) Pop() *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil
	}

	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	delete(q.index, task.ID)
	return task
}

// Remove removes a task by ID
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[id]; !exists {
		return false
	}

	delete(q.index, id)
	for i, t := range q.tasks {
		if t.ID == id {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	return true
}

// GetByID returns a queued task by its ID
func (q *Queue) GetByID(id string) *types.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.index[id]
}

// Len returns the number of queued tasks
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}

// All returns a snapshot of queued tasks in priority order
func (q *Queue) All() []*types.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*types.Task, len(q.tasks))
	copy(result, q.tasks)
	return result
}

// sortLocked sorts tasks by priority rank, FIFO within a rank. Caller
// holds the lock.
func (q *Queue) sortLocked() {
	sort.SliceStable(q.tasks, func(i, j int) bool {
		ri, rj := q.tasks[i].Priority.Rank(), q.tasks[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return q.tasks[i].CreatedAt.Before(q.tasks[j].CreatedAt)
	})
}
