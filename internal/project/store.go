package project

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/AGENTFABRIC/internal/events"
	"github.com/AGENTFABRIC/internal/types"
	"github.com/google/uuid"
)

// Sentinel errors surfaced to the facade
var (
	ErrNotFound          = errors.New("project not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("invalid project state")
	ErrExcessRelease     = errors.New("release exceeds reserved funds")
)

// AlertFunc is invoked once per newly crossed budget threshold
type AlertFunc func(projectID string, threshold float64, summary types.BudgetSummary)

// Store owns all projects: their memory partitions, goals, agent bindings
// and budgets. All write paths are atomic per project.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*projectEntry

	persister *Persister
	bus       *events.Bus
	alertFn   AlertFunc

	defaultThresholds []float64
}

// projectEntry serializes all mutation of a single project
type projectEntry struct {
	mu      sync.Mutex
	project *types.Project
	memory  map[types.MemoryPartition]map[string]interface{}
	budget  *types.Budget
}

// NewStore creates a project store. persister may be nil for in-memory use.
func NewStore(persister *Persister, bus *events.Bus, thresholds []float64, alertFn AlertFunc) *Store {
	if len(thresholds) == 0 {
		thresholds = types.DefaultAlertThresholds()
	}
	return &Store{
		projects:          make(map[string]*projectEntry),
		persister:         persister,
		bus:               bus,
		alertFn:           alertFn,
		defaultThresholds: thresholds,
	}
}

// newMemory returns the three empty partitions
func newMemory() map[types.MemoryPartition]map[string]interface{} {
	return map[types.MemoryPartition]map[string]interface{}{
		types.MemoryShortTerm: {},
		types.MemoryLongTerm:  {},
		types.MemoryContext:   {},
	}
}

// Create registers a new project with an allocated budget
func (s *Store) Create(name string, goals []string, budgetTotal float64, currency string) (*types.Project, error) {
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	if budgetTotal < 0 {
		return nil, fmt.Errorf("budget total must be non-negative")
	}

	now := time.Now()
	p := &types.Project{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    types.ProjectActive,
		Goals:     goals,
		CreatedAt: now,
		UpdatedAt: now,
	}

	budget := types.NewBudget(budgetTotal, currency)
	budget.AlertThresholds = append([]float64(nil), s.defaultThresholds...)

	entry := &projectEntry{
		project: p,
		memory:  newMemory(),
		budget:  budget,
	}

	s.mu.Lock()
	s.projects[p.ID] = entry
	s.mu.Unlock()

	s.scheduleSave(p.ID, entry)
	return s.snapshotProject(entry), nil
}

// Get returns a snapshot of a project
func (s *Store) Get(id string) (*types.Project, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return s.snapshotProject(entry), nil
}

// List returns snapshots of all projects ordered by creation time
func (s *Store) List() []*types.Project {
	s.mu.RLock()
	entries := make([]*projectEntry, 0, len(s.projects))
	for _, e := range s.projects {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*types.Project, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, s.snapshotProject(e))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sleep transitions an active project to sleeping. Memory and budget are
// preserved exactly.
func (s *Store) Sleep(id string) error {
	return s.transition(id, types.ProjectActive, types.ProjectSleeping)
}

// Wake transitions a sleeping project back to active
func (s *Store) Wake(id string) error {
	return s.transition(id, types.ProjectSleeping, types.ProjectActive)
}

// UpdateStatus sets an explicit project status
func (s *Store) UpdateStatus(id string, status types.ProjectStatus) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	entry.project.Status = status
	entry.project.UpdatedAt = time.Now()
	entry.mu.Unlock()
	s.scheduleSave(id, entry)
	return nil
}

// AssignAgent binds an agent id to the project
func (s *Store) AssignAgent(id, agentID string) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	for _, a := range entry.project.AgentIDs {
		if a == agentID {
			entry.mu.Unlock()
			return nil // already assigned
		}
	}
	entry.project.AgentIDs = append(entry.project.AgentIDs, agentID)
	entry.project.UpdatedAt = time.Now()
	entry.mu.Unlock()
	s.scheduleSave(id, entry)
	return nil
}

// UnassignAgent removes an agent binding from the project
func (s *Store) UnassignAgent(id, agentID string) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	for i, a := range entry.project.AgentIDs {
		if a == agentID {
			entry.project.AgentIDs = append(entry.project.AgentIDs[:i], entry.project.AgentIDs[i+1:]...)
			entry.project.UpdatedAt = time.Now()
			entry.mu.Unlock()
			s.scheduleSave(id, entry)
			return nil
		}
	}
	entry.mu.Unlock()
	return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
}

// MemoryPut stores a value in the given partition
func (s *Store) MemoryPut(id string, partition types.MemoryPartition, key string, value interface{}) error {
	if !types.ValidPartition(partition) {
		return fmt.Errorf("unknown memory partition: %s", partition)
	}
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	entry.memory[partition][key] = value
	entry.project.UpdatedAt = time.Now()
	entry.mu.Unlock()
	s.scheduleSave(id, entry)
	return nil
}

// MemoryGet retrieves a value from the given partition
func (s *Store) MemoryGet(id string, partition types.MemoryPartition, key string) (interface{}, bool, error) {
	if !types.ValidPartition(partition) {
		return nil, false, fmt.Errorf("unknown memory partition: %s", partition)
	}
	entry, err := s.entry(id)
	if err != nil {
		return nil, false, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	v, ok := entry.memory[partition][key]
	return v, ok, nil
}

// MemoryDelete removes a key from the given partition
func (s *Store) MemoryDelete(id string, partition types.MemoryPartition, key string) error {
	if !types.ValidPartition(partition) {
		return fmt.Errorf("unknown memory partition: %s", partition)
	}
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	delete(entry.memory[partition], key)
	entry.mu.Unlock()
	s.scheduleSave(id, entry)
	return nil
}

// ClearShortTerm empties the short-term partition on demand
func (s *Store) ClearShortTerm(id string) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	entry.memory[types.MemoryShortTerm] = map[string]interface{}{}
	entry.mu.Unlock()
	s.scheduleSave(id, entry)
	return nil
}

// MemorySnapshot returns a deep-ish copy of all partitions for inspection
func (s *Store) MemorySnapshot(id string) (map[types.MemoryPartition]map[string]interface{}, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make(map[types.MemoryPartition]map[string]interface{}, 3)
	for part, kv := range entry.memory {
		cp := make(map[string]interface{}, len(kv))
		for k, v := range kv {
			cp[k] = v
		}
		out[part] = cp
	}
	return out, nil
}

// RecordTaskDispatched bumps the project's dispatch counter
func (s *Store) RecordTaskDispatched(id string) {
	if entry, err := s.entry(id); err == nil {
		entry.mu.Lock()
		entry.project.TasksDispatched++
		entry.mu.Unlock()
	}
}

// RecordTaskCompleted bumps the project's completion counter
func (s *Store) RecordTaskCompleted(id string) {
	if entry, err := s.entry(id); err == nil {
		entry.mu.Lock()
		entry.project.TasksCompleted++
		entry.mu.Unlock()
	}
}

// transition moves a project between two statuses atomically
func (s *Store) transition(id string, from, to types.ProjectStatus) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	if entry.project.Status != from {
		status := entry.project.Status
		entry.mu.Unlock()
		return fmt.Errorf("%w: %s is %s, want %s", ErrInvalidState, id, status, from)
	}
	entry.project.Status = to
	entry.project.UpdatedAt = time.Now()
	entry.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.NewEvent(events.EventAgentSignal, "project-store", "all", events.PriorityLow, map[string]interface{}{
			"project_id": id,
			"status":     string(to),
		}))
	}
	s.scheduleSave(id, entry)
	return nil
}

// entry looks up the project entry under the store lock
func (s *Store) entry(id string) (*projectEntry, error) {
	s.mu.RLock()
	entry, ok := s.projects[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return entry, nil
}

// snapshotProject copies the project record; caller must hold entry.mu
func (s *Store) snapshotProject(entry *projectEntry) *types.Project {
	cp := *entry.project
	cp.Goals = append([]string(nil), entry.project.Goals...)
	cp.AgentIDs = append([]string(nil), entry.project.AgentIDs...)
	return &cp
}

// scheduleSave persists the project asynchronously. Persistence failures are
// logged, never retried transparently.
func (s *Store) scheduleSave(id string, entry *projectEntry) {
	if s.persister == nil {
		return
	}
	entry.mu.Lock()
	doc := buildDocument(entry)
	entry.mu.Unlock()
	s.persister.Schedule(id, doc, func(err error) {
		log.Printf("[PROJECT] persist %s failed: %v", id, err)
	})
}

// Restore loads persisted documents back into the store at startup
func (s *Store) Restore() error {
	if s.persister == nil {
		return nil
	}
	docs, err := s.persister.LoadAll()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		entry := entryFromDocument(doc)
		if entry != nil {
			s.projects[entry.project.ID] = entry
		}
	}
	return nil
}
