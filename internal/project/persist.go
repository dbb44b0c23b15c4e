package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AGENTFABRIC/internal/types"
)

// MemoryMetadata is the metadata block of a persisted memory document
type MemoryMetadata struct {
	CreatedAt    time.Time `json:"created_at"`
	TotalEntries int       `json:"total_entries"`
	LastAccessed time.Time `json:"last_accessed"`
}

// MemoryDocument is the on-disk layout of a project's memory
type MemoryDocument struct {
	Project  *types.Project                                   `json:"project"`
	Memory   map[types.MemoryPartition]map[string]interface{} `json:"memory"`
	Metadata MemoryMetadata                                   `json:"metadata"`
}

// Document pairs the memory and budget files for one project
type Document struct {
	Memory *MemoryDocument
	Budget *types.Budget
}

// Persister writes one memory document and one budget document per project
// id under dir. Saves are debounced per project.
type Persister struct {
	dir string

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewPersister creates a persister rooted at dir
func NewPersister(dir string) (*Persister, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create project data dir: %w", err)
	}
	return &Persister{
		dir:    dir,
		timers: make(map[string]*time.Timer),
	}, nil
}

// Schedule debounces a save of the given document. onErr is called when the
// eventual write fails.
func (p *Persister) Schedule(id string, doc Document, onErr func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[id]; ok {
		t.Stop()
	}
	p.timers[id] = time.AfterFunc(500*time.Millisecond, func() {
		if err := p.Save(id, doc); err != nil && onErr != nil {
			onErr(err)
		}
	})
}

// Save writes both documents immediately
func (p *Persister) Save(id string, doc Document) error {
	if doc.Memory != nil {
		if err := p.writeJSON(p.memoryPath(id), doc.Memory); err != nil {
			return err
		}
	}
	if doc.Budget != nil {
		if err := p.writeJSON(p.budgetPath(id), doc.Budget); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll reads every persisted project document from dir
func (p *Persister) LoadAll() ([]Document, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read project data dir: %w", err)
	}

	var docs []Document
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".memory.json") {
			continue
		}
		id := strings.TrimSuffix(name, ".memory.json")

		var mem MemoryDocument
		if err := p.readJSON(p.memoryPath(id), &mem); err != nil {
			return nil, err
		}

		doc := Document{Memory: &mem}
		var budget types.Budget
		if err := p.readJSON(p.budgetPath(id), &budget); err == nil {
			doc.Budget = &budget
		} else if !os.IsNotExist(err) {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (p *Persister) memoryPath(id string) string {
	return filepath.Join(p.dir, id+".memory.json")
}

func (p *Persister) budgetPath(id string) string {
	return filepath.Join(p.dir, id+".budget.json")
}

func (p *Persister) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (p *Persister) readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// buildDocument snapshots an entry into its persisted form.
// Caller must hold entry.mu.
func buildDocument(entry *projectEntry) Document {
	total := 0
	memCopy := make(map[types.MemoryPartition]map[string]interface{}, 3)
	for part, kv := range entry.memory {
		cp := make(map[string]interface{}, len(kv))
		for k, v := range kv {
			cp[k] = v
		}
		memCopy[part] = cp
		total += len(kv)
	}
	projCopy := *entry.project
	budgetCopy := *entry.budget
	budgetCopy.Transactions = append([]types.BudgetTransaction(nil), entry.budget.Transactions...)
	budgetCopy.Triggered = append([]float64(nil), entry.budget.Triggered...)

	return Document{
		Memory: &MemoryDocument{
			Project: &projCopy,
			Memory:  memCopy,
			Metadata: MemoryMetadata{
				CreatedAt:    entry.project.CreatedAt,
				TotalEntries: total,
				LastAccessed: time.Now(),
			},
		},
		Budget: &budgetCopy,
	}
}

// entryFromDocument reconstitutes a project entry from disk
func entryFromDocument(doc Document) *projectEntry {
	if doc.Memory == nil || doc.Memory.Project == nil {
		return nil
	}
	entry := &projectEntry{
		project: doc.Memory.Project,
		memory:  doc.Memory.Memory,
		budget:  doc.Budget,
	}
	if entry.memory == nil {
		entry.memory = newMemory()
	}
	for _, part := range []types.MemoryPartition{types.MemoryShortTerm, types.MemoryLongTerm, types.MemoryContext} {
		if entry.memory[part] == nil {
			entry.memory[part] = map[string]interface{}{}
		}
	}
	if entry.budget == nil {
		entry.budget = types.NewBudget(0, "USD")
	}
	return entry
}
