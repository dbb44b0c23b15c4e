package decompose

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/AGENTFABRIC/internal/types"
)

// taskSpec pairs a closed task type with the capability that serves it
type taskSpec struct {
	Type       string
	Capability types.Capability
}

// Closed task-type table. Every emitted task type maps to exactly one
// agent capability.
var (
	specIngest    = taskSpec{"ingest", types.CapDataIngestion}
	specResearch  = taskSpec{"research", types.CapTechScouting}
	specAnalyze   = taskSpec{"analyze", types.CapCodeAnalysis}
	specGenerate  = taskSpec{"generate", types.CapContentGeneration}
	specFinance   = taskSpec{"finance", types.CapFinance}
	specValidate  = taskSpec{"validate", types.CapValidation}
	specAggregate = taskSpec{"aggregate", types.CapAggregation}
)

// phase maps trigger keywords to a task spec. Order matters: phases are
// evaluated top to bottom so decomposition is deterministic.
type phase struct {
	spec     taskSpec
	keywords []string
}

var phases = []phase{
	{specIngest, []string{"ingest", "import", "collect", "load", "dataset", "data"}},
	{specResearch, []string{"research", "investigate", "scout", "explore", "find", "survey"}},
	{specAnalyze, []string{"analyze", "analysis", "review", "audit", "code", "inspect"}},
	{specFinance, []string{"cost", "budget", "price", "forecast", "finance", "spend"}},
	{specGenerate, []string{"write", "create", "generate", "build", "draft", "produce", "report", "summarize"}},
	{specValidate, []string{"verify", "validate", "test", "check", "confirm"}},
}

// Options bound the decomposition
type Options struct {
	Priority types.Priority // inherited by every emitted task
	MaxTasks int            // 0 = unbounded
}

// Decomposer turns a goal string into a DAG of micro-tasks. Given identical
// input it emits an identical DAG.
type Decomposer struct{}

// New creates a decomposer
func New() *Decomposer {
	return &Decomposer{}
}

// Decompose builds the task DAG for a goal. Dependencies always reference
// earlier-emitted tasks, so the result is acyclic by construction.
func (d *Decomposer) Decompose(goal string, opts Options) ([]*types.Task, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, fmt.Errorf("goal is required")
	}
	if opts.Priority == "" {
		opts.Priority = types.PriorityNormal
	}
	if !types.ValidPriority(opts.Priority) {
		return nil, fmt.Errorf("unknown priority: %s", opts.Priority)
	}

	prefix := idPrefix(goal)
	lower := strings.ToLower(goal)

	var tasks []*types.Task
	emit := func(spec taskSpec, deps []string) *types.Task {
		t := types.NewTask(fmt.Sprintf("%s-t%d", prefix, len(tasks)+1), spec.Type, spec.Capability, opts.Priority)
		t.DependsOn = deps
		t.Parameters = map[string]interface{}{"goal": goal}
		tasks = append(tasks, t)
		return t
	}

	// Gather tasks in phase order; later phases depend on the earlier ones
	// that feed them.
	var ingestID, researchID, analyzeID, generateID string
	for _, ph := range phases {
		if !containsAny(lower, ph.keywords) {
			continue
		}
		var deps []string
		switch ph.spec.Type {
		case "analyze":
			deps = collectIDs(ingestID, researchID)
		case "finance":
			deps = collectIDs(ingestID)
		case "generate":
			deps = collectIDs(analyzeID, researchID)
		case "validate":
			deps = collectIDs(generateID, analyzeID)
		}
		t := emit(ph.spec, deps)
		switch ph.spec.Type {
		case "ingest":
			ingestID = t.ID
		case "research":
			researchID = t.ID
		case "analyze":
			analyzeID = t.ID
		case "generate":
			generateID = t.ID
		}
	}

	// A goal that matches nothing still produces work: research it, then
	// write up the result.
	if len(tasks) == 0 {
		r := emit(specResearch, nil)
		emit(specGenerate, []string{r.ID})
	}

	// Fan leaf outputs into a final aggregation task.
	if leaves := leafIDs(tasks); len(leaves) > 1 {
		emit(specAggregate, leaves)
	}

	if opts.MaxTasks > 0 && len(tasks) > opts.MaxTasks {
		tasks = tasks[:opts.MaxTasks]
	}

	if err := Validate(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Validate checks the scheduler's contract: unique ids, dependencies that
// reference earlier tasks, no cycles.
func Validate(tasks []*types.Task) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %s", t.ID)
		}
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %s depends on %s which is not an earlier task", t.ID, dep)
			}
		}
		seen[t.ID] = true
	}
	return nil
}

// leafIDs returns ids of tasks no other task depends on
func leafIDs(tasks []*types.Task) []string {
	depended := make(map[string]bool)
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			depended[dep] = true
		}
	}
	var leaves []string
	for _, t := range tasks {
		if !depended[t.ID] {
			leaves = append(leaves, t.ID)
		}
	}
	return leaves
}

// idPrefix derives a stable 8-hex-char prefix from the goal text
func idPrefix(goal string) string {
	sum := sha256.Sum256([]byte(goal))
	return fmt.Sprintf("%x", sum[:4])
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func collectIDs(ids ...string) []string {
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
