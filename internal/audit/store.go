// Package audit persists decision transitions and cost entries to SQLite
// so the trail survives restarts. The in-memory components stay the source
// of truth; this store is write-mostly with a few reporting queries.
package audit

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AGENTFABRIC/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// Store is the SQLite-backed audit trail. It satisfies the gate recorder
// and cost recorder interfaces.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the audit database at path
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db: %w", err)
	}

	// Single writer connection; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate audit db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordDecision appends one decision transition to the audit trail
func (s *Store) RecordDecision(d *types.Decision) error {
	actions, err := json.Marshal(d.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO decision_audit
			(decision_id, status, criticality, user_input, requested_by, project_id,
			 actions_json, estimated_cost, reason, created_at, expires_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		string(d.Status),
		string(d.Criticality),
		d.UserInput,
		nullString(d.RequestedBy),
		nullString(d.ProjectID),
		string(actions),
		d.EstimatedCost,
		nullString(d.Reason),
		d.CreatedAt,
		d.ExpiresAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record decision %s: %w", d.ID, err)
	}
	return nil
}

// RecordCost appends one cost entry to the audit trail
func (s *Store) RecordCost(entry types.CostEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO cost_audit (operation, cost, occurred_at)
		VALUES (?, ?, ?)`,
		entry.Operation,
		entry.Cost,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record cost: %w", err)
	}
	return nil
}

// DecisionTransition is one audited status change
type DecisionTransition struct {
	DecisionID  string    `json:"decision_id"`
	Status      string    `json:"status"`
	Criticality string    `json:"criticality"`
	Reason      string    `json:"reason,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// DecisionHistory returns the transitions recorded for a decision, oldest first
func (s *Store) DecisionHistory(decisionID string) ([]DecisionTransition, error) {
	rows, err := s.db.Query(`
		SELECT decision_id, status, criticality, reason, recorded_at
		FROM decision_audit
		WHERE decision_id = ?
		ORDER BY id ASC`,
		decisionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision history: %w", err)
	}
	defer rows.Close()

	var out []DecisionTransition
	for rows.Next() {
		var t DecisionTransition
		var reason sql.NullString
		if err := rows.Scan(&t.DecisionID, &t.Status, &t.Criticality, &reason, &t.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision transition: %w", err)
		}
		t.Reason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// CostSince returns persisted cost entries newer than the cutoff, oldest first
func (s *Store) CostSince(cutoff time.Time) ([]types.CostEntry, error) {
	rows, err := s.db.Query(`
		SELECT operation, cost, occurred_at
		FROM cost_audit
		WHERE occurred_at >= ?
		ORDER BY id ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost entries: %w", err)
	}
	defer rows.Close()

	var out []types.CostEntry
	for rows.Next() {
		var e types.CostEntry
		if err := rows.Scan(&e.Operation, &e.Cost, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan cost entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// nullString converts an empty string to sql.NullString
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
