package journal

import (
	"fmt"
	"time"

	"github.com/starford/annostore/internal/models"
	"github.com/starford/annostore/internal/store"
)

// Journal defines the changelog operations used by the document service.
type Journal interface {
	RecordChanges(doc, sessionID string, changes []store.Change) error
	RecordSave(doc, sessionID, checksum string) error
	History(doc string, limit int) ([]models.Change, error)
	LastSave(doc string) (*Save, error)
	Close() error
}

// Verify *DB satisfies Journal at compile time.
var _ Journal = (*DB)(nil)

// Save is one committed write of a document.
type Save struct {
	Document  string
	SessionID string
	Checksum  string
	CreatedAt time.Time
}

// RecordChanges appends changes in order within one transaction.
func (db *DB) RecordChanges(doc, sessionID string, changes []store.Change) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO changes (document, session_id, seq, kind, before, after, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("journal: prepare change insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, c := range changes {
		var before, after string
		if c.Before != nil {
			before = c.Before.String()
		}
		if c.After != nil {
			after = c.After.String()
		}
		if _, err := stmt.Exec(doc, sessionID, i, string(c.Kind), before, after, now); err != nil {
			return fmt.Errorf("journal: insert change: %w", err)
		}
	}
	return tx.Commit()
}

// RecordSave notes that sessionID wrote doc with the given checksum.
func (db *DB) RecordSave(doc, sessionID, checksum string) error {
	_, err := db.conn.Exec(`INSERT INTO saves (document, session_id, checksum, created_at) VALUES (?, ?, ?, ?)`,
		doc, sessionID, checksum, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("journal: insert save: %w", err)
	}
	return nil
}

// History returns up to limit changes of doc, newest first. A limit of
// zero or less returns every change.
func (db *DB) History(doc string, limit int) ([]models.Change, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.Query(`
		SELECT kind, before, after, session_id, created_at
		FROM changes
		WHERE document = ?
		ORDER BY id DESC
		LIMIT ?
	`, doc, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: history: %w", err)
	}
	defer rows.Close()

	out := []models.Change{}
	for rows.Next() {
		var c models.Change
		if err := rows.Scan(&c.Kind, &c.Before, &c.After, &c.SessionID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastSave returns the most recent save of doc, or nil when there is none.
func (db *DB) LastSave(doc string) (*Save, error) {
	rows, err := db.conn.Query(`
		SELECT document, session_id, checksum, created_at
		FROM saves
		WHERE document = ?
		ORDER BY id DESC
		LIMIT 1
	`, doc)
	if err != nil {
		return nil, fmt.Errorf("journal: last save: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var s Save
	if err := rows.Scan(&s.Document, &s.SessionID, &s.Checksum, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
