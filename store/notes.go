package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AddNote appends an entry to the job's note log. One notification.
func (s *Store) AddNote(ctx context.Context, jobID string, author Role, body string) (*Note, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("store: add note: body is required")
	}
	ownerID, err := s.ownerOf(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	note := &Note{
		ID:         s.newNotID(),
		JobID:      jobID,
		AuthorRole: author,
		Body:       body,
		CreatedAt:  now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: add note: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (id, job_id, author_role, body, created_at)
		VALUES (?,?,?,?,?)`,
		note.ID, note.JobID, string(note.AuthorRole), note.Body, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: add note: insert: %w", err)
	}
	if err := touchJob(ctx, tx, jobID, now); err != nil {
		return nil, fmt.Errorf("store: add note: touch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: add note: commit: %w", err)
	}

	s.notifier.JobMutated(jobID, ownerID)
	return note, nil
}

// loadNotes returns notes in insertion order (rowid); the snapshot projector
// handles display ordering.
func (s *Store) loadNotes(ctx context.Context, jobID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, author_role, body, created_at
		FROM notes WHERE job_id = ? ORDER BY rowid`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: load notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		var role string
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.JobID, &role, &n.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("store: load notes: scan: %w", err)
		}
		n.AuthorRole = Role(role)
		n.CreatedAt = time.UnixMilli(createdAt)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
