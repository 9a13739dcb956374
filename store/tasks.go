package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AddTask appends a checklist item at the next position. One notification.
func (s *Store) AddTask(ctx context.Context, jobID, label string) (*Task, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("store: add task: label is required")
	}
	ownerID, err := s.ownerOf(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	task := &Task{
		ID:        s.newTskID(),
		JobID:     jobID,
		Label:     label,
		CreatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: add task: begin: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) + 1 FROM tasks WHERE job_id = ?`, jobID).
		Scan(&task.Position)
	if err != nil {
		return nil, fmt.Errorf("store: add task: next position: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, job_id, label, done, position, created_at)
		VALUES (?,?,?,0,?,?)`,
		task.ID, task.JobID, task.Label, task.Position, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: add task: insert: %w", err)
	}
	if err := touchJob(ctx, tx, jobID, now); err != nil {
		return nil, fmt.Errorf("store: add task: touch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: add task: commit: %w", err)
	}

	s.notifier.JobMutated(jobID, ownerID)
	return task, nil
}

// SetTaskDone flips one task's completed flag. One notification, even when
// the flag already held the requested value — the write is the mutation unit.
func (s *Store) SetTaskDone(ctx context.Context, jobID, taskID string, done bool) error {
	ownerID, err := s.ownerOf(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: set task done: begin: %w", err)
	}
	defer tx.Rollback()

	doneVal := 0
	if done {
		doneVal = 1
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET done = ? WHERE id = ? AND job_id = ?`,
		doneVal, taskID, jobID)
	if err != nil {
		return fmt.Errorf("store: set task done: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := touchJob(ctx, tx, jobID, now); err != nil {
		return fmt.Errorf("store: set task done: touch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: set task done: commit: %w", err)
	}

	s.notifier.JobMutated(jobID, ownerID)
	return nil
}

// CompleteAllTasks marks every task done in one statement. One logical
// mutation, one notification — regardless of how many rows it touched.
func (s *Store) CompleteAllTasks(ctx context.Context, jobID string) error {
	ownerID, err := s.ownerOf(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: complete all: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET done = 1 WHERE job_id = ? AND done = 0`, jobID); err != nil {
		return fmt.Errorf("store: complete all: %w", err)
	}
	if err := touchJob(ctx, tx, jobID, now); err != nil {
		return fmt.Errorf("store: complete all: touch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: complete all: commit: %w", err)
	}

	s.notifier.JobMutated(jobID, ownerID)
	return nil
}

func (s *Store) loadTasks(ctx context.Context, jobID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, label, done, position, created_at
		FROM tasks WHERE job_id = ? ORDER BY position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var done int
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.JobID, &t.Label, &done, &t.Position, &createdAt); err != nil {
			return nil, fmt.Errorf("store: load tasks: scan: %w", err)
		}
		t.Done = done == 1
		t.CreatedAt = time.UnixMilli(createdAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
