// Package snapshot projects the authoritative job record into the
// read-optimized view pushed to connected viewers.
//
// Project is pure and deterministic: it recomputes everything from the job on
// every call and never caches, because counts can change between two
// consecutive polls of the same session.
package snapshot

import (
	"math"
	"sort"
	"time"

	"github.com/fieldline/fieldline/store"
)

// Snapshot is a derived, immutable view of a job at one point in time.
type Snapshot struct {
	JobID           string     `json:"job_id"`
	Title           string     `json:"title"`
	CustomerName    string     `json:"customer_name"`
	AssignedTo      string     `json:"assigned_to"`
	TotalTasks      int        `json:"total_tasks"`
	CompletedTasks  int        `json:"completed_tasks"`
	ProgressPercent int        `json:"progress_percent"`
	AllCompleted    bool       `json:"all_completed"`
	Tasks           []TaskView `json:"tasks"`
	Notes           []NoteView `json:"notes"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TaskView is one checklist item in canonical creation order.
type TaskView struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Done     bool   `json:"done"`
	Position int    `json:"position"`
}

// NoteView is one note entry, most recent first in the snapshot.
type NoteView struct {
	ID         string    `json:"id"`
	AuthorRole string    `json:"author_role"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// Project computes a fresh Snapshot from a job.
//
// Rules:
//   - progress is the half-up rounded percentage of completed tasks, 0 when
//     the job has no tasks
//   - a job with zero tasks is never "all completed"
//   - tasks keep creation order; completing a task does not re-sort it
//   - notes are ordered newest first, ties keeping insertion order
func Project(job *store.Job) Snapshot {
	snap := Snapshot{
		JobID:        job.ID,
		Title:        job.Title,
		CustomerName: job.CustomerName,
		AssignedTo:   job.AssignedTo,
		UpdatedAt:    job.UpdatedAt,
		Tasks:        make([]TaskView, 0, len(job.Tasks)),
		Notes:        make([]NoteView, 0, len(job.Notes)),
	}

	for _, t := range job.Tasks {
		snap.TotalTasks++
		if t.Done {
			snap.CompletedTasks++
		}
		snap.Tasks = append(snap.Tasks, TaskView{
			ID:       t.ID,
			Label:    t.Label,
			Done:     t.Done,
			Position: t.Position,
		})
	}

	if snap.TotalTasks > 0 {
		snap.ProgressPercent = int(math.Round(
			float64(snap.CompletedTasks) / float64(snap.TotalTasks) * 100))
		snap.AllCompleted = snap.CompletedTasks == snap.TotalTasks
	}

	for _, n := range job.Notes {
		snap.Notes = append(snap.Notes, NoteView{
			ID:         n.ID,
			AuthorRole: string(n.AuthorRole),
			Body:       n.Body,
			CreatedAt:  n.CreatedAt,
		})
	}
	// Stable sort: equal timestamps keep the store's insertion order.
	sort.SliceStable(snap.Notes, func(i, j int) bool {
		return snap.Notes[i].CreatedAt.After(snap.Notes[j].CreatedAt)
	})

	return snap
}
