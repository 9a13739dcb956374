// Package store is the authoritative persistence layer for jobs, tasks, and
// notes. It is the only component that mutates a job record; stream sessions
// are read-only observers.
//
// Every mutating operation reports to the mutation notifier exactly once per
// logical mutation — a "complete all" touching five tasks is still one
// notification. The notifier call happens after the transaction commits, so
// a counter bump never signals a change that rolled back.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fieldline/fieldline/idgen"
)

// Role identifies which capability token a viewer presents.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleTechnician Role = "technician"
)

// ParseRole validates a role string from the wire.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(s)) {
	case RoleCustomer:
		return RoleCustomer, nil
	case RoleTechnician:
		return RoleTechnician, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

var (
	// ErrNotFound is returned when a job, task, or note does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidRole is returned for a role outside {customer, technician}.
	ErrInvalidRole = errors.New("store: invalid role")
)

// Job is the shared mutable record coordinating manager, technician, and
// customer. The two capability tokens double as anonymous-viewer bearer
// credentials for the corresponding roles.
type Job struct {
	ID              string
	OwnerID         string
	Title           string
	CustomerName    string
	CustomerPhone   string
	TechnicianToken string
	CustomerToken   string
	AssignedTo      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Tasks           []Task
	Notes           []Note
}

// Token returns the capability token for the given role.
func (j *Job) Token(role Role) string {
	if role == RoleTechnician {
		return j.TechnicianToken
	}
	return j.CustomerToken
}

// Task is one checklist item. Position is the canonical creation order and
// never changes when tasks are completed.
type Task struct {
	ID        string
	JobID     string
	Label     string
	Done      bool
	Position  int
	CreatedAt time.Time
}

// Note is one entry in the job's note log.
type Note struct {
	ID         string
	JobID      string
	AuthorRole Role
	Body       string
	CreatedAt  time.Time
}

// JobSummary is a list-view row for an owner's job list.
type JobSummary struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CustomerName   string    `json:"customer_name"`
	AssignedTo     string    `json:"assigned_to"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Notifier receives exactly one call per logical mutation. Implemented by
// the notify package; replaced by counters in tests.
type Notifier interface {
	JobMutated(jobID, ownerID string)
	OwnerMutated(ownerID string)
}

// nopNotifier is used when no notifier is wired (tests, offline tooling).
type nopNotifier struct{}

func (nopNotifier) JobMutated(string, string) {}
func (nopNotifier) OwnerMutated(string)       {}

// Store provides CRUD over the authoritative job database.
type Store struct {
	db       *sql.DB
	notifier Notifier
	logger   *slog.Logger
	newJobID idgen.Generator
	newTskID idgen.Generator
	newNotID idgen.Generator
	newToken idgen.Generator
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier wires the mutation notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTokenGenerator overrides capability token minting (tests).
func WithTokenGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newToken = gen }
}

// New creates a Store. Call Init on the database before first use.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:       db,
		notifier: nopNotifier{},
		logger:   slog.Default(),
		newJobID: idgen.Prefixed("job_", idgen.Default),
		newTskID: idgen.Prefixed("tsk_", idgen.Default),
		newNotID: idgen.Prefixed("not_", idgen.Default),
		newToken: idgen.DefaultToken,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateJobInput carries the fields for a new job.
type CreateJobInput struct {
	OwnerID       string
	Title         string
	CustomerName  string
	CustomerPhone string
	TaskLabels    []string
}

// CreateJob inserts a new job with its initial task list and freshly minted
// capability tokens. Notifies the owner channel once.
func (s *Store) CreateJob(ctx context.Context, in CreateJobInput) (*Job, error) {
	if in.OwnerID == "" {
		return nil, fmt.Errorf("store: create job: owner id is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("store: create job: title is required")
	}

	now := time.Now()
	job := &Job{
		ID:              s.newJobID(),
		OwnerID:         in.OwnerID,
		Title:           strings.TrimSpace(in.Title),
		CustomerName:    in.CustomerName,
		CustomerPhone:   in.CustomerPhone,
		TechnicianToken: s.newToken(),
		CustomerToken:   s.newToken(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: create job: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, owner_id, title, customer_name, customer_phone,
			technician_token, customer_token, assigned_to, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		job.ID, job.OwnerID, job.Title, job.CustomerName, job.CustomerPhone,
		job.TechnicianToken, job.CustomerToken, "", now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: create job: insert: %w", err)
	}

	for i, label := range in.TaskLabels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		task := Task{
			ID:        s.newTskID(),
			JobID:     job.ID,
			Label:     label,
			Position:  i + 1,
			CreatedAt: now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, job_id, label, done, position, created_at)
			VALUES (?,?,?,0,?,?)`,
			task.ID, task.JobID, task.Label, task.Position, now.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("store: create job: insert task: %w", err)
		}
		job.Tasks = append(job.Tasks, task)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: create job: commit: %w", err)
	}

	s.notifier.OwnerMutated(job.OwnerID)
	s.logger.Info("job created", "job_id", job.ID, "owner_id", job.OwnerID, "tasks", len(job.Tasks))
	return job, nil
}

// GetJobByID loads a job with its tasks (creation order) and notes
// (insertion order). Returns ErrNotFound for an unknown ID.
func (s *Store) GetJobByID(ctx context.Context, id string) (*Job, error) {
	return s.getJob(ctx, `SELECT id, owner_id, title, customer_name, customer_phone,
		technician_token, customer_token, assigned_to, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
}

// GetJobByToken loads a job by capability token. The role selects which token
// column is matched — a technician token never authorizes the customer role
// and vice versa.
func (s *Store) GetJobByToken(ctx context.Context, role Role, token string) (*Job, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var column string
	switch role {
	case RoleTechnician:
		column = "technician_token"
	case RoleCustomer:
		column = "customer_token"
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.getJob(ctx, `SELECT id, owner_id, title, customer_name, customer_phone,
		technician_token, customer_token, assigned_to, created_at, updated_at
		FROM jobs WHERE `+column+` = ?`, token)
}

func (s *Store) getJob(ctx context.Context, query, arg string) (*Job, error) {
	var j Job
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&j.ID, &j.OwnerID, &j.Title, &j.CustomerName, &j.CustomerPhone,
		&j.TechnicianToken, &j.CustomerToken, &j.AssignedTo, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	j.CreatedAt = time.UnixMilli(createdAt)
	j.UpdatedAt = time.UnixMilli(updatedAt)

	if j.Tasks, err = s.loadTasks(ctx, j.ID); err != nil {
		return nil, err
	}
	if j.Notes, err = s.loadNotes(ctx, j.ID); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobsByOwner returns list-view summaries for all of an owner's jobs,
// most recently updated first. Intentionally lightweight: the owner stream
// only tells clients to refetch this list, so it must stay cheap.
func (s *Store) ListJobsByOwner(ctx context.Context, ownerID string) ([]JobSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.id, j.title, j.customer_name, j.assigned_to, j.updated_at,
			(SELECT COUNT(*) FROM tasks t WHERE t.job_id = j.id),
			(SELECT COUNT(*) FROM tasks t WHERE t.job_id = j.id AND t.done = 1)
		FROM jobs j WHERE j.owner_id = ?
		ORDER BY j.updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	summaries := []JobSummary{}
	for rows.Next() {
		var sum JobSummary
		var updatedAt int64
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.CustomerName, &sum.AssignedTo,
			&updatedAt, &sum.TotalTasks, &sum.CompletedTasks); err != nil {
			return nil, fmt.Errorf("store: list jobs: scan: %w", err)
		}
		sum.UpdatedAt = time.UnixMilli(updatedAt)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// AssignTechnician records who the job is assigned to. One notification.
func (s *Store) AssignTechnician(ctx context.Context, jobID, technician string) error {
	ownerID, err := s.ownerOf(ctx, jobID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET assigned_to = ?, updated_at = ? WHERE id = ?`,
		technician, time.Now().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("store: assign technician: %w", err)
	}
	s.notifier.JobMutated(jobID, ownerID)
	return nil
}

// DeleteJob removes a job and all its tasks and notes. Notifies the owner
// channel once; per-job viewers observe the loss on their next snapshot load.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	ownerID, err := s.ownerOf(ctx, jobID)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("store: delete job: %w", err)
	}
	s.notifier.OwnerMutated(ownerID)
	s.logger.Info("job deleted", "job_id", jobID, "owner_id", ownerID)
	return nil
}

// ownerOf resolves a job's owner, or ErrNotFound.
func (s *Store) ownerOf(ctx context.Context, jobID string) (string, error) {
	var ownerID string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM jobs WHERE id = ?`, jobID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: owner of %s: %w", jobID, err)
	}
	return ownerID, nil
}

// touchJob advances the job's updated_at inside an existing transaction.
func touchJob(ctx context.Context, tx *sql.Tx, jobID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE jobs SET updated_at = ? WHERE id = ?`,
		now.UnixMilli(), jobID)
	return err
}
