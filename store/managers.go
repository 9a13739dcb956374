package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldline/fieldline/idgen"
)

// Manager is a business-manager account. Managers own jobs 1:1 — the manager
// ID is the owner identifier throughout the system.
type Manager struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// CreateManager inserts a manager account with a pre-hashed password.
func (s *Store) CreateManager(ctx context.Context, email, name, passwordHash string) (*Manager, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("store: create manager: email is required")
	}
	if passwordHash == "" {
		return nil, fmt.Errorf("store: create manager: password hash is required")
	}

	now := time.Now()
	m := &Manager{
		ID:           idgen.Prefixed("mgr_", idgen.Default)(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         "manager",
		CreatedAt:    now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO managers (id, email, name, password_hash, role, created_at)
		VALUES (?,?,?,?,?,?)`,
		m.ID, m.Email, m.Name, m.PasswordHash, m.Role, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: create manager: %w", err)
	}
	return m, nil
}

// GetManagerByEmail looks up a manager for login. Returns ErrNotFound.
func (s *Store) GetManagerByEmail(ctx context.Context, email string) (*Manager, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var m Manager
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, role, created_at
		FROM managers WHERE email = ?`, email).
		Scan(&m.ID, &m.Email, &m.Name, &m.PasswordHash, &m.Role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get manager: %w", err)
	}
	m.CreatedAt = time.UnixMilli(createdAt)
	return &m, nil
}

// CountManagers reports how many manager accounts exist (admin seeding).
func (s *Store) CountManagers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM managers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count managers: %w", err)
	}
	return n, nil
}
