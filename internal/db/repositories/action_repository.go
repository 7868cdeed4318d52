// action_repository.go implements ActionRepository, the registry of known action keys and
// their display templates.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/object-log/object-log/internal/db/models"
)

// ActionRepository handles log action database operations
type ActionRepository struct {
	db *sqlx.DB
}

// NewActionRepository creates a new ActionRepository
func NewActionRepository(db *sqlx.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

// Register creates the action or replaces its template.
func (r *ActionRepository) Register(ctx context.Context, action *models.LogAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO log_actions (name, template, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET template = EXCLUDED.template
		RETURNING created_at
	`, action.Name, action.Template, action.CreatedAt).Scan(&action.CreatedAt)
}

// Get retrieves an action by name, or nil when absent
func (r *ActionRepository) Get(ctx context.Context, name string) (*models.LogAction, error) {
	action := &models.LogAction{}
	err := r.db.QueryRowContext(ctx,
		`SELECT name, template, created_at FROM log_actions WHERE name = $1`, name,
	).Scan(&action.Name, &action.Template, &action.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return action, nil
}

// List returns all registered actions ordered by name
func (r *ActionRepository) List(ctx context.Context) ([]*models.LogAction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, template, created_at FROM log_actions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := make([]*models.LogAction, 0)
	for rows.Next() {
		a := &models.LogAction{}
		if err := rows.Scan(&a.Name, &a.Template, &a.CreatedAt); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
