package store

import (
	"context"
	"time"

	"github.com/bhadraagada/ralphh/internal/apperr"
)

// AutomationRepo persists Automation records.
type AutomationRepo struct {
	pool *Pool
}

// NewAutomationRepo creates an AutomationRepo.
func NewAutomationRepo(pool *Pool) *AutomationRepo { return &AutomationRepo{pool: pool} }

// Create inserts a new automation.
func (r *AutomationRepo) Create(ctx context.Context, a *Automation) error {
	_, err := r.pool.Writer().NamedExecContext(ctx, `
		INSERT INTO automations (id, name, cron_expr, thread_id, max_iterations, enabled, last_triggered, created_at)
		VALUES (:id, :name, :cron_expr, :thread_id, :max_iterations, :enabled, :last_triggered, :created_at)
	`, a)
	return err
}

// Get fetches an automation by id.
func (r *AutomationRepo) Get(ctx context.Context, id string) (*Automation, error) {
	var a Automation
	err := r.pool.Reader().GetContext(ctx, &a, `SELECT * FROM automations WHERE id = ?`, id)
	if err != nil {
		return nil, apperr.NotFound("automation", id)
	}
	return &a, nil
}

// List returns all automations.
func (r *AutomationRepo) List(ctx context.Context) ([]Automation, error) {
	var automations []Automation
	err := r.pool.Reader().SelectContext(ctx, &automations, `SELECT * FROM automations ORDER BY created_at DESC`)
	return automations, err
}

// ListEnabled returns only enabled automations, for the scheduler's tick.
func (r *AutomationRepo) ListEnabled(ctx context.Context) ([]Automation, error) {
	var automations []Automation
	err := r.pool.Reader().SelectContext(ctx, &automations, `SELECT * FROM automations WHERE enabled = 1`)
	return automations, err
}

// SetEnabled toggles an automation's enabled flag.
func (r *AutomationRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := r.pool.Writer().ExecContext(ctx, `UPDATE automations SET enabled = ? WHERE id = ?`, enabled, id)
	return err
}

// MarkTriggered stamps last_triggered, used to enforce at-most-once-per-
// minute-bucket firing.
func (r *AutomationRepo) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Writer().ExecContext(ctx, `UPDATE automations SET last_triggered = ? WHERE id = ?`, at, id)
	return err
}
