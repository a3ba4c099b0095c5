package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mr-karan/checkchef/pkg/models"
)

type checkRow struct {
	ID         string `db:"id"`
	Active     bool   `db:"active"`
	Definition string `db:"definition"`
	UpdatedAt  int64  `db:"updated_at"`
}

func (r checkRow) toModel() (models.CheckDefinition, error) {
	var def models.CheckDefinition
	if err := json.Unmarshal([]byte(r.Definition), &def); err != nil {
		return def, fmt.Errorf("decoding check %s: %w", r.ID, err)
	}
	def.ID = r.ID
	def.Active = r.Active
	def.UpdatedAt = fromMillis(r.UpdatedAt)
	return def, nil
}

func checkColumns(def models.CheckDefinition) (dashboardUID sql.NullString, definition string, err error) {
	if def.Metrics != nil && def.Metrics.Upstream != nil {
		dashboardUID = sql.NullString{String: def.Metrics.Upstream.DashboardUID, Valid: true}
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return dashboardUID, "", fmt.Errorf("encoding check %s: %w", def.ID, err)
	}
	return dashboardUID, string(raw), nil
}

// CreateCheckIfMissing inserts def unless a check with the same id exists. It reports
// whether a row was written; existing rows are never overwritten.
func (db *DB) CreateCheckIfMissing(ctx context.Context, def models.CheckDefinition) (bool, error) {
	dashboardUID, definition, err := checkColumns(def)
	if err != nil {
		return false, err
	}
	now := time.Now().UnixMilli()
	res, err := db.writeDB.ExecContext(ctx, db.query("insert-check"),
		def.ID, def.Name, string(def.Kind), def.Owner, boolToInt(def.Active),
		def.FrequencySeconds, def.Debounce, dashboardUID, definition, now, now)
	if err != nil {
		db.log.Error("failed to insert check", "check_id", def.ID, "error", err)
		return false, fmt.Errorf("error inserting check: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// UpdateCheckDefinition replaces the stored definition of an existing check.
func (db *DB) UpdateCheckDefinition(ctx context.Context, def models.CheckDefinition) error {
	dashboardUID, definition, err := checkColumns(def)
	if err != nil {
		return err
	}
	res, err := db.writeDB.ExecContext(ctx, db.query("update-check"),
		def.Name, string(def.Kind), def.Owner, boolToInt(def.Active), def.FrequencySeconds,
		def.Debounce, dashboardUID, definition, time.Now().UnixMilli(), def.ID)
	if err != nil {
		db.log.Error("failed to update check", "check_id", def.ID, "error", err)
		return fmt.Errorf("error updating check: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("updating check %s: %w", def.ID, ErrNotFound)
	}
	return nil
}

// SetCheckActive activates or deactivates a check.
func (db *DB) SetCheckActive(ctx context.Context, id string, active bool) error {
	res, err := db.writeDB.ExecContext(ctx, db.query("set-check-active"), boolToInt(active), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("error updating check state: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("updating check %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetCheck returns a single check. It returns ErrNotFound if the check does not exist.
func (db *DB) GetCheck(ctx context.Context, id string) (*models.CheckDefinition, error) {
	var row checkRow
	if err := db.readDB.GetContext(ctx, &row, db.query("get-check"), id); err != nil {
		return nil, handleNotFoundError(err, fmt.Sprintf("getting check %s", id))
	}
	def, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// ListChecks returns every stored check.
func (db *DB) ListChecks(ctx context.Context) ([]models.CheckDefinition, error) {
	return db.listChecks(ctx, "list-checks")
}

// ListActiveChecks returns checks eligible for evaluation.
func (db *DB) ListActiveChecks(ctx context.Context) ([]models.CheckDefinition, error) {
	return db.listChecks(ctx, "list-active-checks")
}

// ListLinkedChecks returns active metrics checks created from a dashboard panel, grouped
// by dashboard.
func (db *DB) ListLinkedChecks(ctx context.Context) ([]models.CheckDefinition, error) {
	return db.listChecks(ctx, "list-linked-checks")
}

// CountChecks returns the number of stored checks.
func (db *DB) CountChecks(ctx context.Context) (int, error) {
	var n int
	if err := db.readDB.GetContext(ctx, &n, db.query("count-checks")); err != nil {
		return 0, fmt.Errorf("error counting checks: %w", err)
	}
	return n, nil
}

func (db *DB) listChecks(ctx context.Context, queryName string) ([]models.CheckDefinition, error) {
	var rows []checkRow
	if err := db.readDB.SelectContext(ctx, &rows, db.query(queryName)); err != nil {
		db.log.Error("failed to list checks", "query", queryName, "error", err)
		return nil, fmt.Errorf("error listing checks: %w", err)
	}
	out := make([]models.CheckDefinition, 0, len(rows))
	for _, r := range rows {
		def, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}
