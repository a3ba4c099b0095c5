package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mr-karan/checkchef/pkg/models"
)

type serviceRow struct {
	ID             string        `db:"id"`
	Name           string        `db:"name"`
	CheckIDs       string        `db:"check_ids"`
	Subscribers    string        `db:"subscribers"`
	CurrentStatus  int           `db:"current_status"`
	PreviousStatus int           `db:"previous_status"`
	LastAlertAt    sql.NullInt64 `db:"last_alert_at"`
}

func (r serviceRow) toModel() (models.ServiceState, error) {
	state := models.ServiceState{
		ServiceDefinition: models.ServiceDefinition{ID: r.ID, Name: r.Name},
		Current:           models.ServiceStatus(r.CurrentStatus),
		Previous:          models.ServiceStatus(r.PreviousStatus),
	}
	if err := json.Unmarshal([]byte(r.CheckIDs), &state.CheckIDs); err != nil {
		return state, fmt.Errorf("decoding check ids of service %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Subscribers), &state.Subscribers); err != nil {
		return state, fmt.Errorf("decoding subscribers of service %s: %w", r.ID, err)
	}
	if r.LastAlertAt.Valid {
		at := fromMillis(r.LastAlertAt.Int64)
		state.LastAlertAt = &at
	}
	return state, nil
}

// CreateServiceIfMissing inserts a service unless one with the same id exists.
func (db *DB) CreateServiceIfMissing(ctx context.Context, def models.ServiceDefinition) (bool, error) {
	checkIDs, err := json.Marshal(nonNil(def.CheckIDs))
	if err != nil {
		return false, fmt.Errorf("encoding check ids: %w", err)
	}
	subscribers, err := json.Marshal(nonNil(def.Subscribers))
	if err != nil {
		return false, fmt.Errorf("encoding subscribers: %w", err)
	}
	now := time.Now().UnixMilli()
	res, err := db.writeDB.ExecContext(ctx, db.query("insert-service"), def.ID, def.Name, string(checkIDs), string(subscribers), now, now)
	if err != nil {
		db.log.Error("failed to insert service", "service_id", def.ID, "error", err)
		return false, fmt.Errorf("error inserting service: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// GetService returns a service with its retained status.
func (db *DB) GetService(ctx context.Context, id string) (*models.ServiceState, error) {
	var row serviceRow
	if err := db.readDB.GetContext(ctx, &row, db.query("get-service"), id); err != nil {
		return nil, handleNotFoundError(err, fmt.Sprintf("getting service %s", id))
	}
	state, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ListServices returns every service.
func (db *DB) ListServices(ctx context.Context) ([]models.ServiceState, error) {
	return db.listServices(ctx, "list-services")
}

// ServicesForCheck returns the services a check is attached to.
func (db *DB) ServicesForCheck(ctx context.Context, checkID string) ([]models.ServiceState, error) {
	return db.listServices(ctx, "services-for-check", checkID)
}

func (db *DB) listServices(ctx context.Context, queryName string, args ...any) ([]models.ServiceState, error) {
	var rows []serviceRow
	if err := db.readDB.SelectContext(ctx, &rows, db.query(queryName), args...); err != nil {
		return nil, fmt.Errorf("error listing services: %w", err)
	}
	out := make([]models.ServiceState, 0, len(rows))
	for _, r := range rows {
		state, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

// SaveServiceState persists the status fields of a service after a roll-up cycle.
func (db *DB) SaveServiceState(ctx context.Context, state models.ServiceState) error {
	var lastAlert sql.NullInt64
	if state.LastAlertAt != nil {
		lastAlert = sql.NullInt64{Int64: state.LastAlertAt.UnixMilli(), Valid: true}
	}
	res, err := db.writeDB.ExecContext(ctx, db.query("save-service-state"),
		int(state.Current), int(state.Previous), lastAlert, time.Now().UnixMilli(), state.ID)
	if err != nil {
		return fmt.Errorf("error saving service state: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("saving service %s: %w", state.ID, ErrNotFound)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
