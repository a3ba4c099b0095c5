package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mr-karan/checkchef/pkg/models"
)

type resultRow struct {
	ID          string `db:"id"`
	CheckID     string `db:"check_id"`
	Succeeded   bool   `db:"succeeded"`
	Error       string `db:"error"`
	Severity    int    `db:"severity"`
	RawData     []byte `db:"raw_data"`
	StartedAt   int64  `db:"started_at"`
	CompletedAt int64  `db:"completed_at"`
}

func (r resultRow) toModel() models.CheckResult {
	return models.CheckResult{
		ID:          r.ID,
		CheckID:     r.CheckID,
		Succeeded:   r.Succeeded,
		Error:       r.Error,
		Severity:    models.Severity(r.Severity),
		RawData:     r.RawData,
		StartedAt:   fromMillis(r.StartedAt),
		CompletedAt: fromMillis(r.CompletedAt),
	}
}

// InsertResult appends a result to the check's history. An empty ID is filled in.
func (db *DB) InsertResult(ctx context.Context, result *models.CheckResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	_, err := db.writeDB.ExecContext(ctx, db.query("insert-result"),
		result.ID, result.CheckID, boolToInt(result.Succeeded), result.Error, int(result.Severity),
		result.RawData, toMillis(result.StartedAt), toMillis(result.CompletedAt))
	if err != nil {
		db.log.Error("failed to insert check result", "check_id", result.CheckID, "error", err)
		return fmt.Errorf("error inserting check result: %w", err)
	}
	return nil
}

// RecentResults returns up to limit results of a check, newest first.
func (db *DB) RecentResults(ctx context.Context, checkID string, limit int) ([]models.CheckResult, error) {
	if limit <= 0 {
		limit = 1
	}
	var rows []resultRow
	if err := db.readDB.SelectContext(ctx, &rows, db.query("recent-results"), checkID, limit); err != nil {
		return nil, fmt.Errorf("error listing check results: %w", err)
	}
	out := make([]models.CheckResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// PruneResults keeps the newest keep results of a check and deletes the rest.
func (db *DB) PruneResults(ctx context.Context, checkID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := db.writeDB.ExecContext(ctx, db.query("prune-results"), checkID, checkID, keep)
	if err != nil {
		return 0, fmt.Errorf("error pruning check results: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
