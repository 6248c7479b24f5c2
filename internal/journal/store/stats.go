package store

import (
	"context"
	"fmt"
)

// Stats summarizes the local store.
type Stats struct {
	Entries       int    `json:"entries" yaml:"entries"`
	Days          int    `json:"days" yaml:"days"`
	Deleted       int    `json:"deleted" yaml:"deleted"`
	PendingUpload int    `json:"pending_upload" yaml:"pending_upload"`
	NotReconciled int    `json:"not_reconciled" yaml:"not_reconciled"`
	Untagged      int    `json:"untagged" yaml:"untagged"`
	Tags          int    `json:"tags" yaml:"tags"`
	Templates     int    `json:"templates" yaml:"templates"`
	Conflicts     int    `json:"conflicts" yaml:"conflicts"`
	FirstDay      string `json:"first_day,omitempty" yaml:"first_day,omitempty"`
	LastDay       string `json:"last_day,omitempty" yaml:"last_day,omitempty"`
}

// Stats computes counts across all tables.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	var s Stats

	err := db.conn.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT CASE WHEN deleted = 0 THEN entry_date END),
			COALESCE(SUM(CASE WHEN deleted = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN uploaded = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN reconciled = 0 AND deleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN tag IS NULL AND deleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(MIN(CASE WHEN deleted = 0 THEN entry_date END), ''),
			COALESCE(MAX(CASE WHEN deleted = 0 THEN entry_date END), '')
		FROM entries`).Scan(
		&s.Entries, &s.Days, &s.Deleted, &s.PendingUpload,
		&s.NotReconciled, &s.Untagged, &s.FirstDay, &s.LastDay,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute entry stats: %w", err)
	}

	counts := []struct {
		table string
		dst   *int
	}{
		{"tags", &s.Tags},
		{"templates", &s.Templates},
		{"entry_conflicts", &s.Conflicts},
	}
	for _, c := range counts {
		if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	return &s, nil
}
