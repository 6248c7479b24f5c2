package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notejournal/journal/internal/journal/model"
)

// UpsertConflict records c, replacing any earlier conflict for the same entry.
// A replaced conflict keeps its id, so parking the same copy again leaves the
// row unchanged.
func (db *DB) UpsertConflict(ctx context.Context, c model.EntryConflict) error {
	if c.EntryID == "" {
		return fmt.Errorf("%w: conflict needs an entry id", model.ErrInvalidEntry)
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO entry_conflicts (id, entry_id, entry_time, text, tag, sender_name)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			entry_time = excluded.entry_time,
			text = excluded.text,
			tag = excluded.tag,
			sender_name = excluded.sender_name`,
		c.ID, c.EntryID, c.EntryTime.Format(time.RFC3339Nano), c.Text,
		tagToNullString(c.Tag), c.SenderName)
	if err != nil {
		return fmt.Errorf("failed to upsert conflict for entry %s: %w", c.EntryID, err)
	}
	return nil
}

// DeleteConflictsForEntry drops the parked conflict for entryID, if any.
func (db *DB) DeleteConflictsForEntry(ctx context.Context, entryID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM entry_conflicts WHERE entry_id = ?`, entryID); err != nil {
		return fmt.Errorf("failed to delete conflict for entry %s: %w", entryID, err)
	}
	return nil
}

// ConflictForEntry returns the conflict parked against entryID, or
// ErrNotFound.
func (db *DB) ConflictForEntry(ctx context.Context, entryID string) (*model.EntryConflict, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, entry_id, entry_time, text, tag, sender_name
		FROM entry_conflicts WHERE entry_id = ?`, entryID)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conflict for entry %s: %w", entryID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict for entry %s: %w", entryID, err)
	}
	return c, nil
}

// Conflicts returns every parked conflict, oldest entry first.
func (db *DB) Conflicts(ctx context.Context) ([]model.EntryConflict, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, entry_id, entry_time, text, tag, sender_name
		FROM entry_conflicts ORDER BY entry_time ASC, entry_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []model.EntryConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}

// ConflictCount counts the conflicts parked against any of entryIDs.
func (db *DB) ConflictCount(ctx context.Context, entryIDs []string) (int, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entryIDs)), ",")
	args := make([]any, len(entryIDs))
	for i, id := range entryIDs {
		args[i] = id
	}

	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entry_conflicts WHERE entry_id IN (`+placeholders+`)`, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return n, nil
}

func scanConflict(s scanner) (*model.EntryConflict, error) {
	var c model.EntryConflict
	var entryTime string
	var tag sql.NullString
	if err := s.Scan(&c.ID, &c.EntryID, &entryTime, &c.Text, &tag, &c.SenderName); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, entryTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse conflict entry_time %q: %w", entryTime, err)
	}
	c.EntryTime = t
	c.Tag = nullStringToTag(tag)
	return &c, nil
}
