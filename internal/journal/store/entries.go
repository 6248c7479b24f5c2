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

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const entryColumns = `id, entry_time, time_zone, text, tag, uploaded, replaces_local, deleted, reconciled`

const upsertEntryQuery = `
	INSERT INTO entries (
		id, entry_time, entry_epoch, entry_date, time_zone, text, tag,
		uploaded, replaces_local, deleted, reconciled
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		entry_time = excluded.entry_time,
		entry_epoch = excluded.entry_epoch,
		entry_date = excluded.entry_date,
		time_zone = excluded.time_zone,
		text = excluded.text,
		tag = excluded.tag,
		uploaded = excluded.uploaded,
		replaces_local = excluded.replaces_local,
		deleted = excluded.deleted,
		reconciled = excluded.reconciled
	`

// UpsertEntry inserts the entry, or overwrites every field of the entry
// with the same id.
func (db *DB) UpsertEntry(ctx context.Context, entry *model.JournalEntry) error {
	return upsertEntry(ctx, db.conn, entry)
}

func upsertEntry(ctx context.Context, ex execer, entry *model.JournalEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	_, err := ex.ExecContext(ctx, upsertEntryQuery,
		entry.ID,
		entry.EntryTime.Format(time.RFC3339Nano),
		entry.EntryTime.UnixNano(),
		entry.Day(),
		entry.TimeZone,
		entry.Text,
		tagToNullString(entry.Tag),
		entry.Uploaded,
		entry.ReplacesLocal,
		entry.Deleted,
		entry.Reconciled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entry %s: %w", entry.ID, err)
	}
	return nil
}

// InsertEntries upserts several entries in one transaction.
func (db *DB) InsertEntries(ctx context.Context, entries []model.JournalEntry) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for i := range entries {
			if err := upsertEntry(ctx, tx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetEntry retrieves a single entry by id. Returns ErrNotFound if absent.
func (db *DB) GetEntry(ctx context.Context, id string) (*model.JournalEntry, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return entry, nil
}

// EntriesForDay returns the non-deleted entries recorded on day, oldest first.
func (db *DB) EntriesForDay(ctx context.Context, day string) ([]model.JournalEntry, error) {
	return db.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE entry_date = ? AND deleted = 0
		ORDER BY entry_epoch ASC, id ASC`, day)
}

// EntriesBetween returns non-deleted entries whose day falls in the
// inclusive range [from, to], oldest first.
func (db *DB) EntriesBetween(ctx context.Context, from, to string) ([]model.JournalEntry, error) {
	return db.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE entry_date >= ? AND entry_date <= ? AND deleted = 0
		ORDER BY entry_epoch ASC, id ASC`, from, to)
}

// EntriesForUpload returns every entry that has not been sent upstream,
// including soft-deleted ones so the deletion propagates.
func (db *DB) EntriesForUpload(ctx context.Context) ([]model.JournalEntry, error) {
	return db.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE uploaded = 0
		ORDER BY entry_epoch ASC, id ASC`)
}

// NotReconciledDays lists the distinct days that still have entries subject
// to the conflict workflow.
func (db *DB) NotReconciledDays(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT DISTINCT entry_date FROM entries
		WHERE reconciled = 0 AND deleted = 0
		ORDER BY entry_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query days: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating days: %w", err)
	}
	return days, nil
}

// MarkUploaded sets the upload flag on the given entries. Marking an entry
// uploaded also clears ReplacesLocal, which only applies to a single send.
func (db *DB) MarkUploaded(ctx context.Context, ids []string, uploaded bool) error {
	if len(ids) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			var err error
			if uploaded {
				_, err = tx.ExecContext(ctx,
					`UPDATE entries SET uploaded = 1, replaces_local = 0 WHERE id = ?`, id)
			} else {
				_, err = tx.ExecContext(ctx, `UPDATE entries SET uploaded = 0 WHERE id = ?`, id)
			}
			if err != nil {
				return fmt.Errorf("failed to mark entry %s uploaded=%t: %w", id, uploaded, err)
			}
		}
		return nil
	})
}

// PurgeDeleted hard-deletes soft-deleted entries that have been uploaded.
func (db *DB) PurgeDeleted(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM entries WHERE deleted = 1 AND uploaded = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deleted entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearDaysAndInsert deletes every entry on the given days, together with
// the conflicts parked against them, and inserts entries, as one transaction.
func (db *DB) ClearDaysAndInsert(ctx context.Context, days []string, entries []model.JournalEntry) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, day := range days {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM entry_conflicts
				WHERE entry_id IN (SELECT id FROM entries WHERE entry_date = ?)`, day); err != nil {
				return fmt.Errorf("failed to clear conflicts for day %s: %w", day, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE entry_date = ?`, day); err != nil {
				return fmt.Errorf("failed to clear day %s: %w", day, err)
			}
		}
		for i := range entries {
			if err := upsertEntry(ctx, tx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkReconciled takes the given entries out of the conflict workflow.
func (db *DB) MarkReconciled(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE entries SET reconciled = 1 WHERE id = ?`, id); err != nil {
				return fmt.Errorf("failed to mark entry %s reconciled: %w", id, err)
			}
		}
		return nil
	})
}

// MarkAllReconciled takes every entry out of the conflict workflow.
func (db *DB) MarkAllReconciled(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `UPDATE entries SET reconciled = 1 WHERE reconciled = 0`); err != nil {
		return fmt.Errorf("failed to mark entries reconciled: %w", err)
	}
	return nil
}

func (db *DB) queryEntries(ctx context.Context, query string, args ...any) ([]model.JournalEntry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*model.JournalEntry, error) {
	var entry model.JournalEntry
	var entryTime string
	var tag sql.NullString

	err := s.Scan(
		&entry.ID,
		&entryTime,
		&entry.TimeZone,
		&entry.Text,
		&tag,
		&entry.Uploaded,
		&entry.ReplacesLocal,
		&entry.Deleted,
		&entry.Reconciled,
	)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, entryTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse entry_time %q: %w", entryTime, err)
	}
	entry.EntryTime = t
	entry.Tag = nullStringToTag(tag)

	return &entry, nil
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// tagToNullString stores the untagged sentinel as NULL.
func tagToNullString(tag string) sql.NullString {
	if model.IsNoTag(strings.TrimSpace(tag)) {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.TrimSpace(tag), Valid: true}
}

func nullStringToTag(ns sql.NullString) string {
	if !ns.Valid {
		return model.NoTag.Value
	}
	return ns.String
}
