package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/notejournal/journal/internal/journal/model"
)

// ReplaceTags swaps the whole tag list for tags in one transaction.
func (db *DB) ReplaceTags(ctx context.Context, tags []model.Tag) error {
	for i := range tags {
		if err := tags[i].Validate(); err != nil {
			return err
		}
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tags`); err != nil {
			return fmt.Errorf("failed to clear tags: %w", err)
		}
		for _, tag := range tags {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO tags (id, ord, value) VALUES (?, ?, ?)`,
				tag.ID, tag.Order, tag.Value)
			if err != nil {
				return fmt.Errorf("failed to insert tag %s: %w", tag.Value, err)
			}
		}
		return nil
	})
}

// UpsertTag adds a tag or updates the order of the tag with the same value.
func (db *DB) UpsertTag(ctx context.Context, tag model.Tag) error {
	if err := tag.Validate(); err != nil {
		return err
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tags (id, ord, value) VALUES (?, ?, ?)
		ON CONFLICT(value) DO UPDATE SET ord = excluded.ord`,
		tag.ID, tag.Order, tag.Value)
	if err != nil {
		return fmt.Errorf("failed to upsert tag %s: %w", tag.Value, err)
	}
	return nil
}

// DeleteTag removes the tag named value. Entries keep their tag text.
func (db *DB) DeleteTag(ctx context.Context, value string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM tags WHERE value = ?`, value)
	if err != nil {
		return fmt.Errorf("failed to delete tag %s: %w", value, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tag %s: %w", value, ErrNotFound)
	}
	return nil
}

// Tags returns the tag list ordered by rank, then value.
func (db *DB) Tags(ctx context.Context) ([]model.Tag, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, ord, value FROM tags ORDER BY ord ASC, value ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []model.Tag
	for rows.Next() {
		var tag model.Tag
		if err := rows.Scan(&tag.ID, &tag.Order, &tag.Value); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}
	return tags, nil
}

// ReplaceTemplates swaps the whole template list in one transaction.
func (db *DB) ReplaceTemplates(ctx context.Context, templates []model.JournalEntryTemplate) error {
	for i := range templates {
		if err := templates[i].Validate(); err != nil {
			return err
		}
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM templates`); err != nil {
			return fmt.Errorf("failed to clear templates: %w", err)
		}
		for _, tmpl := range templates {
			if err := insertTemplate(ctx, tx, tmpl); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertTemplate adds a single template.
func (db *DB) InsertTemplate(ctx context.Context, tmpl model.JournalEntryTemplate) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	return insertTemplate(ctx, db.conn, tmpl)
}

func insertTemplate(ctx context.Context, ex execer, tmpl model.JournalEntryTemplate) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO templates (id, text, tag) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text, tag = excluded.tag`,
		tmpl.ID, tmpl.Text, tagToNullString(tmpl.Tag))
	if err != nil {
		return fmt.Errorf("failed to insert template %s: %w", tmpl.ID, err)
	}
	return nil
}

// Templates returns every template, ordered by text.
func (db *DB) Templates(ctx context.Context) ([]model.JournalEntryTemplate, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, text, tag FROM templates ORDER BY text ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []model.JournalEntryTemplate
	for rows.Next() {
		var tmpl model.JournalEntryTemplate
		var tag sql.NullString
		if err := rows.Scan(&tmpl.ID, &tmpl.Text, &tag); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		tmpl.Tag = nullStringToTag(tag)
		templates = append(templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, nil
}
