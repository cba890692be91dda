package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// Document is one stored row: a whole document with its write version.
type Document struct {
	Key       string
	Value     json.RawMessage
	Version   int64
	UpdatedAt time.Time
}

// Documents reads rows of the documents table directly, without the
// subscription machinery of Postgres.
type Documents struct {
	db *sql.DB
}

func NewDocuments(db *sql.DB) *Documents {
	return &Documents{db: db}
}

// LoadDocument reads a whole document row. A missing row is returned with
// Version 0 and no value.
func (d *Documents) LoadDocument(ctx context.Context, key string) (Document, error) {
	doc := Document{Key: key}
	var raw pqtype.NullRawMessage
	err := d.db.QueryRowContext(ctx,
		`SELECT value, version, updated_at FROM documents WHERE key = $1`, key,
	).Scan(&raw, &doc.Version, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return doc, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to load document %s: %w", key, err)
	}
	if raw.Valid {
		doc.Value = raw.RawMessage
	}
	return doc, nil
}

// Cursor is a position in the (updated_at, key) order of documents.
type Cursor struct {
	UpdatedAt time.Time
	Key       string
}

// After reports whether doc sorts after c.
func (c Cursor) After(doc Document) bool {
	if doc.UpdatedAt.Equal(c.UpdatedAt) {
		return doc.Key > c.Key
	}
	return doc.UpdatedAt.After(c.UpdatedAt)
}

// CursorAt returns the position of doc.
func CursorAt(doc Document) Cursor {
	return Cursor{UpdatedAt: doc.UpdatedAt, Key: doc.Key}
}

// ChangedSince lists documents positioned after the cursor, in
// (updated_at, key) order, so rows sharing a timestamp are never skipped
// between pages.
func (d *Documents) ChangedSince(ctx context.Context, after Cursor, limit int) ([]Document, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT key, value, version, updated_at FROM documents
		 WHERE (updated_at, key) > ($1, $2) ORDER BY updated_at, key LIMIT $3`,
		after.UpdatedAt, after.Key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var raw pqtype.NullRawMessage
		if err := rows.Scan(&d.Key, &raw, &d.Version, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if raw.Valid {
			d.Value = raw.RawMessage
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
