package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores documents in Postgres. Expected schema:
//
//	CREATE TABLE documents (
//	    id            TEXT PRIMARY KEY,
//	    owner_id      TEXT NOT NULL,
//	    title         TEXT NOT NULL DEFAULT 'Untitled Document',
//	    content       TEXT NOT NULL DEFAULT '',
//	    last_modified TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (pr *PGRepository) GetByID(ctx context.Context, docID string) (*Document, error) {
	var doc Document
	err := pr.pool.QueryRow(ctx,
		`SELECT id, owner_id, title, content, last_modified FROM documents WHERE id = $1`,
		docID,
	).Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Content, &doc.LastModified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	return &doc, nil
}

func (pr *PGRepository) UpdateContent(ctx context.Context, docID, content string, modified time.Time) error {
	tag, err := pr.pool.Exec(ctx,
		`UPDATE documents SET content = $2, last_modified = $3 WHERE id = $1`,
		docID, content, modified,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	return nil
}
