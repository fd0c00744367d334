package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryGetByID(t *testing.T) {
	repo := NewMemoryRepository()
	docID := uuid.NewString()
	repo.Put(&Document{ID: docID, OwnerID: "u1", Title: "Notes", Content: "hello"})

	doc, err := repo.GetByID(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Content)
	assert.Equal(t, "u1", doc.OwnerID)
}

func TestMemoryRepositoryNotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	err = repo.UpdateContent(context.Background(), "nope", "x", time.Now())
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestMemoryRepositoryUpdateContent(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Put(&Document{ID: "d1", Content: "old"})

	modified := time.Now().UTC()
	require.NoError(t, repo.UpdateContent(context.Background(), "d1", "new", modified))

	doc, err := repo.GetByID(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "new", doc.Content)
	assert.Equal(t, modified, doc.LastModified)
}

func TestMemoryRepositoryGetReturnsCopy(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Put(&Document{ID: "d1", Content: "original"})

	doc, err := repo.GetByID(context.Background(), "d1")
	require.NoError(t, err)
	doc.Content = "mutated"

	again, err := repo.GetByID(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Content)
}
