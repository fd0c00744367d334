package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Document is the durable record owned by the repository. The
// synchronizer references it but never owns it.
type Document struct {
	ID           string
	OwnerID      string
	Title        string
	Content      string
	LastModified time.Time
}

// Repository is the durable backing store for document content.
type Repository interface {
	GetByID(ctx context.Context, docID string) (*Document, error)
	UpdateContent(ctx context.Context, docID, content string, modified time.Time) error
}

// MemoryRepository keeps documents in process memory. It serves
// single-node deployments without a database and doubles as the test
// fixture store.
type MemoryRepository struct {
	mu   sync.Mutex
	docs map[string]*Document
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]*Document)}
}

// Put seeds or replaces a document wholesale.
func (mr *MemoryRepository) Put(doc *Document) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	cp := *doc
	mr.docs[doc.ID] = &cp
}

func (mr *MemoryRepository) GetByID(_ context.Context, docID string) (*Document, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	doc, exists := mr.docs[docID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	cp := *doc
	return &cp, nil
}

func (mr *MemoryRepository) UpdateContent(_ context.Context, docID, content string, modified time.Time) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	doc, exists := mr.docs[docID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	doc.Content = content
	doc.LastModified = modified
	return nil
}
