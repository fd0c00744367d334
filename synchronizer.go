package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Synchronizer reconciles the volatile cache with the durable repository.
// All cache and durable writes for one document id flow through that
// document's state lock, so writes commit in the order edits were
// accepted; documents never contend with each other.
//
// Durable persistence is coalesced: edits arriving within the debounce
// window collapse into a single repository write carrying the newest
// content. A flush bypasses the window and checkpoints immediately.
type Synchronizer struct {
	cache    Cache
	repo     Repository
	log      *slog.Logger
	debounce time.Duration

	mu   sync.Mutex
	docs map[string]*docState
}

// docState serializes one document. mu guards the cache-write step and
// the pending fields; persistMu serializes durable writes so a later
// write can never be overtaken by an earlier one.
type docState struct {
	mu        sync.Mutex
	persistMu sync.Mutex

	dirty   bool
	pending string
	timer   *time.Timer
	onErr   func(error)
}

func NewSynchronizer(cache Cache, repo Repository, log *slog.Logger, debounce time.Duration) *Synchronizer {
	return &Synchronizer{
		cache:    cache,
		repo:     repo,
		log:      log,
		debounce: debounce,
		docs:     make(map[string]*docState),
	}
}

func (s *Synchronizer) state(docID string) *docState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, exists := s.docs[docID]
	if !exists {
		st = &docState{}
		s.docs[docID] = st
	}
	return st
}

// Load resolves initial content for a join: cache first, repository on a
// miss. A miss repopulates the cache with a fresh TTL before returning,
// so the next joiner hits. A cache outage degrades to a repository
// read-through instead of failing the join.
func (s *Synchronizer) Load(ctx context.Context, docID string) (string, error) {
	st := s.state(docID)
	st.mu.Lock()
	defer st.mu.Unlock()

	content, hit, err := s.cache.Get(ctx, docID)
	if err != nil {
		s.log.Warn("cache read failed, falling back to repository", "docId", docID, "error", err)
	}
	if hit {
		return content, nil
	}

	doc, err := s.repo.GetByID(ctx, docID)
	if err != nil {
		return "", err
	}

	if err := s.cache.SetWithTTL(ctx, docID, doc.Content); err != nil {
		s.log.Warn("cache repopulation failed", "docId", docID, "error", err)
	}
	return doc.Content, nil
}

// Apply writes an accepted edit to the cache and schedules its durable
// write. broadcast runs inside the document's critical section, after
// the cache write has completed, so peers observe updates in apply
// order. onPersistErr is invoked if the eventual durable write exhausts
// its retries; the cache-resident content stays intact either way.
func (s *Synchronizer) Apply(ctx context.Context, docID, content string, broadcast func(), onPersistErr func(error)) {
	st := s.state(docID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.cache.SetWithTTL(ctx, docID, content); err != nil {
		// The edit still reaches peers and the repository; only the
		// low-latency read path is degraded.
		s.log.Warn("cache write failed", "docId", docID, "error", err)
	}
	if broadcast != nil {
		broadcast()
	}

	st.pending = content
	st.dirty = true
	st.onErr = onPersistErr
	if st.timer == nil {
		st.timer = time.AfterFunc(s.debounce, func() {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			s.persist(ctx, docID, st)
		})
	}
}

// persist commits the newest pending content. The snapshot is taken
// under persistMu so two persists for one document can never commit out
// of order.
func (s *Synchronizer) persist(ctx context.Context, docID string, st *docState) {
	st.persistMu.Lock()
	defer st.persistMu.Unlock()

	st.mu.Lock()
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if !st.dirty {
		st.mu.Unlock()
		return
	}
	content := st.pending
	onErr := st.onErr
	st.dirty = false
	st.mu.Unlock()

	if err := s.writeWithRetry(ctx, docID, content); err != nil {
		s.log.Error("durable write failed after retries", "docId", docID, "error", err)

		// Keep the edit recoverable: pending still holds the newest
		// content, so a later edit or flush will carry it through.
		st.mu.Lock()
		st.dirty = true
		st.mu.Unlock()

		if onErr != nil {
			onErr(err)
		}
	}
}

// Flush checkpoints the document's current cache content to the
// repository. It is called on every room departure, whether or not an
// edit happened, and runs through the same locks as edit persistence so
// ordering is preserved. A cache miss with nothing pending is a no-op:
// the last durable write already holds everything the cache held.
func (s *Synchronizer) Flush(ctx context.Context, docID string) error {
	st := s.state(docID)
	st.persistMu.Lock()
	defer st.persistMu.Unlock()

	st.mu.Lock()
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	content, hit, err := s.cache.Get(ctx, docID)
	if err != nil {
		s.log.Warn("cache read failed during flush", "docId", docID, "error", err)
	}
	if !hit && st.dirty {
		// Entry expired (or cache down) with an unpersisted edit: the
		// pending copy is the authoritative content.
		content = st.pending
		hit = true
	}
	st.dirty = false
	st.mu.Unlock()

	if !hit {
		return nil
	}
	if err := s.writeWithRetry(ctx, docID, content); err != nil {
		// Same recovery as persist: the content stays pending so a later
		// flush or edit carries it through, even after the cache entry
		// expires.
		st.mu.Lock()
		if !st.dirty {
			st.pending = content
			st.dirty = true
		}
		st.mu.Unlock()
		return err
	}
	return nil
}

// FlushAll checkpoints every document with unpersisted content. Used on
// shutdown.
func (s *Synchronizer) FlushAll(ctx context.Context) {
	s.mu.Lock()
	dirty := make([]string, 0, len(s.docs))
	for docID, st := range s.docs {
		st.mu.Lock()
		if st.dirty {
			dirty = append(dirty, docID)
		}
		st.mu.Unlock()
	}
	s.mu.Unlock()

	for _, docID := range dirty {
		if err := s.Flush(ctx, docID); err != nil {
			s.log.Error("flush failed during shutdown", "docId", docID, "error", err)
		}
	}
}

func (s *Synchronizer) writeWithRetry(ctx context.Context, docID, content string) error {
	op := func() error {
		err := s.repo.UpdateContent(ctx, docID, content, time.Now().UTC())
		if errors.Is(err, ErrDocumentNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = persistRetryInitial
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, persistMaxRetries), ctx))
	if err != nil && !errors.Is(err, ErrDocumentNotFound) && !errors.Is(err, ErrRepositoryUnavailable) {
		return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	return err
}
