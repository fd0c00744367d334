package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingRepo tracks durable writes in commit order and can be told to
// fail the next N updates.
type recordingRepo struct {
	mu       sync.Mutex
	docs     map[string]*Document
	updates  []string
	failNext int
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{docs: make(map[string]*Document)}
}

func (r *recordingRepo) put(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
}

func (r *recordingRepo) GetByID(_ context.Context, docID string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, exists := r.docs[docID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	cp := *doc
	return &cp, nil
}

func (r *recordingRepo) UpdateContent(_ context.Context, docID, content string, modified time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return fmt.Errorf("%w: injected failure", ErrRepositoryUnavailable)
	}
	doc, exists := r.docs[docID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	doc.Content = content
	doc.LastModified = modified
	r.updates = append(r.updates, content)
	return nil
}

func (r *recordingRepo) failNextUpdates(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = n
}

func (r *recordingRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recordingRepo) lastUpdate() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return ""
	}
	return r.updates[len(r.updates)-1]
}

func newTestSynchronizer(repo Repository, debounce time.Duration) (*Synchronizer, *MemoryCache) {
	cache := NewMemoryCache(time.Minute)
	return NewSynchronizer(cache, repo, testLogger(), debounce), cache
}

func TestLoadColdCachePopulates(t *testing.T) {
	repo := newRecordingRepo()
	repo.put(&Document{ID: "d1", Content: "Hello"})
	s, cache := newTestSynchronizer(repo, time.Millisecond)
	ctx := context.Background()

	content, err := s.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", content)

	cached, hit, err := cache.Get(ctx, "d1")
	require.NoError(t, err)
	require.True(t, hit, "a cold load must repopulate the cache")
	assert.Equal(t, "Hello", cached)
}

func TestLoadCacheHitSkipsRepository(t *testing.T) {
	repo := newRecordingRepo()
	s, cache := newTestSynchronizer(repo, time.Millisecond)
	ctx := context.Background()

	// Content only in the cache; the repository knows nothing about d1.
	require.NoError(t, cache.SetWithTTL(ctx, "d1", "cached"))

	content, err := s.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "cached", content)
}

func TestLoadDocumentNotFound(t *testing.T) {
	repo := newRecordingRepo()
	s, _ := newTestSynchronizer(repo, time.Millisecond)

	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestApplyWritesCacheBeforeBroadcast(t *testing.T) {
	repo := newRecordingRepo()
	repo.put(&Document{ID: "d1", Content: ""})
	s, cache := newTestSynchronizer(repo, time.Hour)
	ctx := context.Background()

	var seenByPeers string
	s.Apply(ctx, "d1", "hello world", func() {
		content, hit, err := cache.Get(ctx, "d1")
		require.NoError(t, err)
		require.True(t, hit)
		seenByPeers = content
	}, nil)

	assert.Equal(t, "hello world", seenByPeers,
		"broadcast must observe the completed cache write")
}

func TestApplyCoalescesDurableWrites(t *testing.T) {
	repo := newRecordingRepo()
	repo.put(&Document{ID: "d1", Content: ""})
	s, _ := newTestSynchronizer(repo, 50*time.Millisecond)
	ctx := context.Background()

	s.Apply(ctx, "d1", "X", nil, nil)
	s.Apply(ctx, "d1", "Y", nil, nil)

	require.Eventually(t, func() bool {
		return repo.updateCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "Y", repo.lastUpdate(),
		"the coalesced write carries the newest content")

	// No second write sneaks in afterwards.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, repo.updateCount())
}

func TestLastWriteWinsOrdering(t *testing.T) {
	repo := newRecordingRepo()
	repo.put(&Document{ID: "d1", Content: ""})
	s, cache := newTestSynchronizer(repo, time.Millisecond)
	ctx := context.Background()

	// Concurrent editors hammering one document: the repository must end
	// up agreeing with the cache, never behind it.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				s.Apply(ctx, "d1", fmt.Sprintf("w%d-%d", n, j), nil, nil)
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, s.Flush(ctx, "d1"))

	cached, hit, err := cache.Get(ctx, "d1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, cached, repo.lastUpdate(),
		"durable content must match the last applied cache write")
}

func TestFlushCheckpointsCurrentContent(t *testing.T) {
	repo := newRecordingRepo()
	repo.put(&Document{ID: "d1", Content: "old"})
	s, _ := newTestSynchronizer(repo, time.Hour)
	ctx := context.Background()

	s.Apply(ctx, "d1", "edited", nil, nil)

	require.NoError(t, s.Flush(ctx, "d1"))
	assert.Equal(t, 1, repo.updateCount(), "leave produces exactly one durable flush")
	assert.Equal(t, "edited", repo.lastUpdate())

	// The pending debounce timer was cancelled by the flush.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, repo.updateCount())
}

func TestFlushWithoutContentIsNoOp(t *testing.T) {
	repo := newRecordingRepo()
	s, _ := newTestSynchronizer(repo, time.Millisecond)

	require.NoError(t, s.Flush(context.Background(), "never-touched"))
	assert.Equal(t, 0, repo.updateCount())
}

func TestFlushAfterCacheExpiryUsesPendingContent(t *testing.T) {
	repo := newRecordingRepo()
	repo.put(&Document{ID: "d1", Content: "old"})

	clock := &fakeClock{t: time.Now()}
	cache := NewMemoryCache(time.Minute)
	cache.now = clock.now
	s := NewSynchronizer(cache, repo, testLogger(), time.Hour)
	ctx := context.Background()

	s.Apply(ctx, "d1", "edited", nil, nil)
	clock.advance(2 * time.Minute) // entry expires before the leave

	require.NoError(t, s.Flush(ctx, "d1"))
	assert.Equal(t, "edited", repo.lastUpdate(),
		"an unpersisted edit survives cache expiry")
}

func TestFlushFailureKeepsEditRecoverable(t *testing.T) {
	repo := newRecordingRepo()
	repo.put(&Document{ID: "d1", Content: "old"})

	clock := &fakeClock{t: time.Now()}
	cache := NewMemoryCache(time.Minute)
	cache.now = clock.now
	s := NewSynchronizer(cache, repo, testLogger(), time.Hour)
	ctx := context.Background()

	s.Apply(ctx, "d1", "edited", nil, nil)
	clock.advance(2 * time.Minute) // pending is now the only copy

	repo.failNextUpdates(100) // more than the retry budget
	require.Error(t, s.Flush(ctx, "d1"))

	repo.failNextUpdates(0)
	require.NoError(t, s.Flush(ctx, "d1"))
	assert.Equal(t, "edited", repo.lastUpdate(),
		"an accepted edit survives a failed leave-flush")
}

func TestPersistRetriesTransientFailure(t *testing.T) {
	repo := newRecordingRepo()
	repo.put(&Document{ID: "d1", Content: ""})
	repo.failNextUpdates(2)
	s, _ := newTestSynchronizer(repo, 10*time.Millisecond)

	errCh := make(chan error, 1)
	s.Apply(context.Background(), "d1", "edited", nil, func(err error) { errCh <- err })

	require.Eventually(t, func() bool {
		return repo.updateCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "edited", repo.lastUpdate())

	select {
	case err := <-errCh:
		t.Fatalf("transient failure should not surface after a successful retry: %v", err)
	default:
	}
}

func TestPersistExhaustionKeepsEditRecoverable(t *testing.T) {
	repo := newRecordingRepo()
	repo.put(&Document{ID: "d1", Content: ""})
	repo.failNextUpdates(100) // more than the retry budget
	s, cache := newTestSynchronizer(repo, 5*time.Millisecond)
	ctx := context.Background()

	errCh := make(chan error, 1)
	s.Apply(ctx, "d1", "edited", nil, func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrRepositoryUnavailable)
	case <-time.After(10 * time.Second):
		t.Fatal("expected a persistence failure notification")
	}

	// The edit is still in the cache, and a later flush carries it home.
	cached, hit, err := cache.Get(ctx, "d1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "edited", cached)

	repo.failNextUpdates(0)
	require.NoError(t, s.Flush(ctx, "d1"))
	assert.Equal(t, "edited", repo.lastUpdate())
}

func TestFlushAllCheckpointsDirtyDocuments(t *testing.T) {
	repo := newRecordingRepo()
	repo.put(&Document{ID: "d1", Content: ""})
	repo.put(&Document{ID: "d2", Content: ""})
	s, _ := newTestSynchronizer(repo, time.Hour)
	ctx := context.Background()

	s.Apply(ctx, "d1", "one", nil, nil)
	s.Apply(ctx, "d2", "two", nil, nil)

	s.FlushAll(ctx)
	assert.Equal(t, 2, repo.updateCount())
}
