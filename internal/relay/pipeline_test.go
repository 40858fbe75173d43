package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"truthrelay/internal/models"
)

// --- Mock implementations ---

type mockFetcher struct {
	posts []models.Post
	err   error
}

func (m *mockFetcher) RecentPosts(_ context.Context) ([]models.Post, error) {
	return m.posts, m.err
}

type mockStore struct {
	records   map[string]models.DeliveryRecord
	commits   []string
	isSeenErr map[string]error // per post ID
	markErr   map[string]error // per post ID
}

func newMockStore() *mockStore {
	return &mockStore{
		records:   make(map[string]models.DeliveryRecord),
		isSeenErr: make(map[string]error),
		markErr:   make(map[string]error),
	}
}

func (m *mockStore) IsSeen(_ context.Context, postID string) (bool, error) {
	if err := m.isSeenErr[postID]; err != nil {
		return false, err
	}
	_, ok := m.records[postID]
	return ok, nil
}

func (m *mockStore) MarkSeen(_ context.Context, record models.DeliveryRecord) error {
	if err := m.markErr[record.PostID]; err != nil {
		return err
	}
	m.records[record.PostID] = record
	m.commits = append(m.commits, record.PostID)
	return nil
}

type mockNotifier struct {
	delivered []string
	failOn    map[string]error // per post ID
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{failOn: make(map[string]error)}
}

func (m *mockNotifier) Deliver(_ context.Context, post models.Post) error {
	if err := m.failOn[post.ID]; err != nil {
		return err
	}
	m.delivered = append(m.delivered, post.ID)
	return nil
}

func postAt(id string, offset time.Duration) models.Post {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return models.Post{
		ID:        id,
		Content:   "<p>post " + id + "</p>",
		CreatedAt: base.Add(offset),
		Username:  "testuser",
	}
}

// --- Tests ---

func TestTick_SingleNewPost(t *testing.T) {
	store := newMockStore()
	notif := newMockNotifier()
	fetcher := &mockFetcher{posts: []models.Post{
		{ID: "123", Content: "hello", CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}}

	p := NewPipeline(fetcher, store, notif)
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(notif.delivered) != 1 || notif.delivered[0] != "123" {
		t.Errorf("delivered = %v, want exactly [123]", notif.delivered)
	}
	record, ok := store.records["123"]
	if !ok {
		t.Fatal("delivery record for post 123 was not written")
	}
	if record.Content != "hello" {
		t.Errorf("record content = %q, want hello", record.Content)
	}
	if record.SentAt.IsZero() {
		t.Error("record SentAt should be set by the writer")
	}
}

func TestTick_DuplicateSkippedOnSecondTick(t *testing.T) {
	store := newMockStore()
	notif := newMockNotifier()
	fetcher := &mockFetcher{posts: []models.Post{postAt("123", 0)}}

	p := NewPipeline(fetcher, store, notif)
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("first Tick() error = %v", err)
	}
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick() error = %v", err)
	}

	if len(notif.delivered) != 1 {
		t.Errorf("post delivered %d times across two ticks, want 1", len(notif.delivered))
	}
}

func TestTick_DeliversInPublicationOrder(t *testing.T) {
	store := newMockStore()
	notif := newMockNotifier()
	// Source returns non-chronological order: P3, P1, P2.
	fetcher := &mockFetcher{posts: []models.Post{
		postAt("p3", 3 * time.Hour),
		postAt("p1", 1 * time.Hour),
		postAt("p2", 2 * time.Hour),
	}}

	p := NewPipeline(fetcher, store, notif)
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	want := []string{"p1", "p2", "p3"}
	if len(notif.delivered) != 3 {
		t.Fatalf("delivered = %v, want %v", notif.delivered, want)
	}
	for i, id := range want {
		if notif.delivered[i] != id {
			t.Fatalf("delivery order = %v, want %v", notif.delivered, want)
		}
	}
	for i, id := range want {
		if store.commits[i] != id {
			t.Fatalf("commit order = %v, want %v", store.commits, want)
		}
	}
}

func TestTick_TiedTimestampsOrderByID(t *testing.T) {
	store := newMockStore()
	notif := newMockNotifier()
	fetcher := &mockFetcher{posts: []models.Post{
		postAt("b", 0),
		postAt("a", 0),
	}}

	p := NewPipeline(fetcher, store, notif)
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if notif.delivered[0] != "a" || notif.delivered[1] != "b" {
		t.Errorf("tied timestamps should order by ID, got %v", notif.delivered)
	}
}

func TestTick_AbortsOnDeliveryFailure(t *testing.T) {
	store := newMockStore()
	notif := newMockNotifier()
	notif.failOn["p2"] = fmt.Errorf("%w: sink down", models.ErrDeliveryFailed)
	fetcher := &mockFetcher{posts: []models.Post{
		postAt("p1", 1*time.Hour), postAt("p2", 2*time.Hour), postAt("p3", 3*time.Hour),
	}}

	p := NewPipeline(fetcher, store, notif)
	err := p.Tick(context.Background())
	if err == nil {
		t.Fatal("Tick() should fail when delivery fails")
	}
	if !errors.Is(err, models.ErrDeliveryFailed) {
		t.Errorf("error should wrap ErrDeliveryFailed, got: %v", err)
	}

	// P1 went through and is committed; P3 must not jump the queue.
	if len(notif.delivered) != 1 || notif.delivered[0] != "p1" {
		t.Errorf("delivered = %v, want [p1] only", notif.delivered)
	}
	if _, ok := store.records["p1"]; !ok {
		t.Error("p1 should remain committed")
	}
	if _, ok := store.records["p3"]; ok {
		t.Error("p3 must not be committed in an aborted tick")
	}

	// Next tick: P2 and P3 go out, in order.
	delete(notif.failOn, "p2")
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("recovery Tick() error = %v", err)
	}
	want := []string{"p1", "p2", "p3"}
	for i, id := range want {
		if notif.delivered[i] != id {
			t.Fatalf("delivery order across ticks = %v, want %v", notif.delivered, want)
		}
	}
}

func TestTick_AbortsOnStoreOutage(t *testing.T) {
	store := newMockStore()
	notif := newMockNotifier()
	store.isSeenErr["p2"] = fmt.Errorf("%w: connection refused", models.ErrStoreUnavailable)
	fetcher := &mockFetcher{posts: []models.Post{
		postAt("p1", 1*time.Hour), postAt("p2", 2*time.Hour), postAt("p3", 3*time.Hour),
	}}

	p := NewPipeline(fetcher, store, notif)
	err := p.Tick(context.Background())
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("error should wrap ErrStoreUnavailable, got: %v", err)
	}

	// p1 was confirmed and delivered before the outage; nothing at or after
	// p2 may be delivered.
	if len(notif.delivered) != 1 || notif.delivered[0] != "p1" {
		t.Errorf("delivered = %v, want [p1] only", notif.delivered)
	}
	if _, ok := store.records["p1"]; !ok {
		t.Error("p1's commit must survive the aborted tick")
	}
}

func TestTick_CommitFailureAbortsRemainder(t *testing.T) {
	store := newMockStore()
	notif := newMockNotifier()
	store.markErr["p1"] = fmt.Errorf("%w: write failed", models.ErrStoreUnavailable)
	fetcher := &mockFetcher{posts: []models.Post{
		postAt("p1", 1*time.Hour), postAt("p2", 2*time.Hour),
	}}

	p := NewPipeline(fetcher, store, notif)
	err := p.Tick(context.Background())
	if err == nil {
		t.Fatal("Tick() should fail when the commit fails")
	}

	// p1 was delivered (the accepted duplicate-risk window) but p2 waits.
	if len(notif.delivered) != 1 || notif.delivered[0] != "p1" {
		t.Errorf("delivered = %v, want [p1]", notif.delivered)
	}

	// Next tick redelivers p1: that is the at-least-once tradeoff.
	delete(store.markErr, "p1")
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("recovery Tick() error = %v", err)
	}
	want := []string{"p1", "p1", "p2"}
	for i, id := range want {
		if notif.delivered[i] != id {
			t.Fatalf("deliveries across ticks = %v, want %v", notif.delivered, want)
		}
	}
}

func TestTick_FetchFailureAbortsCleanly(t *testing.T) {
	store := newMockStore()
	notif := newMockNotifier()
	fetcher := &mockFetcher{err: errors.New("proxy unreachable")}

	p := NewPipeline(fetcher, store, notif)
	if err := p.Tick(context.Background()); err == nil {
		t.Fatal("Tick() should surface the fetch failure")
	}
	if len(notif.delivered) != 0 {
		t.Errorf("nothing should be delivered on a failed fetch, got %v", notif.delivered)
	}
}

func TestTick_RepostRecordedNotDelivered(t *testing.T) {
	store := newMockStore()
	notif := newMockNotifier()
	repost := postAt("rt1", time.Hour)
	repost.Content = "<p>RT @other: their words</p>"
	fetcher := &mockFetcher{posts: []models.Post{repost, postAt("p2", 2 * time.Hour)}}

	p := NewPipeline(fetcher, store, notif)
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(notif.delivered) != 1 || notif.delivered[0] != "p2" {
		t.Errorf("delivered = %v, want [p2] (repost suppressed)", notif.delivered)
	}
	if _, ok := store.records["rt1"]; !ok {
		t.Error("repost should be recorded so it is never re-examined")
	}
}

func TestTick_RepostCommitFailureIsNotFatal(t *testing.T) {
	store := newMockStore()
	notif := newMockNotifier()
	store.markErr["rt1"] = fmt.Errorf("%w: write failed", models.ErrStoreUnavailable)
	repost := postAt("rt1", time.Hour)
	repost.Content = "RT @other: words"
	fetcher := &mockFetcher{posts: []models.Post{repost, postAt("p2", 2 * time.Hour)}}

	p := NewPipeline(fetcher, store, notif)
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("a repost commit failure should not abort the tick, got: %v", err)
	}
	if len(notif.delivered) != 1 || notif.delivered[0] != "p2" {
		t.Errorf("delivered = %v, want [p2]", notif.delivered)
	}
}

func TestTick_EmptyFetchIsDone(t *testing.T) {
	p := NewPipeline(&mockFetcher{}, newMockStore(), newMockNotifier())
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() with no posts should succeed, got: %v", err)
	}
}

func TestTick_MarkSeenIdempotent(t *testing.T) {
	store := newMockStore()
	record := models.NewDeliveryRecord(postAt("123", 0), time.Now())

	if err := store.MarkSeen(context.Background(), record); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkSeen(context.Background(), record); err != nil {
		t.Fatalf("second MarkSeen must overwrite harmlessly, got: %v", err)
	}
	if len(store.records) != 1 {
		t.Errorf("store holds %d records after double commit, want 1", len(store.records))
	}
}
