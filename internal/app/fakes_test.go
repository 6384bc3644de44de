package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"clausemark/api/internal/comments"
	"clausemark/api/internal/config"
	"clausemark/api/internal/docrepo"
	"clausemark/api/internal/highlight"
	"clausemark/api/internal/search"
	"clausemark/api/internal/store"
)

const testSecret = "test-secret"

const contractHTML = `<div id="contract-content"><p>The term shall be 12 months.</p></div>`

type fakeStore struct {
	mu        sync.Mutex
	items     map[string]comments.Comment
	closures  []store.CommentClosure
	listCalls int
	pingFn    func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[string]comments.Comment{}}
}

func (f *fakeStore) InsertComment(_ context.Context, c comments.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[c.ID] = c
	return nil
}

func (f *fakeStore) ListOpenComments(_ context.Context, contractID string) ([]comments.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make([]comments.Comment, 0)
	for _, item := range f.items {
		if item.ContractID == contractID {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PositionStart > out[j].PositionStart })
	return out, nil
}

func (f *fakeStore) GetComment(_ context.Context, id string) (comments.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return comments.Comment{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) CloseComment(_ context.Context, closure store.CommentClosure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[closure.CommentID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.items, closure.CommentID)
	f.closures = append(f.closures, closure)
	return nil
}

func (f *fakeStore) UpdateTrackChange(_ context.Context, id string, change comments.TrackChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	change.Apply(&item)
	f.items[id] = item
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) seed(c comments.Comment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	f.items[c.ID] = c
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]comments.Comment
	dropped []string
}

func (f *fakeCache) Comments(_ context.Context, contractID string) ([]comments.Comment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.entries[contractID]
	return items, ok, nil
}

func (f *fakeCache) SetComments(_ context.Context, contractID string, items []comments.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[contractID] = items
	return nil
}

func (f *fakeCache) Invalidate(_ context.Context, contractID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, contractID)
	f.dropped = append(f.dropped, contractID)
	return nil
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []search.Query
	indexed []string
	deleted []string
	results []search.Result
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: f.results, Total: len(f.results), Query: q.Text}
}

func (f *fakeSearch) IndexComment(_ context.Context, c comments.Comment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, c.ID)
}

func (f *fakeSearch) DeleteComment(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type testEnv struct {
	svc    *Service
	store  *fakeStore
	search *fakeSearch
	docs   *docrepo.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := newFakeStore()
	fsearch := &fakeSearch{}
	docs := docrepo.New(t.TempDir())
	svc := &Service{
		cfg:      config.Config{JWTSecret: testSecret, AccessTTL: time.Hour},
		store:    fs,
		docs:     docs,
		search:   fsearch,
		renderer: highlight.New(),
	}
	return &testEnv{svc: svc, store: fs, search: fsearch, docs: docs}
}

func (e *testEnv) token(t *testing.T, userID, name, role string) string {
	t.Helper()
	token, err := e.svc.IssueToken(userID, name, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) seedDocument(t *testing.T) {
	t.Helper()
	if _, err := e.docs.Save("k-1", contractHTML, "Avery", "Import contract"); err != nil {
		t.Fatalf("seed document: %v", err)
	}
}

func (f *fakeStore) closed() []store.CommentClosure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.CommentClosure(nil), f.closures...)
}
