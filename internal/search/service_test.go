package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clausemark/api/internal/comments"
)

type fakeIndex struct {
	mu      sync.Mutex
	healthy bool
	err     error
	results []Result
	indexed []CommentRecord
	deleted []string
}

func (f *fakeIndex) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) IndexComment(c CommentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, c)
	return nil
}

func (f *fakeIndex) IndexComments(items []CommentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, items...)
	return nil
}

func (f *fakeIndex) DeleteComment(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndex) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indexed), len(f.deleted)
}

type fakeFTS struct {
	results []Result
	err     error
	records []CommentRecord
	queries []Query
}

func (f *fakeFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	f.queries = append(f.queries, q)
	return f.results, len(f.results), f.err
}

func (f *fakeFTS) Healthy() bool { return true }

func (f *fakeFTS) LoadAllRecords(ctx context.Context) ([]CommentRecord, error) {
	return f.records, nil
}

func TestSearchPrefersMeili(t *testing.T) {
	idx := &fakeIndex{healthy: true, results: []Result{{ID: "cmt_1"}}}
	fts := &fakeFTS{}
	svc := &Service{meili: idx, pgfts: fts}

	resp := svc.Search(context.Background(), Query{ContractID: "k-1", Text: "term"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "cmt_1", resp.Results[0].ID)
	assert.Empty(t, fts.queries)
}

func TestSearchFallsBackToPostgres(t *testing.T) {
	idx := &fakeIndex{healthy: true, err: errors.New("boom")}
	fts := &fakeFTS{results: []Result{{ID: "cmt_2"}}}
	svc := &Service{meili: idx, pgfts: fts}

	resp := svc.Search(context.Background(), Query{ContractID: "k-1", Text: "term"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "cmt_2", resp.Results[0].ID)
	assert.Equal(t, "term", resp.Query)
	require.Len(t, fts.queries, 1)
	assert.Equal(t, "k-1", fts.queries[0].ContractID)
}

func TestSearchNeverReturnsNilResults(t *testing.T) {
	svc := &Service{pgfts: &fakeFTS{err: errors.New("down")}}
	resp := svc.Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Zero(t, resp.Total)

	resp = NewService(nil, nil).Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
}

func TestIndexingIsAsynchronous(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	svc := &Service{meili: idx}

	svc.IndexComment(context.Background(), comments.Comment{ID: "cmt_1", ContractID: "k-1", SelectedText: "12 months"})
	svc.DeleteComment(context.Background(), "cmt_0")

	require.Eventually(t, func() bool {
		indexed, deleted := idx.counts()
		return indexed == 1 && deleted == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "comment", idx.indexed[0].ChangeType)
}

func TestIndexingSkipsUnhealthyMeili(t *testing.T) {
	idx := &fakeIndex{healthy: false}
	svc := &Service{meili: idx}
	svc.IndexComment(context.Background(), comments.Comment{ID: "cmt_1"})
	time.Sleep(20 * time.Millisecond)
	indexed, _ := idx.counts()
	assert.Zero(t, indexed)
}

func TestReindexAllFromPG(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	fts := &fakeFTS{records: []CommentRecord{{ID: "a"}, {ID: "b"}}}
	svc := &Service{meili: idx, pgfts: fts}

	svc.ReindexAllFromPG(context.Background())
	indexed, _ := idx.counts()
	assert.Equal(t, 2, indexed)
}

func TestHitToResultUsesHighlightedField(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":           raw("cmt_1"),
		"contractId":   raw("k-1"),
		"changeType":   raw("insert"),
		"userName":     raw("Avery"),
		"selectedText": raw("12 months"),
		"commentText":  raw("extend the term"),
		"_formatted": raw(map[string]string{
			"commentText":  "extend the term",
			"newText":      "<mark>24</mark> months",
			"selectedText": "12 months",
		}),
	}

	r := hitToResult(hit)
	assert.Equal(t, "cmt_1", r.ID)
	assert.Equal(t, "k-1", r.ContractID)
	assert.Equal(t, "insert", r.ChangeType)
	assert.Equal(t, "<mark>24</mark> months", r.Snippet)

	delete(hit, "_formatted")
	assert.Equal(t, "extend the term", hitToResult(hit).Snippet)
}
