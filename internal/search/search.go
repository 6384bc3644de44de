// Package search indexes contract comments in Meilisearch and falls back to
// PostgreSQL full-text search when Meilisearch is unavailable.
package search

import "context"

// Result is a single comment hit.
type Result struct {
	ID           string `json:"id"`
	ContractID   string `json:"contract_id"`
	ChangeType   string `json:"change_type"`
	UserName     string `json:"user_name"`
	SelectedText string `json:"selected_text"`
	Snippet      string `json:"snippet"`
}

// Query describes a search request scoped to one contract.
type Query struct {
	ContractID string
	Text       string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push comments into a search index.
type Indexer interface {
	IndexComment(c CommentRecord) error
	IndexComments(items []CommentRecord) error
	DeleteComment(id string) error
}

// CommentRecord is the data we index for an open comment.
type CommentRecord struct {
	ID           string `json:"id"`
	ContractID   string `json:"contractId"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	ChangeType   string `json:"changeType"`
	CommentText  string `json:"commentText"`
	SelectedText string `json:"selectedText"`
	NewText      string `json:"newText"`
}
