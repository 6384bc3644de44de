package search

import (
	"context"

	"clausemark/api/internal/comments"
	"clausemark/api/internal/logger"
)

type primary interface {
	Searcher
	Indexer
}

type fallback interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]CommentRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili primary
	pgfts fallback
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	log := logger.For(ctx).WithField("contract_id", q.ContractID)
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.WithError(err).Warn("search: meilisearch error, falling back to pgfts")
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		log.WithError(err).Error("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexComment pushes a comment to Meilisearch without waiting.
func (s *Service) IndexComment(ctx context.Context, c comments.Comment) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := Record(c)
	log := logger.For(ctx).WithField("comment_id", c.ID)
	go func() {
		if err := s.meili.IndexComment(record); err != nil {
			log.WithError(err).Warn("search: index comment")
		}
	}()
}

// DeleteComment removes a closed comment from the index without waiting.
func (s *Service) DeleteComment(ctx context.Context, id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	log := logger.For(ctx).WithField("comment_id", id)
	go func() {
		if err := s.meili.DeleteComment(id); err != nil {
			log.WithError(err).Warn("search: delete comment")
		}
	}()
}

// ReindexAllFromPG pushes every open comment from PostgreSQL into
// Meilisearch. Called at startup.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	log := logger.For(ctx)
	items, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.WithError(err).Error("search: reindex load failed")
		return
	}
	if err := s.meili.IndexComments(items); err != nil {
		log.WithError(err).Error("search: reindex comments")
		return
	}
	log.WithField("count", len(items)).Info("search: reindexed comments")
}

// Record converts a comment into its indexed form.
func Record(c comments.Comment) CommentRecord {
	return CommentRecord{
		ID:           c.ID,
		ContractID:   c.ContractID,
		UserID:       c.UserID,
		UserName:     c.UserName,
		ChangeType:   string(c.Kind()),
		CommentText:  c.CommentText,
		SelectedText: c.SelectedText,
		NewText:      c.NewText,
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
