package comments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"clausemark/api/internal/logger"
	"clausemark/api/internal/policy"
)

var ErrUnknownComment = errors.New("comment is not loaded")

// Backend is the persistence the store mirrors. internal/client implements
// it over REST.
type Backend interface {
	ListComments(ctx context.Context, contractID string) (List, error)
	AddComment(ctx context.Context, body NewComment) (Comment, error)
	RemoveComment(ctx context.Context, id string, action policy.Action) error
	UpdateTrackChange(ctx context.Context, id string, body TrackChange) error
}

// Listener is told about every change after the backend confirms it.
type Listener interface {
	CommentsLoaded(items []Comment)
	CommentAdded(item Comment)
	CommentRemoved(item Comment, action policy.Action)
	CommentUpdated(item Comment)
}

// Store caches the comments of one contract. It is safe for concurrent use;
// listener callbacks run without the store's lock held.
type Store struct {
	backend Backend

	mu            sync.RWMutex
	contractID    string
	currentUserID string
	items         []Comment
	listener      Listener
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Load replaces the cache with the server's list for contractID. On failure
// the cache is left untouched.
func (s *Store) Load(ctx context.Context, contractID string) error {
	list, err := s.backend.ListComments(ctx, contractID)
	if err != nil {
		return fmt.Errorf("load comments: %w", err)
	}
	s.mu.Lock()
	s.contractID = contractID
	s.currentUserID = list.CurrentUserID
	s.items = append([]Comment(nil), list.Comments...)
	listener := s.listener
	s.mu.Unlock()

	logger.For(ctx).WithFields(logrus.Fields{
		"contract_id": contractID,
		"count":       len(list.Comments),
	}).Debug("comments loaded")
	if listener != nil {
		listener.CommentsLoaded(s.Ordered())
	}
	return nil
}

// Add persists a new comment and caches the server's record.
func (s *Store) Add(ctx context.Context, body NewComment) (Comment, error) {
	if body.ContractID == "" {
		body.ContractID = s.ContractID()
	}
	if err := body.Validate(); err != nil {
		return Comment{}, err
	}
	created, err := s.backend.AddComment(ctx, body)
	if err != nil {
		return Comment{}, fmt.Errorf("add comment: %w", err)
	}
	s.mu.Lock()
	s.items = append(s.items, created)
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.CommentAdded(created)
	}
	return created, nil
}

// Remove deletes a comment with the given action and drops it from the
// cache.
func (s *Store) Remove(ctx context.Context, id string, action policy.Action) (Comment, error) {
	item, ok := s.Get(id)
	if !ok {
		return Comment{}, ErrUnknownComment
	}
	if err := s.backend.RemoveComment(ctx, id, action); err != nil {
		return Comment{}, fmt.Errorf("%s comment: %w", action, err)
	}
	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.CommentRemoved(item, action)
	}
	return item, nil
}

// UpdateTrackChange edits a comment's proposed change.
func (s *Store) UpdateTrackChange(ctx context.Context, id string, body TrackChange) (Comment, error) {
	if err := body.Validate(); err != nil {
		return Comment{}, err
	}
	if _, ok := s.Get(id); !ok {
		return Comment{}, ErrUnknownComment
	}
	if err := s.backend.UpdateTrackChange(ctx, id, body); err != nil {
		return Comment{}, fmt.Errorf("update track change: %w", err)
	}
	s.mu.Lock()
	var updated Comment
	for i := range s.items {
		if s.items[i].ID == id {
			body.Apply(&s.items[i])
			updated = s.items[i]
			break
		}
	}
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.CommentUpdated(updated)
	}
	return updated, nil
}

func (s *Store) Get(id string) (Comment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Comment{}, false
}

// Ordered returns the cached comments, highest position_start first.
// Highlighting in that order keeps earlier offsets valid.
func (s *Store) Ordered() []Comment {
	s.mu.RLock()
	out := append([]Comment(nil), s.items...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PositionStart > out[j].PositionStart
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUserID
}

func (s *Store) ContractID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contractID
}
