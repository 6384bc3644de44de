package workspace

import (
	"clausemark/api/internal/comments"
	"clausemark/api/internal/logger"
	"clausemark/api/internal/policy"
)

var _ comments.Listener = (*Workspace)(nil)

// CommentsLoaded renders the list, or defers the pass until a document is
// attached.
func (w *Workspace) CommentsLoaded(_ []comments.Comment) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.doc == nil {
		w.pending = true
		return
	}
	w.passLocked()
}

func (w *Workspace) CommentAdded(item comments.Comment) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.doc == nil {
		w.pending = true
		return
	}
	if _, err := w.renderer.HighlightOne(w.ctx, w.doc, item); err == nil {
		w.rendered[item.ID] = true
	}
}

func (w *Workspace) CommentRemoved(item comments.Comment, action policy.Action) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.rendered, item.ID)
	if w.doc == nil {
		return
	}
	if err := w.renderer.Apply(w.ctx, w.doc, item, action); err != nil {
		logger.For(w.ctx).WithError(err).WithField("comment_id", item.ID).Warn("apply removal to document")
		w.doc.Unwrap(item.ID)
	}
}

// CommentUpdated re-renders a marker whose change type or text changed.
func (w *Workspace) CommentUpdated(item comments.Comment) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.doc == nil {
		return
	}
	w.doc.Unwrap(item.ID)
	delete(w.rendered, item.ID)
	if _, err := w.renderer.HighlightOne(w.ctx, w.doc, item); err == nil {
		w.rendered[item.ID] = true
	}
}
