// Package highlight turns comments into markers inside a richtext document
// and applies the document side of accept, reject, resolve and delete.
package highlight

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"clausemark/api/internal/anchor"
	"clausemark/api/internal/comments"
	"clausemark/api/internal/logger"
	"clausemark/api/internal/policy"
	"clausemark/api/internal/richtext"
)

var ErrNotRendered = errors.New("comment could not be anchored in the document")

// Report summarizes a highlight pass.
type Report struct {
	Rendered []string `json:"rendered"`
	Missing  []string `json:"missing"`
	Modified []string `json:"modified"`
}

type Renderer struct {
	// TitleLimit caps the marker tooltip length in runes; zero means 120.
	TitleLimit int
}

func New() *Renderer {
	return &Renderer{}
}

// Pass strips every marker and re-renders items, highest position first so
// earlier offsets stay valid while later ranges are wrapped. Comments that
// cannot be anchored are logged and skipped.
func (r *Renderer) Pass(ctx context.Context, doc *richtext.Document, items []comments.Comment) Report {
	doc.UnwrapAll()
	ordered := append([]comments.Comment(nil), items...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PositionStart > ordered[j].PositionStart
	})

	report := Report{Rendered: []string{}, Missing: []string{}, Modified: []string{}}
	for _, item := range ordered {
		res, err := r.HighlightOne(ctx, doc, item)
		if err != nil {
			report.Missing = append(report.Missing, item.ID)
			continue
		}
		report.Rendered = append(report.Rendered, item.ID)
		if res.Modified {
			report.Modified = append(report.Modified, item.ID)
		}
	}
	logger.For(ctx).WithFields(logrus.Fields{
		"rendered": len(report.Rendered),
		"missing":  len(report.Missing),
		"modified": len(report.Modified),
	}).Debug("highlight pass")
	return report
}

// HighlightOne wraps a single comment. A comment that is already rendered is
// left alone.
func (r *Renderer) HighlightOne(ctx context.Context, doc *richtext.Document, item comments.Comment) (anchor.Result, error) {
	log := logger.For(ctx).WithField("comment_id", item.ID)
	if text, ok := doc.MarkerText(item.ID); ok {
		return anchor.Result{Current: text, Modified: text != item.SelectedText}, nil
	}
	res, ok := r.locate(doc.Index(), item)
	if !ok {
		log.WithField("selected_text", item.SelectedText).Warn("comment text not found in document")
		return anchor.Result{}, ErrNotRendered
	}
	if _, err := doc.Wrap(res.Start, res.End, richtext.Marker{
		CommentID:  item.ID,
		ChangeType: string(item.Kind()),
		Title:      r.title(item),
	}); err != nil {
		log.WithError(err).Warn("wrap comment range")
		return anchor.Result{}, fmt.Errorf("%w: %v", ErrNotRendered, err)
	}
	if res.Modified {
		log.WithFields(logrus.Fields{"method": res.Method, "current": res.Current}).Info("anchored text was modified")
	}
	return res, nil
}

// locate prefers the structured anchor and falls back to the anchored text
// near its offset. Legacy comments without an anchor skip the fuzzy
// fallbacks of Find.
func (r *Renderer) locate(idx *anchor.Index, item comments.Comment) (anchor.Result, bool) {
	a := item.Anchored()
	if item.Anchor != nil && item.Anchor.Valid() {
		if res, ok := anchor.Find(idx, a); ok {
			return res, true
		}
	}
	m, ok := anchor.Locate(idx, a.Text, a.Offset)
	if !ok {
		return anchor.Result{}, false
	}
	current := idx.Slice(m.Start, m.End)
	return anchor.Result{Match: m, Current: current, Modified: current != a.Text}, true
}

func (r *Renderer) title(item comments.Comment) string {
	limit := r.TitleLimit
	if limit <= 0 {
		limit = 120
	}
	text := item.CommentText
	switch item.Kind() {
	case comments.ChangeInsert:
		text = "Replace with: " + item.NewText
	case comments.ChangeDelete:
		text = "Delete: " + item.SelectedText
	}
	if item.UserName != "" {
		text = item.UserName + ": " + text
	}
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit-1]) + "…"
	}
	return text
}

// Apply performs the document mutation for a removal action: accept
// replaces or removes the marked text, everything else just unwraps.
func (r *Renderer) Apply(ctx context.Context, doc *richtext.Document, item comments.Comment, action policy.Action) error {
	switch action {
	case policy.ActionAccept:
		return r.Accept(ctx, doc, item)
	default:
		doc.Unwrap(item.ID)
		return nil
	}
}

// Accept applies a track change to the document text.
func (r *Renderer) Accept(ctx context.Context, doc *richtext.Document, item comments.Comment) error {
	if !item.Kind().TrackChange() {
		return policy.ErrNotTrackChange
	}
	if !doc.HasMarker(item.ID) {
		if _, err := r.HighlightOne(ctx, doc, item); err != nil {
			return err
		}
	}
	if item.Kind() == comments.ChangeInsert {
		return doc.ReplaceMarked(item.ID, item.NewText)
	}
	return doc.RemoveMarked(item.ID)
}
