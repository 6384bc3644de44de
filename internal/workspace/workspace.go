// Package workspace is the page controller: it owns one contract document,
// the comment store, the renderer and the edit guard, and serializes every
// document mutation behind a single lock.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"clausemark/api/internal/anchor"
	"clausemark/api/internal/client"
	"clausemark/api/internal/comments"
	"clausemark/api/internal/guard"
	"clausemark/api/internal/highlight"
	"clausemark/api/internal/logger"
	"clausemark/api/internal/policy"
	"clausemark/api/internal/richtext"
)

var (
	ErrNotReady     = errors.New("document is not loaded")
	ErrOverlap      = errors.New("selection overlaps an existing comment")
	ErrNoBackend    = errors.New("no document backend configured")
	ErrUnknownEntry = errors.New("comment not found")
)

// Documents loads and saves contract bodies. *client.Client implements it.
type Documents interface {
	Document(ctx context.Context, contractID string, highlighted bool) (client.Document, error)
	SaveDocument(ctx context.Context, contractID, html, message string) (string, error)
}

type Options struct {
	HealDelay    time.Duration
	DriftQuiet   time.Duration
	SaveOnAccept bool
	Notifier     Notifier
	// OnDrift receives the drifted markers after each quiet period.
	OnDrift func([]guard.Drift)
}

func DefaultOptions() Options {
	return Options{
		HealDelay:    100 * time.Millisecond,
		DriftQuiet:   time.Second,
		SaveOnAccept: true,
		Notifier:     LogNotifier{},
	}
}

type Workspace struct {
	docs     Documents
	store    *comments.Store
	renderer *highlight.Renderer
	opts     Options
	observer *guard.Observer
	watcher  *guard.DriftWatcher

	ready     chan struct{}
	readyOnce sync.Once

	mu         sync.Mutex
	ctx        context.Context
	doc        *richtext.Document
	contractID string
	revision   string
	pending    bool
	rendered   map[string]bool
	report     highlight.Report
	drift      []guard.Drift
}

func New(docs Documents, backend comments.Backend, opts Options) *Workspace {
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	w := &Workspace{
		docs:     docs,
		store:    comments.NewStore(backend),
		renderer: highlight.New(),
		opts:     opts,
		ready:    make(chan struct{}),
		ctx:      context.Background(),
		rendered: map[string]bool{},
	}
	w.observer = guard.NewObserver(opts.HealDelay, w.heal)
	w.watcher = guard.NewDriftWatcher(opts.DriftQuiet, w.checkDrift)
	w.store.SetListener(w)
	return w
}

func (w *Workspace) Store() *comments.Store { return w.store }

// Ready is closed once a document is attached.
func (w *Workspace) Ready() <-chan struct{} { return w.ready }

// Open fetches the contract body, attaches it and loads its comments.
func (w *Workspace) Open(ctx context.Context, contractID string) error {
	if w.docs == nil {
		return ErrNoBackend
	}
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"contract_id": contractID})
	body, err := w.docs.Document(ctx, contractID, false)
	if err != nil {
		w.notify(ctx, LevelError, "Could not load the contract.")
		return fmt.Errorf("open contract: %w", err)
	}
	if err := w.attach(ctx, contractID, body.HTML, body.Revision); err != nil {
		return err
	}
	return w.Load(ctx)
}

// Attach installs a document without fetching it.
func (w *Workspace) Attach(ctx context.Context, contractID, html string) error {
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"contract_id": contractID})
	return w.attach(ctx, contractID, html, "")
}

func (w *Workspace) attach(ctx context.Context, contractID, html, revision string) error {
	doc, err := richtext.Parse(html)
	if err != nil {
		w.notify(ctx, LevelError, "The contract could not be read.")
		return err
	}
	w.mu.Lock()
	w.ctx = ctx
	w.doc = doc
	w.contractID = contractID
	w.revision = revision
	if w.pending {
		w.pending = false
		w.passLocked()
	}
	w.mu.Unlock()
	w.readyOnce.Do(func() { close(w.ready) })
	return nil
}

// Load refreshes the comments once the document is ready.
func (w *Workspace) Load(ctx context.Context) error {
	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := w.store.Load(ctx, w.ContractID()); err != nil {
		w.notify(ctx, LevelError, "Could not load comments.")
		return err
	}
	return nil
}

// Selection is a user selection in flattened-text offsets plus the comment
// being attached to it.
type Selection struct {
	Start       int
	End         int
	CommentText string
	ChangeType  comments.ChangeType
	NewText     string
}

// AddComment anchors the selection and persists it; the marker is rendered
// once the server confirms.
func (w *Workspace) AddComment(ctx context.Context, sel Selection) (comments.Comment, error) {
	w.mu.Lock()
	if w.doc == nil {
		w.mu.Unlock()
		return comments.Comment{}, ErrNotReady
	}
	idx := w.doc.Index()
	a, err := anchor.New(idx, sel.Start, sel.End)
	if err != nil {
		w.mu.Unlock()
		w.notify(ctx, LevelWarning, "Select some text to comment on.")
		return comments.Comment{}, err
	}
	if idx.Marked(a.Offset, a.End()) {
		w.mu.Unlock()
		w.notify(ctx, LevelWarning, "That text already has a comment.")
		return comments.Comment{}, ErrOverlap
	}
	contractID := w.contractID
	w.mu.Unlock()

	body := comments.NewComment{
		ContractID:    contractID,
		CommentText:   sel.CommentText,
		SelectedText:  a.Text,
		Anchor:        &a,
		PositionStart: a.Offset,
		PositionEnd:   a.End(),
		ChangeType:    sel.ChangeType,
		NewText:       sel.NewText,
	}
	created, err := w.store.Add(ctx, body)
	if err != nil {
		if errors.Is(err, comments.ErrInvalid) {
			w.notify(ctx, LevelWarning, err.Error())
		} else {
			w.notify(ctx, LevelError, "Could not save the comment.")
		}
		return comments.Comment{}, err
	}
	w.notify(ctx, LevelSuccess, "Comment added.")
	return created, nil
}

func (w *Workspace) DeleteComment(ctx context.Context, id string) error {
	return w.remove(ctx, id, policy.ActionDelete)
}

func (w *Workspace) AcceptChange(ctx context.Context, id string) error {
	return w.remove(ctx, id, policy.ActionAccept)
}

func (w *Workspace) RejectChange(ctx context.Context, id string) error {
	return w.remove(ctx, id, policy.ActionReject)
}

func (w *Workspace) ResolveComment(ctx context.Context, id string) error {
	return w.remove(ctx, id, policy.ActionResolve)
}

// remove checks the authorship policy before anything is sent; a violation
// is a warning and no request.
func (w *Workspace) remove(ctx context.Context, id string, action policy.Action) error {
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"comment_id": id, "action": action})
	item, ok := w.store.Get(id)
	if !ok {
		w.notify(ctx, LevelWarning, "That comment no longer exists.")
		return ErrUnknownEntry
	}
	if err := policy.Check(w.store.CurrentUserID(), item.Subject(), action); err != nil {
		w.notify(ctx, LevelWarning, policy.Message(err))
		return err
	}
	if action == policy.ActionAccept {
		if err := w.canAccept(ctx, item); err != nil {
			w.notify(ctx, LevelWarning, "The proposed change no longer matches the contract text.")
			return err
		}
	}
	if _, err := w.store.Remove(ctx, id, action); err != nil {
		w.notify(ctx, LevelError, fmt.Sprintf("Could not %s the comment.", action))
		return err
	}
	w.notify(ctx, LevelSuccess, removedMessage(action))
	if action == policy.ActionAccept && w.opts.SaveOnAccept {
		if _, err := w.Save(ctx, "accept "+id); err != nil {
			w.notify(ctx, LevelError, "The accepted change could not be saved.")
			return err
		}
	}
	return nil
}

// canAccept dry-runs the accept on a copy of the document so a change that
// can no longer be anchored is never closed on the server.
func (w *Workspace) canAccept(ctx context.Context, item comments.Comment) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.doc == nil {
		return ErrNotReady
	}
	return w.renderer.Accept(ctx, w.doc.Clone(), item)
}

func removedMessage(action policy.Action) string {
	switch action {
	case policy.ActionAccept:
		return "Change accepted."
	case policy.ActionReject:
		return "Change rejected."
	case policy.ActionResolve:
		return "Comment resolved."
	default:
		return "Comment deleted."
	}
}

// UpdateTrackChange edits the author's own proposed change.
func (w *Workspace) UpdateTrackChange(ctx context.Context, id string, body comments.TrackChange) error {
	item, ok := w.store.Get(id)
	if !ok {
		w.notify(ctx, LevelWarning, "That comment no longer exists.")
		return ErrUnknownEntry
	}
	if err := policy.Check(w.store.CurrentUserID(), item.Subject(), policy.ActionUpdate); err != nil {
		w.notify(ctx, LevelWarning, policy.Message(err))
		return err
	}
	if _, err := w.store.UpdateTrackChange(ctx, id, body); err != nil {
		w.notify(ctx, LevelError, "Could not update the change.")
		return err
	}
	return nil
}

// Edit runs a user edit through the guard and applies it.
func (w *Workspace) Edit(ctx context.Context, e guard.Edit) error {
	w.mu.Lock()
	if w.doc == nil {
		w.mu.Unlock()
		return ErrNotReady
	}
	verdict := guard.Check(w.doc, e)
	if !verdict.Allowed {
		w.mu.Unlock()
		w.notify(ctx, LevelWarning, verdict.Warning)
		return verdict.Err()
	}
	start, end := e.Removal(w.doc.Index().Len())
	var err error
	if end > start {
		err = w.doc.DeleteRange(start, end)
	}
	if err == nil && e.Kind == guard.Input && e.Text != "" {
		err = w.doc.InsertText(start, e.Text)
	}
	w.afterMutationLocked()
	w.mu.Unlock()
	return err
}

// ReplaceHTML swaps the whole document, as a script or paste would.
// Markers it dropped are restored by the next heal.
func (w *Workspace) ReplaceHTML(html string) error {
	doc, err := richtext.Parse(html)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc = doc
	w.afterMutationLocked()
	return nil
}

func (w *Workspace) afterMutationLocked() {
	live := make([]string, 0, len(w.rendered))
	for id := range w.rendered {
		live = append(live, id)
	}
	if missing := guard.Missing(w.doc, live); len(missing) > 0 {
		logger.For(w.ctx).WithField("missing", missing).Info("markers lost, scheduling re-highlight")
		w.observer.Notify(missing)
	}
	w.watcher.Touch()
}

// Rehighlight runs a full highlight pass now.
func (w *Workspace) Rehighlight() highlight.Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.doc == nil {
		return highlight.Report{}
	}
	w.passLocked()
	return w.report
}

func (w *Workspace) heal() {
	w.Rehighlight()
}

func (w *Workspace) passLocked() {
	w.report = w.renderer.Pass(w.ctx, w.doc, w.store.Ordered())
	w.rendered = make(map[string]bool, len(w.report.Rendered))
	for _, id := range w.report.Rendered {
		w.rendered[id] = true
	}
}

func (w *Workspace) checkDrift() {
	w.mu.Lock()
	if w.doc == nil {
		w.mu.Unlock()
		return
	}
	expected := map[string]string{}
	for _, item := range w.store.Ordered() {
		expected[item.ID] = item.SelectedText
	}
	w.drift = guard.Drifted(w.doc, expected)
	drift := append([]guard.Drift(nil), w.drift...)
	ctx := w.ctx
	w.mu.Unlock()

	if len(drift) > 0 {
		logger.For(ctx).WithField("drifted", len(drift)).Info("comment text changed since it was anchored")
	}
	if w.opts.OnDrift != nil {
		w.opts.OnDrift(drift)
	}
}

// Save writes the document without markers back to the server.
func (w *Workspace) Save(ctx context.Context, message string) (string, error) {
	if w.docs == nil {
		return "", ErrNoBackend
	}
	w.mu.Lock()
	if w.doc == nil {
		w.mu.Unlock()
		return "", ErrNotReady
	}
	html := w.doc.CleanHTML()
	contractID := w.contractID
	w.mu.Unlock()

	revision, err := w.docs.SaveDocument(ctx, contractID, html, message)
	if err != nil {
		return "", fmt.Errorf("save document: %w", err)
	}
	w.mu.Lock()
	w.revision = revision
	w.mu.Unlock()
	return revision, nil
}

func (w *Workspace) HTML() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.doc == nil {
		return ""
	}
	return w.doc.HTML()
}

func (w *Workspace) CleanHTML() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.doc == nil {
		return ""
	}
	return w.doc.CleanHTML()
}

func (w *Workspace) Text() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.doc == nil {
		return ""
	}
	return w.doc.Text()
}

func (w *Workspace) Markers() []richtext.MarkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.doc == nil {
		return nil
	}
	return w.doc.Markers()
}

func (w *Workspace) Report() highlight.Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.report
}

func (w *Workspace) Drift() []guard.Drift {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]guard.Drift(nil), w.drift...)
}

func (w *Workspace) ContractID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.contractID
}

func (w *Workspace) Revision() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.revision
}

// Close stops the heal and drift timers.
func (w *Workspace) Close() {
	w.observer.Stop()
	w.watcher.Stop()
}

func (w *Workspace) notify(ctx context.Context, level Level, message string) {
	w.opts.Notifier.Notify(ctx, level, message)
}
