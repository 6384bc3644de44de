package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clausemark/api/internal/client"
	"clausemark/api/internal/comments"
	"clausemark/api/internal/guard"
	"clausemark/api/internal/highlight"
	"clausemark/api/internal/policy"
)

const contract = `<div id="contract-content"><p>The term shall be 12 months.</p></div>`

type fakeServer struct {
	mu      sync.Mutex
	html    string
	saved   []string
	list    comments.List
	added   []comments.NewComment
	removed []policy.Action
	calls   int
}

func (f *fakeServer) Document(_ context.Context, contractID string, _ bool) (client.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return client.Document{ContractID: contractID, HTML: f.html, Revision: "r1"}, nil
}

func (f *fakeServer) SaveDocument(_ context.Context, _ string, html, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, html)
	return "r2", nil
}

func (f *fakeServer) ListComments(_ context.Context, _ string) (comments.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.list, nil
}

func (f *fakeServer) AddComment(_ context.Context, body comments.NewComment) (comments.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.added = append(f.added, body)
	return comments.Comment{
		ID:            "cmt_new",
		ContractID:    body.ContractID,
		UserID:        f.list.CurrentUserID,
		SelectedText:  body.SelectedText,
		ChangeType:    body.ChangeType,
		NewText:       body.NewText,
		PositionStart: body.PositionStart,
		PositionEnd:   body.PositionEnd,
		Anchor:        body.Anchor,
	}, nil
}

func (f *fakeServer) RemoveComment(_ context.Context, _ string, action policy.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.removed = append(f.removed, action)
	return nil
}

func (f *fakeServer) UpdateTrackChange(_ context.Context, _ string, _ comments.TrackChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeServer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type toast struct {
	level   Level
	message string
}

type toasts struct {
	mu  sync.Mutex
	got []toast
}

func (t *toasts) Notify(_ context.Context, level Level, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.got = append(t.got, toast{level, message})
}

func (t *toasts) last() toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.got) == 0 {
		return toast{}
	}
	return t.got[len(t.got)-1]
}

func setup(t *testing.T, current string, items ...comments.Comment) (*Workspace, *fakeServer, *toasts) {
	t.Helper()
	srv := &fakeServer{html: contract, list: comments.List{CurrentUserID: current, Comments: items}}
	notes := &toasts{}
	opts := DefaultOptions()
	opts.HealDelay = 10 * time.Millisecond
	opts.DriftQuiet = 10 * time.Millisecond
	opts.Notifier = notes
	w := New(srv, srv, opts)
	t.Cleanup(w.Close)
	require.NoError(t, w.Open(context.Background(), "k-1"))
	return w, srv, notes
}

func TestOpenHighlightsLoadedComments(t *testing.T) {
	w, _, _ := setup(t, "u1", comments.Comment{ID: "c1", UserID: "u1", SelectedText: "12 months", PositionStart: 19})

	markers := w.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, "c1", markers[0].CommentID)
	assert.Equal(t, 18, markers[0].Start)
	assert.Equal(t, 27, markers[0].End)
	assert.Equal(t, "r1", w.Revision())
	assert.Equal(t, []string{"c1"}, w.Report().Rendered)
}

func TestNonAuthorDeleteIsWarnedWithoutRequest(t *testing.T) {
	w, srv, notes := setup(t, "u2", comments.Comment{ID: "c1", UserID: "u1", SelectedText: "12 months", PositionStart: 18})
	before := srv.callCount()

	err := w.DeleteComment(context.Background(), "c1")
	assert.ErrorIs(t, err, policy.ErrNotAuthor)
	assert.Equal(t, before, srv.callCount())
	assert.Equal(t, LevelWarning, notes.last().level)
	assert.Len(t, w.Markers(), 1)
}

func TestAuthorCannotResolveOwnComment(t *testing.T) {
	w, srv, _ := setup(t, "u1", comments.Comment{ID: "c1", UserID: "u1", SelectedText: "12 months", PositionStart: 18})
	before := srv.callCount()

	assert.ErrorIs(t, w.ResolveComment(context.Background(), "c1"), policy.ErrSelfAction)
	assert.Equal(t, before, srv.callCount())
}

func TestAcceptInsertReplacesTextAndSaves(t *testing.T) {
	w, srv, notes := setup(t, "u2", comments.Comment{
		ID: "c1", UserID: "u1", SelectedText: "12 months", PositionStart: 18,
		ChangeType: comments.ChangeInsert, NewText: "24 months",
	})

	require.NoError(t, w.AcceptChange(context.Background(), "c1"))
	assert.Equal(t, "The term shall be 24 months.", w.Text())
	assert.Empty(t, w.Markers())
	assert.Equal(t, []policy.Action{policy.ActionAccept}, srv.removed)
	require.Len(t, srv.saved, 1)
	assert.Equal(t, `<div id="contract-content"><p>The term shall be 24 months.</p></div>`, srv.saved[0])
	assert.Equal(t, "r2", w.Revision())
	assert.Equal(t, LevelSuccess, notes.last().level)
}

func TestRejectUnwrapsOnly(t *testing.T) {
	w, _, _ := setup(t, "u2", comments.Comment{
		ID: "c1", UserID: "u1", SelectedText: "12 months", PositionStart: 18, ChangeType: comments.ChangeDelete,
	})

	require.NoError(t, w.RejectChange(context.Background(), "c1"))
	assert.Equal(t, contract, w.HTML())
}

func TestAcceptUnanchorableChangeSendsNoRequest(t *testing.T) {
	w, srv, notes := setup(t, "u2", comments.Comment{
		ID: "c1", UserID: "u1", SelectedText: "36 weeks", PositionStart: 18,
		ChangeType: comments.ChangeInsert, NewText: "24 months",
	})
	before := srv.callCount()

	err := w.AcceptChange(context.Background(), "c1")
	require.ErrorIs(t, err, highlight.ErrNotRendered)
	assert.Equal(t, before, srv.callCount())
	assert.Empty(t, srv.removed)
	assert.Empty(t, srv.saved)
	assert.Equal(t, LevelWarning, notes.last().level)
	assert.Equal(t, "The term shall be 12 months.", w.Text())

	_, ok := w.Store().Get("c1")
	assert.True(t, ok, "the proposal stays open")
}

func TestAuthorDeleteLeavesContractByteIdentical(t *testing.T) {
	w, srv, _ := setup(t, "u1", comments.Comment{ID: "c1", UserID: "u1", SelectedText: "12 months", PositionStart: 18})
	require.NotEqual(t, contract, w.HTML())

	require.NoError(t, w.DeleteComment(context.Background(), "c1"))
	assert.Equal(t, contract, w.HTML())
	assert.Equal(t, []policy.Action{policy.ActionDelete}, srv.removed)
	_, ok := w.Store().Get("c1")
	assert.False(t, ok)
}

func TestAuthorDeleteRestoresOriginalHTML(t *testing.T) {
	w, srv, notes := setup(t, "u1",
		comments.Comment{ID: "c1", UserID: "u1", SelectedText: "12 months", PositionStart: 18},
		comments.Comment{ID: "c2", UserID: "u2", SelectedText: "term", PositionStart: 4},
	)
	require.Len(t, w.Markers(), 2)

	require.NoError(t, w.DeleteComment(context.Background(), "c1"))
	assert.Equal(t, []policy.Action{policy.ActionDelete}, srv.removed)
	assert.Empty(t, srv.saved)
	assert.Equal(t, LevelSuccess, notes.last().level)

	markers := w.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, "c2", markers[0].CommentID)

	require.NoError(t, w.ResolveComment(context.Background(), "c2"))
	assert.Equal(t, contract, w.HTML())
}

func TestAddCommentAnchorsSelection(t *testing.T) {
	w, srv, _ := setup(t, "u1")

	created, err := w.AddComment(context.Background(), Selection{Start: 4, End: 8, CommentText: "define term"})
	require.NoError(t, err)
	assert.Equal(t, "term", created.SelectedText)
	require.Len(t, srv.added, 1)
	require.NotNil(t, srv.added[0].Anchor)
	assert.Equal(t, "The ", srv.added[0].Anchor.Prefix)
	assert.Equal(t, "k-1", srv.added[0].ContractID)

	text, ok := markerText(w, "cmt_new")
	require.True(t, ok)
	assert.Equal(t, "term", text)

	_, err = w.AddComment(context.Background(), Selection{Start: 5, End: 7})
	assert.ErrorIs(t, err, ErrOverlap)
	_, err = w.AddComment(context.Background(), Selection{Start: 3, End: 4})
	assert.Error(t, err)
}

func TestEditGuardBlocksIconDeletion(t *testing.T) {
	w, _, notes := setup(t, "u1", comments.Comment{ID: "c1", UserID: "u1", SelectedText: "12 months", PositionStart: 18})
	before := w.HTML()

	err := w.Edit(context.Background(), guard.Edit{Kind: guard.Backspace, Start: 27, End: 27})
	assert.ErrorIs(t, err, guard.ErrGuardedEdit)
	assert.Equal(t, before, w.HTML())
	assert.Equal(t, toast{LevelWarning, "cannot delete comment icon"}, notes.last())

	require.NoError(t, w.Edit(context.Background(), guard.Edit{Kind: guard.Input, Start: 0, End: 3, Text: "A"}))
	assert.Equal(t, "A term shall be 12 months.", w.Text())
}

func TestObserverRestoresRemovedMarker(t *testing.T) {
	w, _, _ := setup(t, "u1", comments.Comment{ID: "c1", UserID: "u1", SelectedText: "12 months", PositionStart: 18})

	require.NoError(t, w.ReplaceHTML(`<div id="contract-content"><p>Intro. The term shall be 12 months.</p></div>`))
	assert.Empty(t, w.Markers())

	require.Eventually(t, func() bool {
		_, ok := markerText(w, "c1")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestDriftReportedAfterQuietPeriod(t *testing.T) {
	srv := &fakeServer{html: contract, list: comments.List{CurrentUserID: "u1", Comments: []comments.Comment{
		{ID: "c1", UserID: "u1", SelectedText: "12 months", PositionStart: 18},
	}}}
	got := make(chan []guard.Drift, 4)
	opts := DefaultOptions()
	opts.DriftQuiet = 10 * time.Millisecond
	opts.Notifier = &toasts{}
	opts.OnDrift = func(d []guard.Drift) { got <- d }
	w := New(srv, srv, opts)
	t.Cleanup(w.Close)
	require.NoError(t, w.Open(context.Background(), "k-1"))

	require.NoError(t, w.Edit(context.Background(), guard.Edit{Kind: guard.Input, Start: 19, End: 20, Text: "8"}))

	select {
	case drift := <-got:
		require.Len(t, drift, 1)
		assert.Equal(t, "18 months", drift[0].Current)
	case <-time.After(time.Second):
		t.Fatal("drift was not reported")
	}
	assert.Len(t, w.Drift(), 1)
}

func TestCommentsLoadedBeforeDocumentWaitForIt(t *testing.T) {
	srv := &fakeServer{list: comments.List{CurrentUserID: "u1", Comments: []comments.Comment{
		{ID: "c1", UserID: "u1", SelectedText: "12 months", PositionStart: 18},
	}}}
	opts := DefaultOptions()
	opts.Notifier = &toasts{}
	w := New(nil, srv, opts)
	t.Cleanup(w.Close)

	require.NoError(t, w.Store().Load(context.Background(), "k-1"))
	assert.Empty(t, w.Markers())

	require.NoError(t, w.Attach(context.Background(), "k-1", contract))
	select {
	case <-w.Ready():
	default:
		t.Fatal("ready not signalled")
	}
	assert.Len(t, w.Markers(), 1)
}

func TestLoadHonoursContextWhileWaiting(t *testing.T) {
	w := New(nil, &fakeServer{}, Options{Notifier: &toasts{}})
	t.Cleanup(w.Close)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Load(ctx), context.Canceled)
}

func markerText(w *Workspace, id string) (string, bool) {
	for _, m := range w.Markers() {
		if m.CommentID == id {
			return m.Text, true
		}
	}
	return "", false
}
