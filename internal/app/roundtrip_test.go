package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clausemark/api/internal/client"
	"clausemark/api/internal/comments"
	"clausemark/api/internal/policy"
	"clausemark/api/internal/workspace"
)

func newWorkspace(t *testing.T, baseURL, token string) *workspace.Workspace {
	t.Helper()
	c := client.New(baseURL, token)
	opts := workspace.DefaultOptions()
	ws := workspace.New(c, c, opts)
	t.Cleanup(ws.Close)
	return ws
}

func TestClientServerRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.seedDocument(t)
	srv := httptest.NewServer(NewHTTPServer(env.svc, "*").Handler())
	defer srv.Close()
	ctx := context.Background()

	alice := env.token(t, "u-alice", "Alice", "editor")
	bob := env.token(t, "u-bob", "Bob", "editor")

	author := newWorkspace(t, srv.URL, alice)
	require.NoError(t, author.Open(ctx, "k-1"))
	assert.Equal(t, "u-alice", author.Store().CurrentUserID())

	created, err := author.AddComment(ctx, workspace.Selection{
		Start:       18,
		End:         27,
		CommentText: "Longer term",
		ChangeType:  comments.ChangeInsert,
		NewText:     "24 months",
	})
	require.NoError(t, err)
	assert.Equal(t, "u-alice", created.UserID)
	require.NotNil(t, created.Anchor)
	assert.Equal(t, "12 months", created.Anchor.Text)
	assert.Contains(t, author.HTML(), `data-comment-id="`+created.ID+`"`)

	// The author may not accept their own change; nothing reaches the server.
	err = author.AcceptChange(ctx, created.ID)
	assert.ErrorIs(t, err, policy.ErrSelfAction)
	assert.Empty(t, env.store.closed())

	reviewer := newWorkspace(t, srv.URL, bob)
	require.NoError(t, reviewer.Open(ctx, "k-1"))
	assert.Equal(t, 1, reviewer.Store().Len())
	require.Len(t, reviewer.Markers(), 1)

	require.NoError(t, reviewer.AcceptChange(ctx, created.ID))
	assert.Equal(t, `<div id="contract-content"><p>The term shall be 24 months.</p></div>`, reviewer.HTML())

	closed := env.store.closed()
	require.Len(t, closed, 1)
	assert.Equal(t, "accept", closed[0].Action)
	assert.Equal(t, "u-bob", closed[0].ActorID)

	saved, rev, err := env.docs.Head("k-1")
	require.NoError(t, err)
	assert.Equal(t, `<div id="contract-content"><p>The term shall be 24 months.</p></div>`, saved)
	assert.Equal(t, "Bob", rev.Author)
	assert.Equal(t, rev.Hash, reviewer.Revision())
}

func TestClientSeesServerPolicyErrors(t *testing.T) {
	env := newTestEnv(t)
	env.store.seed(comments.Comment{
		ID: "cmt_1", ContractID: "k-1", UserID: "u-alice", SelectedText: "12 months",
		PositionStart: 18, PositionEnd: 27,
	})
	srv := httptest.NewServer(NewHTTPServer(env.svc, "*").Handler())
	defer srv.Close()
	ctx := context.Background()

	bob := client.New(srv.URL, env.token(t, "u-bob", "Bob", "editor"))
	err := bob.RemoveComment(ctx, "cmt_1", policy.ActionDelete)
	require.Error(t, err)
	assert.True(t, client.IsStatus(err, http.StatusForbidden))

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)
	assert.Equal(t, policy.Message(policy.ErrNotAuthor), apiErr.Message)

	list, err := bob.ListComments(ctx, "k-1")
	require.NoError(t, err)
	assert.Equal(t, "u-bob", list.CurrentUserID)
	require.Len(t, list.Comments, 1)

	_, err = bob.AddComment(ctx, comments.NewComment{ContractID: "k-1"})
	assert.True(t, client.IsStatus(err, http.StatusUnprocessableEntity))

	anonymous := client.New(srv.URL, "")
	_, err = anonymous.ListComments(ctx, "k-1")
	assert.True(t, client.IsStatus(err, http.StatusUnauthorized))
}

func TestClientSearch(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(NewHTTPServer(env.svc, "*").Handler())
	defer srv.Close()

	env.search.results = nil
	c := client.New(srv.URL, env.token(t, "u-alice", "Alice", "viewer"))
	results, err := c.Search(context.Background(), "k-1", "term")
	require.NoError(t, err)
	assert.Empty(t, results)
}
