package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer comment", role: RoleViewer, action: ActionComment, allow: false},
		{name: "commenter comment", role: RoleCommenter, action: ActionComment, allow: true},
		{name: "commenter resolve", role: RoleCommenter, action: ActionResolve, allow: true},
		{name: "commenter accept", role: RoleCommenter, action: ActionAccept, allow: false},
		{name: "editor accept", role: RoleEditor, action: ActionAccept, allow: true},
		{name: "admin reject", role: RoleAdmin, action: ActionReject, allow: true},
		{name: "commenter edit", role: RoleCommenter, action: ActionEdit, allow: false},
		{name: "editor edit", role: RoleEditor, action: ActionEdit, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allow, Can(tc.role, tc.action))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, RoleEditor, Normalize(""))
	assert.Equal(t, RoleCommenter, Normalize("commenter"))
	assert.Equal(t, RoleViewer, Normalize("owner"))
}

func TestCheckAuthorship(t *testing.T) {
	insert := Subject{AuthorID: "u1", ChangeType: "insert"}
	note := Subject{AuthorID: "u1", ChangeType: "comment"}

	cases := []struct {
		name    string
		actor   string
		subject Subject
		action  Action
		want    error
	}{
		{name: "author deletes", actor: "u1", subject: note, action: ActionDelete},
		{name: "non-author deletes", actor: "u2", subject: note, action: ActionDelete, want: ErrNotAuthor},
		{name: "non-author updates", actor: "u2", subject: insert, action: ActionUpdate, want: ErrNotAuthor},
		{name: "reviewer accepts", actor: "u2", subject: insert, action: ActionAccept},
		{name: "author accepts own", actor: "u1", subject: insert, action: ActionAccept, want: ErrSelfAction},
		{name: "author resolves own", actor: "u1", subject: note, action: ActionResolve, want: ErrSelfAction},
		{name: "reviewer resolves", actor: "u2", subject: note, action: ActionResolve},
		{name: "accept plain comment", actor: "u2", subject: note, action: ActionReject, want: ErrNotTrackChange},
		{name: "unknown user", actor: "", subject: note, action: ActionResolve, want: ErrMissingIdentity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.actor, tc.subject, tc.action)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAuthorizeAppliesRoleFirst(t *testing.T) {
	err := Authorize("u2", RoleCommenter, Subject{AuthorID: "u1", ChangeType: "delete"}, ActionAccept)
	assert.ErrorIs(t, err, ErrRoleNotAllowed)

	err = Authorize("u2", RoleEditor, Subject{AuthorID: "u1", ChangeType: "delete"}, ActionAccept)
	assert.NoError(t, err)
}

func TestParseRemoval(t *testing.T) {
	action, err := ParseRemoval("")
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, action)

	action, err = ParseRemoval("resolve")
	require.NoError(t, err)
	assert.Equal(t, ActionResolve, action)

	_, err = ParseRemoval("archive")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Only the comment author can do this.", Message(ErrNotAuthor))
}
