// Package policy decides who may act on a comment. The same rules run in the
// workspace, where a violation becomes a warning before any request is sent,
// and in the server, where it becomes a 403.
package policy

import (
	"errors"
	"fmt"
)

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionResolve Action = "resolve"
	// ActionEdit saves the document body itself.
	ActionEdit Action = "edit"
)

var (
	ErrNotAuthor       = errors.New("only the author can do this")
	ErrSelfAction      = errors.New("authors cannot act on their own comment")
	ErrNotTrackChange  = errors.New("only track changes can be accepted or rejected")
	ErrRoleNotAllowed  = errors.New("role does not allow this action")
	ErrUnknownAction   = errors.New("unknown action")
	ErrMissingIdentity = errors.New("current user is unknown")
)

// ParseRemoval maps the DELETE endpoint's action parameter; empty means
// delete.
func ParseRemoval(value string) (Action, error) {
	switch Action(value) {
	case "", ActionDelete:
		return ActionDelete, nil
	case ActionAccept, ActionReject, ActionResolve:
		return Action(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, value)
	}
}

// Can reports whether a role permits an action at all, before authorship is
// considered.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return true
	case RoleCommenter:
		return action != ActionAccept && action != ActionReject && action != ActionEdit
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps a token role claim to a Role. Tokens without a role belong
// to full collaborators; unrecognized roles are read-only.
func Normalize(role string) Role {
	switch Role(role) {
	case "":
		return RoleEditor
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Subject is the comment being acted on.
type Subject struct {
	AuthorID   string
	ChangeType string
}

// Check applies the authorship rules: delete and update belong to the
// author; accept, reject and resolve belong to everyone else; accept and
// reject need an insert or delete change.
func Check(actorID string, subject Subject, action Action) error {
	if actorID == "" {
		return ErrMissingIdentity
	}
	isAuthor := actorID == subject.AuthorID
	switch action {
	case ActionRead, ActionComment, ActionEdit:
		return nil
	case ActionDelete, ActionUpdate:
		if !isAuthor {
			return ErrNotAuthor
		}
		return nil
	case ActionAccept, ActionReject:
		if subject.ChangeType != "insert" && subject.ChangeType != "delete" {
			return ErrNotTrackChange
		}
		if isAuthor {
			return ErrSelfAction
		}
		return nil
	case ActionResolve:
		if isAuthor {
			return ErrSelfAction
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// Authorize combines the role gate with Check.
func Authorize(actorID string, role Role, subject Subject, action Action) error {
	if !Can(role, action) {
		return fmt.Errorf("%w: %s cannot %s", ErrRoleNotAllowed, role, action)
	}
	return Check(actorID, subject, action)
}

// Message is the user-facing warning for a policy error.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthor):
		return "Only the comment author can do this."
	case errors.Is(err, ErrSelfAction):
		return "You cannot accept, reject or resolve your own comment."
	case errors.Is(err, ErrNotTrackChange):
		return "Only track changes can be accepted or rejected."
	case errors.Is(err, ErrRoleNotAllowed):
		return "Your role does not allow this action."
	case errors.Is(err, ErrMissingIdentity):
		return "Comments are still loading."
	default:
		return err.Error()
	}
}
