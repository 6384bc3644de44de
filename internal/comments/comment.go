// Package comments holds the comment record, its validation rules, and the
// client-side cache that mirrors the server's list for one contract.
package comments

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"clausemark/api/internal/anchor"
	"clausemark/api/internal/policy"
)

type ChangeType string

const (
	ChangeComment ChangeType = "comment"
	ChangeInsert  ChangeType = "insert"
	ChangeDelete  ChangeType = "delete"
)

func (c ChangeType) Valid() bool {
	switch c {
	case ChangeComment, ChangeInsert, ChangeDelete:
		return true
	}
	return false
}

// TrackChange reports whether the comment proposes an edit.
func (c ChangeType) TrackChange() bool {
	return c == ChangeInsert || c == ChangeDelete
}

type Comment struct {
	ID            string         `json:"id"`
	ContractID    string         `json:"contract_id"`
	UserID        string         `json:"user_id"`
	UserName      string         `json:"user_name"`
	CommentText   string         `json:"comment_text"`
	SelectedText  string         `json:"selected_text"`
	ChangeType    ChangeType     `json:"change_type"`
	OriginalText  string         `json:"original_text,omitempty"`
	NewText       string         `json:"new_text,omitempty"`
	PositionStart int            `json:"position_start"`
	PositionEnd   int            `json:"position_end"`
	Anchor        *anchor.Anchor `json:"anchor,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (c Comment) Subject() policy.Subject {
	return policy.Subject{AuthorID: c.UserID, ChangeType: string(c.Kind())}
}

// Kind is the change type with the empty value read as a plain comment.
func (c Comment) Kind() ChangeType {
	if c.ChangeType == "" {
		return ChangeComment
	}
	return c.ChangeType
}

// Anchored returns the stored anchor, or one rebuilt from the legacy
// selected_text and position fields.
func (c Comment) Anchored() anchor.Anchor {
	if c.Anchor != nil && c.Anchor.Valid() {
		return *c.Anchor
	}
	return anchor.Anchor{Text: c.SelectedText, Offset: c.PositionStart}
}

// NewComment is the body of the add request.
type NewComment struct {
	ContractID    string         `json:"contract_id" validate:"required,max=128"`
	CommentText   string         `json:"comment_text" validate:"max=10000"`
	SelectedText  string         `json:"selected_text" validate:"required"`
	Anchor        *anchor.Anchor `json:"anchor,omitempty"`
	PositionStart int            `json:"position_start" validate:"gte=0"`
	PositionEnd   int            `json:"position_end" validate:"gtefield=PositionStart"`
	ChangeType    ChangeType     `json:"change_type" validate:"omitempty,oneof=comment insert delete"`
	OriginalText  string         `json:"original_text,omitempty"`
	NewText       string         `json:"new_text,omitempty"`
}

// TrackChange is the body of the track-change update request.
type TrackChange struct {
	OriginalText string     `json:"original_text"`
	NewText      string     `json:"new_text"`
	ChangeType   ChangeType `json:"change_type" validate:"required,oneof=comment insert delete"`
}

// List is the response of the list endpoint.
type List struct {
	Comments      []Comment `json:"comments"`
	CurrentUserID string    `json:"current_user_id"`
}

var ErrInvalid = errors.New("invalid comment")

// ValidationError lists the offending fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, field+": "+e.Fields[field])
	}
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Validate applies the record invariants and fills defaults: an empty change
// type becomes comment and original_text defaults to the selection for
// track changes.
func (n *NewComment) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(n.ContractID) == "" {
		fields["contract_id"] = "required"
	}
	if strings.TrimSpace(n.SelectedText) == "" {
		fields["selected_text"] = "required"
	}
	if n.ChangeType == "" {
		n.ChangeType = ChangeComment
	}
	if !n.ChangeType.Valid() {
		fields["change_type"] = "must be comment, insert or delete"
	}
	if n.ChangeType == ChangeInsert && strings.TrimSpace(n.NewText) == "" {
		fields["new_text"] = "required for insert"
	}
	if n.PositionStart < 0 {
		fields["position_start"] = "must not be negative"
	}
	if n.PositionEnd < n.PositionStart {
		fields["position_end"] = "must not precede position_start"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	if n.ChangeType.TrackChange() && n.OriginalText == "" {
		n.OriginalText = n.SelectedText
	}
	if n.ChangeType == ChangeComment {
		n.OriginalText, n.NewText = "", ""
	}
	return nil
}

// Validate checks the update body.
func (t *TrackChange) Validate() error {
	fields := map[string]string{}
	if !t.ChangeType.Valid() {
		fields["change_type"] = "must be comment, insert or delete"
	}
	if t.ChangeType == ChangeInsert && strings.TrimSpace(t.NewText) == "" {
		fields["new_text"] = "required for insert"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Apply copies the track-change fields onto c.
func (t TrackChange) Apply(c *Comment) {
	c.ChangeType = t.ChangeType
	c.OriginalText = t.OriginalText
	c.NewText = t.NewText
}
