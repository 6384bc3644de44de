package store

import "time"

// CommentClosure records how a comment left the open list.
type CommentClosure struct {
	CommentID string
	Action    string
	ActorID   string
	ClosedAt  time.Time
}
