package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"clausemark/api/internal/anchor"
	"clausemark/api/internal/comments"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const commentColumns = `id, contract_id, user_id, user_name, comment_text, selected_text, change_type,
	original_text, new_text, position_start, position_end, anchor, created_at`

func (s *PostgresStore) InsertComment(ctx context.Context, c comments.Comment) error {
	anchorJSON, err := encodeAnchor(c.Anchor)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contract_comments (`+commentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.ID, c.ContractID, c.UserID, c.UserName, c.CommentText, c.SelectedText, string(c.Kind()),
		c.OriginalText, c.NewText, c.PositionStart, c.PositionEnd, anchorJSON, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// ListOpenComments returns a contract's open comments, highest position
// first.
func (s *PostgresStore) ListOpenComments(ctx context.Context, contractID string) ([]comments.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM contract_comments
		WHERE contract_id = $1 AND closed_at IS NULL
		ORDER BY position_start DESC, created_at ASC
	`, contractID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

// GetComment returns an open comment or sql.ErrNoRows.
func (s *PostgresStore) GetComment(ctx context.Context, id string) (comments.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM contract_comments
		WHERE id = $1 AND closed_at IS NULL
	`, id)
	return scanComment(row)
}

// CloseComment takes a comment off the open list, recording the action.
func (s *PostgresStore) CloseComment(ctx context.Context, closure CommentClosure) error {
	if closure.ClosedAt.IsZero() {
		closure.ClosedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE contract_comments
		SET closed_at = $2, closed_by = $3, closed_action = $4, updated_at = $2
		WHERE id = $1 AND closed_at IS NULL
	`, closure.CommentID, closure.ClosedAt, closure.ActorID, closure.Action)
	if err != nil {
		return fmt.Errorf("close comment: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateTrackChange(ctx context.Context, id string, change comments.TrackChange) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contract_comments
		SET change_type = $2, original_text = $3, new_text = $4, updated_at = NOW()
		WHERE id = $1 AND closed_at IS NULL
	`, id, string(change.ChangeType), change.OriginalText, change.NewText)
	if err != nil {
		return fmt.Errorf("update track change: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (comments.Comment, error) {
	var (
		c          comments.Comment
		changeType string
		anchorJSON []byte
	)
	err := row.Scan(&c.ID, &c.ContractID, &c.UserID, &c.UserName, &c.CommentText, &c.SelectedText, &changeType,
		&c.OriginalText, &c.NewText, &c.PositionStart, &c.PositionEnd, &anchorJSON, &c.CreatedAt)
	if err != nil {
		return comments.Comment{}, err
	}
	c.ChangeType = comments.ChangeType(changeType)
	if len(anchorJSON) > 0 {
		var a anchor.Anchor
		if err := json.Unmarshal(anchorJSON, &a); err != nil {
			return comments.Comment{}, fmt.Errorf("decode anchor for %s: %w", c.ID, err)
		}
		c.Anchor = &a
	}
	return c, nil
}

func scanComments(rows *sql.Rows) ([]comments.Comment, error) {
	out := []comments.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return out, nil
}

func encodeAnchor(a *anchor.Anchor) (any, error) {
	if a == nil {
		return nil, nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode anchor: %w", err)
	}
	return string(raw), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
