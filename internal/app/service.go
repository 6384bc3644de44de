package app

import (
	"context"
	"errors"
	"fmt"
	stdhtml "html"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"

	"clausemark/api/internal/auth"
	"clausemark/api/internal/cache"
	"clausemark/api/internal/comments"
	"clausemark/api/internal/config"
	"clausemark/api/internal/docrepo"
	"clausemark/api/internal/highlight"
	"clausemark/api/internal/logger"
	"clausemark/api/internal/policy"
	"clausemark/api/internal/richtext"
	"clausemark/api/internal/search"
	"clausemark/api/internal/store"
	"clausemark/api/internal/util"
)

// Session is the caller identified by a bearer token.
type Session struct {
	UserID   string
	UserName string
	Role     policy.Role
}

// DocumentView is a contract body as returned by the document endpoint.
type DocumentView struct {
	ContractID string `json:"contract_id"`
	HTML       string `json:"html"`
	Revision   string `json:"revision"`
}

type SaveDocumentInput struct {
	HTML    string `json:"html" validate:"required"`
	Message string `json:"message" validate:"max=500"`
}

type dataStore interface {
	InsertComment(context.Context, comments.Comment) error
	ListOpenComments(context.Context, string) ([]comments.Comment, error)
	GetComment(context.Context, string) (comments.Comment, error)
	CloseComment(context.Context, store.CommentClosure) error
	UpdateTrackChange(context.Context, string, comments.TrackChange) error
	Ping(ctx context.Context) error
}

type commentCache interface {
	Comments(context.Context, string) ([]comments.Comment, bool, error)
	SetComments(context.Context, string, []comments.Comment) error
	Invalidate(context.Context, string) error
}

type documentRepo interface {
	Save(contractID, html, author, message string) (docrepo.Revision, error)
	Head(contractID string) (string, docrepo.Revision, error)
	History(contractID string, limit int) ([]docrepo.Revision, error)
}

type commentSearch interface {
	Search(context.Context, search.Query) search.Response
	IndexComment(context.Context, comments.Comment)
	DeleteComment(context.Context, string)
}

var (
	validate = newValidator()
	// comment_text is plain text; any markup is stripped.
	sanitizer = bluemonday.StrictPolicy()
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type Service struct {
	cfg      config.Config
	store    dataStore
	cache    commentCache
	docs     documentRepo
	search   commentSearch
	renderer *highlight.Renderer
}

func New(cfg config.Config, dataStore *store.PostgresStore, docs *docrepo.Service, searchService *search.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		docs:     docs,
		renderer: highlight.New(),
	}
	if searchService != nil {
		s.search = searchService
	}
	return s
}

// NewWithCache is New with comment lists cached in Redis.
func NewWithCache(cfg config.Config, dataStore *store.PostgresStore, commentCache *cache.RedisStore, docs *docrepo.Service, searchService *search.Service) *Service {
	s := New(cfg, dataStore, docs, searchService)
	if commentCache != nil {
		s.cache = commentCache
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:   claims.Subject,
		UserName: claims.Name,
		Role:     policy.Normalize(claims.Role),
	}, nil
}

// IssueToken signs an access token for a user.
func (s *Service) IssueToken(userID, name, role string) (string, error) {
	ttl := s.cfg.AccessTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return auth.IssueToken([]byte(s.cfg.JWTSecret), auth.NewClaims(userID, name, role, ttl))
}

func (s *Service) ListComments(ctx context.Context, session Session, contractID string) (comments.List, error) {
	if err := requireRole(session, policy.ActionRead); err != nil {
		return comments.List{}, err
	}
	items, err := s.openComments(ctx, contractID)
	if err != nil {
		return comments.List{}, err
	}
	return comments.List{Comments: items, CurrentUserID: session.UserID}, nil
}

func (s *Service) openComments(ctx context.Context, contractID string) ([]comments.Comment, error) {
	log := logger.For(ctx).WithField("contract_id", contractID)
	if s.cache != nil {
		items, ok, err := s.cache.Comments(ctx, contractID)
		if err != nil {
			log.WithError(err).Warn("comment cache read failed")
		} else if ok {
			return items, nil
		}
	}
	items, err := s.store.ListOpenComments(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []comments.Comment{}
	}
	if s.cache != nil {
		if err := s.cache.SetComments(ctx, contractID, items); err != nil {
			log.WithError(err).Warn("comment cache write failed")
		}
	}
	return items, nil
}

func (s *Service) AddComment(ctx context.Context, session Session, body comments.NewComment) (comments.Comment, error) {
	if err := requireRole(session, policy.ActionComment); err != nil {
		return comments.Comment{}, err
	}
	if err := validateStruct(body); err != nil {
		return comments.Comment{}, err
	}
	if err := body.Validate(); err != nil {
		return comments.Comment{}, err
	}

	item := comments.Comment{
		ID:            util.NewID("cmt"),
		ContractID:    strings.TrimSpace(body.ContractID),
		UserID:        session.UserID,
		UserName:      session.UserName,
		CommentText:   plainText(body.CommentText),
		SelectedText:  body.SelectedText,
		ChangeType:    body.ChangeType,
		OriginalText:  body.OriginalText,
		NewText:       body.NewText,
		PositionStart: body.PositionStart,
		PositionEnd:   body.PositionEnd,
		Anchor:        body.Anchor,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.InsertComment(ctx, item); err != nil {
		return comments.Comment{}, err
	}
	s.invalidate(ctx, item.ContractID)
	if s.search != nil {
		s.search.IndexComment(ctx, item)
	}
	logger.For(ctx).WithFields(logrus.Fields{
		"comment_id":  item.ID,
		"contract_id": item.ContractID,
		"change_type": item.ChangeType,
	}).Info("comment added")
	return item, nil
}

// RemoveComment closes a comment. The action decides who may do it; the
// comment itself stays in the table with the closing action recorded.
func (s *Service) RemoveComment(ctx context.Context, session Session, id string, action policy.Action) error {
	item, err := s.store.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.Authorize(session.UserID, session.Role, item.Subject(), action); err != nil {
		return err
	}
	if err := s.store.CloseComment(ctx, store.CommentClosure{
		CommentID: id,
		Action:    string(action),
		ActorID:   session.UserID,
		ClosedAt:  time.Now().UTC(),
	}); err != nil {
		return err
	}
	s.invalidate(ctx, item.ContractID)
	if s.search != nil {
		s.search.DeleteComment(ctx, id)
	}
	logger.For(ctx).WithFields(logrus.Fields{
		"comment_id":  id,
		"contract_id": item.ContractID,
		"action":      action,
	}).Info("comment closed")
	return nil
}

func (s *Service) UpdateTrackChange(ctx context.Context, session Session, id string, body comments.TrackChange) (comments.Comment, error) {
	if err := validateStruct(body); err != nil {
		return comments.Comment{}, err
	}
	if err := body.Validate(); err != nil {
		return comments.Comment{}, err
	}
	item, err := s.store.GetComment(ctx, id)
	if err != nil {
		return comments.Comment{}, err
	}
	if err := policy.Authorize(session.UserID, session.Role, item.Subject(), policy.ActionUpdate); err != nil {
		return comments.Comment{}, err
	}
	if err := s.store.UpdateTrackChange(ctx, id, body); err != nil {
		return comments.Comment{}, err
	}
	body.Apply(&item)
	s.invalidate(ctx, item.ContractID)
	if s.search != nil {
		s.search.IndexComment(ctx, item)
	}
	return item, nil
}

func (s *Service) SearchComments(ctx context.Context, session Session, contractID, query string, limit int) (search.Response, error) {
	if err := requireRole(session, policy.ActionRead); err != nil {
		return search.Response{}, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}, nil
	}
	return s.search.Search(ctx, search.Query{ContractID: contractID, Text: query, Limit: limit}), nil
}

// Document returns the latest body of a contract. With highlighted set the
// open comments are rendered into it as markers.
func (s *Service) Document(ctx context.Context, session Session, contractID string, highlighted bool) (DocumentView, error) {
	if err := requireRole(session, policy.ActionRead); err != nil {
		return DocumentView{}, err
	}
	body, rev, err := s.docs.Head(contractID)
	if err != nil {
		return DocumentView{}, err
	}
	view := DocumentView{ContractID: contractID, HTML: body, Revision: rev.Hash}
	if !highlighted {
		return view, nil
	}

	doc, err := richtext.Parse(body)
	if err != nil {
		return DocumentView{}, fmt.Errorf("parse stored document: %w", err)
	}
	items, err := s.openComments(ctx, contractID)
	if err != nil {
		return DocumentView{}, err
	}
	report := s.renderer.Pass(ctx, doc, items)
	logger.For(ctx).WithFields(logrus.Fields{
		"contract_id": contractID,
		"rendered":    len(report.Rendered),
		"missing":     len(report.Missing),
	}).Debug("document highlighted")
	view.HTML = doc.HTML()
	return view, nil
}

// SaveDocument stores a new revision. Markers are stripped first so the
// repository only ever holds clean markup.
func (s *Service) SaveDocument(ctx context.Context, session Session, contractID string, input SaveDocumentInput) (docrepo.Revision, error) {
	if err := requireRole(session, policy.ActionEdit); err != nil {
		return docrepo.Revision{}, err
	}
	if err := validateStruct(input); err != nil {
		return docrepo.Revision{}, err
	}
	doc, err := richtext.Parse(input.HTML)
	if err != nil {
		return docrepo.Revision{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "html could not be parsed", nil)
	}
	rev, err := s.docs.Save(contractID, doc.CleanHTML(), session.UserName, input.Message)
	unchanged := errors.Is(err, docrepo.ErrUnchanged)
	if err != nil && !unchanged {
		return docrepo.Revision{}, err
	}
	logger.For(ctx).WithFields(logrus.Fields{
		"contract_id": contractID,
		"revision":    rev.Hash,
		"unchanged":   unchanged,
	}).Info("document saved")
	return rev, nil
}

func (s *Service) DocumentHistory(ctx context.Context, session Session, contractID string, limit int) ([]docrepo.Revision, error) {
	if err := requireRole(session, policy.ActionRead); err != nil {
		return nil, err
	}
	return s.docs.History(contractID, limit)
}

func (s *Service) invalidate(ctx context.Context, contractID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, contractID); err != nil {
		logger.For(ctx).WithError(err).WithField("contract_id", contractID).Warn("comment cache invalidate failed")
	}
}

func requireRole(session Session, action policy.Action) error {
	if !policy.Can(session.Role, action) {
		return fmt.Errorf("%w: %s cannot %s", policy.ErrRoleNotAllowed, session.Role, action)
	}
	return nil
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	failed, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make(map[string]string, len(failed))
	for _, fe := range failed {
		fields[fe.Field()] = fe.Tag()
	}
	return &comments.ValidationError{Fields: fields}
}

func plainText(value string) string {
	return strings.TrimSpace(stdhtml.UnescapeString(sanitizer.Sanitize(value)))
}
