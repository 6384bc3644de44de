// Package client talks to the comments REST API. It implements
// comments.Backend and the document endpoints the workspace loads from.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"clausemark/api/internal/comments"
	"clausemark/api/internal/logger"
	"clausemark/api/internal/policy"
)

// APIError is a non-2xx response or a body with success=false.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ comments.Backend = (*Client)(nil)

func (c *Client) ListComments(ctx context.Context, contractID string) (comments.List, error) {
	var out struct {
		comments.List
	}
	err := c.do(ctx, http.MethodGet, "/api/contracts/comments/"+url.PathEscape(contractID), nil, &out)
	if out.Comments == nil {
		out.Comments = []comments.Comment{}
	}
	return out.List, err
}

func (c *Client) AddComment(ctx context.Context, body comments.NewComment) (comments.Comment, error) {
	var out struct {
		Comment comments.Comment `json:"comment"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/contracts/comments/add", body, &out); err != nil {
		return comments.Comment{}, err
	}
	return out.Comment, nil
}

func (c *Client) RemoveComment(ctx context.Context, id string, action policy.Action) error {
	path := "/api/contracts/comments/" + url.PathEscape(id)
	if action != "" {
		path += "?action=" + url.QueryEscape(string(action))
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) UpdateTrackChange(ctx context.Context, id string, body comments.TrackChange) error {
	return c.do(ctx, http.MethodPut, "/api/contracts/comments/"+url.PathEscape(id)+"/track-change", body, nil)
}

// Document is a contract body as served by the document endpoint.
type Document struct {
	ContractID string `json:"contract_id"`
	HTML       string `json:"html"`
	Revision   string `json:"revision"`
}

func (c *Client) Document(ctx context.Context, contractID string, highlighted bool) (Document, error) {
	path := "/api/contracts/" + url.PathEscape(contractID) + "/document"
	if highlighted {
		path += "?highlight=1"
	}
	var out Document
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) SaveDocument(ctx context.Context, contractID, html, message string) (string, error) {
	body := map[string]string{"html": html, "message": message}
	var out struct {
		Revision string `json:"revision"`
	}
	err := c.do(ctx, http.MethodPut, "/api/contracts/"+url.PathEscape(contractID)+"/document", body, &out)
	return out.Revision, err
}

// SearchResult is one comment hit.
type SearchResult struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
}

func (c *Client) Search(ctx context.Context, contractID, query string) ([]SearchResult, error) {
	var out struct {
		Results []SearchResult `json:"results"`
	}
	path := "/api/contracts/comments/" + url.PathEscape(contractID) + "/search?q=" + url.QueryEscape(query)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Results, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	log := logger.For(ctx).WithFields(logrus.Fields{"method": method, "path": path})
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("request failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		Success *bool `json:"success"`
		APIError
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode >= 300 || (envelope.Success != nil && !*envelope.Success) {
		apiErr := envelope.APIError
		apiErr.Status = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		log.WithFields(logrus.Fields{"status": resp.StatusCode, "code": apiErr.Code}).Warn("request rejected")
		return &apiErr
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	log.WithField("status", resp.StatusCode).Debug("request ok")
	return nil
}
