package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/cirkelline-ai/loom/pkg/events"
	"github.com/cirkelline-ai/loom/pkg/session"
)

// Client talks to the orchestration backend: it starts runs and consumes
// their event streams, cancels and resumes runs, and manages sessions.
type Client struct {
	baseURL    string
	teamID     string
	userID     string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTeamID(teamID string) ClientOption {
	return func(c *Client) {
		c.teamID = teamID
	}
}

func WithUserID(userID string) ClientOption {
	return func(c *Client) {
		c.userID = userID
	}
}

func NewClient(baseURL string, options ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		teamID:  "cirkelline",
		// streaming responses must not get cut off by a client timeout
		httpClient: &http.Client{},
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// RunRequest starts a run from a user message. An empty SessionID asks the
// backend for a fresh session.
type RunRequest struct {
	Message   string
	SessionID string
}

// Run starts a run and feeds every raw wire event to emit, in stream order,
// until the stream ends. Emit errors abort the stream.
func (c *Client) Run(ctx context.Context, req RunRequest, emit func(raw []byte) error) error {
	form := url.Values{
		"message": {req.Message},
		"stream":  {"true"},
	}
	if req.SessionID != "" {
		form.Set("session_id", req.SessionID)
	}
	if c.userID != "" {
		form.Set("user_id", c.userID)
	}

	endpoint := fmt.Sprintf("%s/teams/%s/runs", c.baseURL, url.PathEscape(c.teamID))
	return c.stream(ctx, endpoint, form, emit)
}

// ContinueRun resumes a paused run with the user's answers filled into the
// tool descriptors, discarding the resumed stream. Use ContinueRunStream to
// consume it.
func (c *Client) ContinueRun(ctx context.Context, runID, sessionID string, tools []events.ToolCall) error {
	return c.ContinueRunStream(ctx, runID, sessionID, tools, nil)
}

// ContinueRunStream resumes a paused run and forwards the resumed stream.
func (c *Client) ContinueRunStream(ctx context.Context, runID, sessionID string, tools []events.ToolCall, emit func(raw []byte) error) error {
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return errors.Wrap(err, "could not encode tools")
	}

	form := url.Values{
		"tools":  {string(toolsJSON)},
		"stream": {"true"},
	}
	if sessionID != "" {
		form.Set("session_id", sessionID)
	}
	if c.userID != "" {
		form.Set("user_id", c.userID)
	}

	endpoint := fmt.Sprintf("%s/teams/%s/runs/%s/continue",
		c.baseURL, url.PathEscape(c.teamID), url.PathEscape(runID))
	if emit == nil {
		emit = func([]byte) error { return nil }
	}
	return c.stream(ctx, endpoint, form, emit)
}

// CancelRun asks the backend to stop a run. The caller treats this as
// best-effort; the local transcript is already final when this is sent.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	form := url.Values{"run_id": {runID}}
	if c.userID != "" {
		form.Set("user_id", c.userID)
	}

	endpoint := fmt.Sprintf("%s/teams/%s/runs/%s/cancel",
		c.baseURL, url.PathEscape(c.teamID), url.PathEscape(runID))
	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("cancel returned status %d", resp.StatusCode)
	}
	return nil
}

type sessionRecord struct {
	SessionID   string `json:"session_id"`
	SessionName string `json:"session_name,omitempty"`
	Title       string `json:"title,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
}

// FetchSessions returns the backend's session list for this user, newest
// first.
func (c *Client) FetchSessions(ctx context.Context) ([]session.Record, error) {
	endpoint := fmt.Sprintf("%s/sessions?type=team&component_id=%s&user_id=%s",
		c.baseURL, url.QueryEscape(c.teamID), url.QueryEscape(c.userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build sessions request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch sessions")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("sessions returned status %d", resp.StatusCode)
	}

	var raw []sessionRecord
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "could not decode session list")
	}

	records := make([]session.Record, 0, len(raw))
	for _, r := range raw {
		title := r.Title
		if title == "" {
			title = r.SessionName
		}
		rec := session.Record{SessionID: r.SessionID, Title: title}
		if r.CreatedAt > 0 {
			rec.CreatedAt = time.Unix(r.CreatedAt, 0)
		}
		records = append(records, rec)
	}
	return records, nil
}

// RenameSession renames a session on the backend.
func (c *Client) RenameSession(ctx context.Context, sessionID, name string) error {
	form := url.Values{"session_name": {name}}
	if c.userID != "" {
		form.Set("user_id", c.userID)
	}
	endpoint := fmt.Sprintf("%s/sessions/%s/rename", c.baseURL, url.PathEscape(sessionID))
	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("rename returned status %d", resp.StatusCode)
	}
	return nil
}

// DeleteSession removes a session on the backend.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	endpoint := fmt.Sprintf("%s/sessions/%s?user_id=%s",
		c.baseURL, url.PathEscape(sessionID), url.QueryEscape(c.userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "could not build delete request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "could not delete session")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errors.Errorf("delete returned status %d", resp.StatusCode)
	}
	return nil
}

// FetchRuns returns the persisted run history of a session as raw JSON, for
// replay.
func (c *Client) FetchRuns(ctx context.Context, sessionID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/sessions/%s/runs?user_id=%s",
		c.baseURL, url.PathEscape(sessionID), url.QueryEscape(c.userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build runs request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch runs")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("runs returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "could not build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request to %s failed", endpoint)
	}
	return resp, nil
}

func (c *Client) stream(ctx context.Context, endpoint string, form url.Values, emit func(raw []byte) error) error {
	resp, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("run request returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	reader := NewSSEReader(resp.Body)
	count := 0
	for {
		payload, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				log.Debug().Int("events", count).Msg("event stream finished")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "event stream broke")
		}
		count++
		if err := emit(payload); err != nil {
			return errors.Wrap(err, "event handler failed")
		}
	}
}
