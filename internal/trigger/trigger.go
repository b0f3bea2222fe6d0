// Package trigger issues the HTTP call that tells the backend to start
// producing a stream for a session id.
//
// The trigger is a plain GET against an agent-specific path carrying the
// question and the session id; the response body is not interpreted beyond
// confirming success. The actual answer arrives over the streaming channel
// opened separately for the same session id.
package trigger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentstream/internal/logging"
)

// Authorizer attaches authentication to outgoing trigger requests. The
// surrounding application owns credentials; this package only consumes them.
type Authorizer interface {
	// Authorize decorates the request, typically with an Authorization
	// header.
	Authorize(req *http.Request) error

	// IsLoggedIn reports whether credentials are present at all. The batch
	// layer checks this before burning a unit on a call that cannot
	// succeed.
	IsLoggedIn() bool
}

// TokenAuthorizer is a bearer-token Authorizer.
type TokenAuthorizer struct {
	Token string
}

func (a TokenAuthorizer) Authorize(req *http.Request) error {
	if a.Token == "" {
		return fmt.Errorf("trigger: no token configured")
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

func (a TokenAuthorizer) IsLoggedIn() bool { return a.Token != "" }

// NoAuth is an Authorizer for backends without authentication.
type NoAuth struct{}

func (NoAuth) Authorize(*http.Request) error { return nil }
func (NoAuth) IsLoggedIn() bool              { return true }

// Endpoints describes where the backend lives. TriggerPath and StreamPath
// are defaults; a sub-request can override the trigger path per agent.
type Endpoints struct {
	BaseURL     string // e.g. https://agent.example.com
	TriggerPath string // e.g. /api/answer
	StreamPath  string // e.g. /sse
}

// TriggerURL builds the trigger URL for a question under a session id.
// agentPath overrides the default trigger path when non-empty, so one batch
// can mix agents (SQL agent, tool agent) behind distinct paths.
func (e Endpoints) TriggerURL(agentPath, question, sessionID string) (string, error) {
	path := e.TriggerPath
	if agentPath != "" {
		path = agentPath
	}
	u, err := url.Parse(strings.TrimSuffix(e.BaseURL, "/") + path)
	if err != nil {
		return "", fmt.Errorf("trigger: bad endpoint: %w", err)
	}
	q := u.Query()
	q.Set("question", question)
	q.Set("q_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StreamURL builds the websocket URL that will carry the answer for a
// session id. http(s) schemes map to ws(s); the session id rides as a query
// parameter.
func (e Endpoints) StreamURL(sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(e.BaseURL, "/") + e.StreamPath)
	if err != nil {
		return "", fmt.Errorf("trigger: bad endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// Already a websocket URL.
	default:
		return "", fmt.Errorf("trigger: unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client fires triggers.
type Client struct {
	endpoints Endpoints
	auth      Authorizer
	http      *http.Client
}

// NewClient creates a trigger client. auth may be NoAuth{} but not nil.
func NewClient(endpoints Endpoints, auth Authorizer) *Client {
	return &Client{
		endpoints: endpoints,
		auth:      auth,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Fire asks the backend to start producing a stream for sessionID. An error
// here is an application-level failure: no channel has been opened yet, and
// only the unit that owns this session is affected.
func (c *Client) Fire(ctx context.Context, agentPath, question, sessionID string) error {
	target, err := c.endpoints.TriggerURL(agentPath, question, sessionID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("trigger: build request: %w", err)
	}
	if err := c.auth.Authorize(req); err != nil {
		return fmt.Errorf("trigger: authorize: %w", err)
	}

	logging.Trigger("firing trigger sid=%s path=%s", sessionID, req.URL.Path)
	timer := logging.StartTimer(logging.CategoryTrigger, "trigger "+req.URL.Path)
	defer timer.StopWithThreshold(5 * time.Second)
	resp, err := c.http.Do(req)
	if err != nil {
		logging.TriggerError("trigger failed sid=%s: %v", sessionID, err)
		logging.Transcript(logging.TranscriptEvent{
			EventType: logging.TranscriptTriggerFailed,
			SessionID: sessionID,
			Error:     err.Error(),
		})
		return fmt.Errorf("trigger: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection is reusable; the body itself is opaque.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.TriggerError("trigger rejected sid=%s: status %d", sessionID, resp.StatusCode)
		logging.Transcript(logging.TranscriptEvent{
			EventType: logging.TranscriptTriggerFailed,
			SessionID: sessionID,
			Error:     resp.Status,
		})
		return fmt.Errorf("trigger: backend returned %s", resp.Status)
	}

	logging.Transcript(logging.TranscriptEvent{
		EventType: logging.TranscriptTriggerSent,
		SessionID: sessionID,
	})
	return nil
}
