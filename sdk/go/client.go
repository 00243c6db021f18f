package fastvotesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Fastvote HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Action represents the API action model.
type Action struct {
	Key             string `json:"key"`
	ActionID        uint64 `json:"action_id"`
	ActionHash      string `json:"action_hash"`
	DescriptionHash string `json:"description_hash"`
	Creator         string `json:"creator"`
	Threshold       uint8  `json:"threshold"`
	VotesFor        uint32 `json:"votes_for"`
	VotesAgainst    uint32 `json:"votes_against"`
	VoteCount       uint32 `json:"vote_count"`
	Approval        uint64 `json:"approval"`
	CreatedTick     uint64 `json:"created_tick"`
	DeadlineTick    uint64 `json:"deadline_tick"`
	Executed        bool   `json:"executed"`
	Result          string `json:"result"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// Vote is one recorded ballot.
type Vote struct {
	Key             string `json:"key"`
	Action          string `json:"action"`
	Voter           string `json:"voter"`
	VoterCommitment string `json:"voter_commitment"`
	VoteValue       bool   `json:"vote_value"`
	VotedTick       uint64 `json:"voted_tick"`
	CreatedAt       string `json:"created_at"`
}

type Delegation struct {
	Action        string `json:"action"`
	Validator     string `json:"validator,omitempty"`
	DelegatedTick uint64 `json:"delegated_tick"`
	CreatedAt     string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type Audit struct {
	ActionID         uint64 `json:"action_id"`
	Key              string `json:"key"`
	VotesFor         uint32 `json:"votes_for"`
	VotesAgainst     uint32 `json:"votes_against"`
	RecordedFor      uint32 `json:"recorded_for"`
	RecordedAgainst  uint32 `json:"recorded_against"`
	Result           string `json:"result"`
	Committed        bool   `json:"committed"`
	CommittedAt      string `json:"committed_at,omitempty"`
	CommittedMatches bool   `json:"committed_matches"`
	Consistent       bool   `json:"consistent"`
}

// CreateActionInput holds hex hashes as the API expects them.
type CreateActionInput struct {
	ActionID        uint64 `json:"action_id"`
	ActionHash      string `json:"action_hash"`
	DescriptionHash string `json:"description_hash,omitempty"`
	Threshold       int    `json:"threshold"`
}

// APIError wraps non-2xx responses. Code is the error envelope's code when
// the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedActions wraps list responses with cursors.
type PaginatedActions struct {
	Items      []Action `json:"items"`
	NextCursor string   `json:"next_cursor"`
}

type PaginatedVotes struct {
	Items      []Vote `json:"items"`
	NextCursor string `json:"next_cursor"`
}

type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateAction opens an action owned by the authenticated caller.
func (c *Client) CreateAction(ctx context.Context, in CreateActionInput) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodPost, "actions", in, &resp)
	return resp, err
}

func (c *Client) GetAction(ctx context.Context, actionID uint64) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodGet, actionPath(actionID, ""), nil, &resp)
	return resp, err
}

// ListActions lists actions newest first. result may be empty.
func (c *Client) ListActions(ctx context.Context, result string, limit int, cursor string) (PaginatedActions, error) {
	q := url.Values{}
	setQuery(q, "result", result)
	setLimitCursor(q, limit, cursor)
	var resp PaginatedActions
	err := c.do(ctx, http.MethodGet, withQuery("actions", q), nil, &resp)
	return resp, err
}

// Delegate hands an action to the fast execution context. expectedKey and
// validator are optional hex values.
func (c *Client) Delegate(ctx context.Context, actionID uint64, expectedKey, validator string) (Delegation, error) {
	body := map[string]any{}
	if expectedKey != "" {
		body["expected_key"] = expectedKey
	}
	if validator != "" {
		body["validator"] = validator
	}
	var resp Delegation
	err := c.do(ctx, http.MethodPost, actionPath(actionID, "delegate"), body, &resp)
	return resp, err
}

func (c *Client) Delegation(ctx context.Context, actionID uint64) (Delegation, error) {
	var resp Delegation
	err := c.do(ctx, http.MethodGet, actionPath(actionID, "delegation"), nil, &resp)
	return resp, err
}

// CastVote votes as the authenticated caller.
func (c *Client) CastVote(ctx context.Context, actionID uint64, value bool, commitment string) (Vote, Action, error) {
	body := map[string]any{
		"vote_value":       value,
		"voter_commitment": commitment,
	}
	var resp struct {
		Vote   Vote   `json:"vote"`
		Action Action `json:"action"`
	}
	err := c.do(ctx, http.MethodPost, actionPath(actionID, "votes"), body, &resp)
	return resp.Vote, resp.Action, err
}

// ListVotes lists votes of an action. value may be "for", "against" or empty.
func (c *Client) ListVotes(ctx context.Context, actionID uint64, value string, limit int, cursor string) (PaginatedVotes, error) {
	q := url.Values{}
	setQuery(q, "value", value)
	setLimitCursor(q, limit, cursor)
	var resp PaginatedVotes
	err := c.do(ctx, http.MethodGet, withQuery(actionPath(actionID, "votes"), q), nil, &resp)
	return resp, err
}

func (c *Client) GetVote(ctx context.Context, actionID uint64, voter string) (Vote, error) {
	var resp Vote
	err := c.do(ctx, http.MethodGet, actionPath(actionID, "votes/"+url.PathEscape(voter)), nil, &resp)
	return resp, err
}

func (c *Client) Finalize(ctx context.Context, actionID uint64) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodPost, actionPath(actionID, "finalize"), nil, &resp)
	return resp, err
}

func (c *Client) Cancel(ctx context.Context, actionID uint64) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodPost, actionPath(actionID, "cancel"), nil, &resp)
	return resp, err
}

func (c *Client) Audit(ctx context.Context, actionID uint64) (Audit, error) {
	var resp Audit
	err := c.do(ctx, http.MethodGet, actionPath(actionID, "audit"), nil, &resp)
	return resp, err
}

// Tick returns the server's current logical tick.
func (c *Client) Tick(ctx context.Context) (uint64, error) {
	var resp struct {
		Tick uint64 `json:"tick"`
	}
	err := c.do(ctx, http.MethodGet, "clock", nil, &resp)
	return resp.Tick, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	setLimitCursor(q, limit, cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func actionPath(actionID uint64, sub string) string {
	p := "actions/" + strconv.FormatUint(actionID, 10)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func setQuery(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func setLimitCursor(q url.Values, limit int, cursor string) {
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	setQuery(q, "cursor", cursor)
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
