package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fastvote/internal/clock"
	"fastvote/internal/config"
	"fastvote/internal/db"
	"fastvote/internal/domain"
	"fastvote/internal/engine"
	"fastvote/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	Clock  *clock.Manual
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, tweak ...func(*Config)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	cfg.Voting.WindowTicks = 5
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	clk := clock.NewManual(100)
	e.Clock = clk
	srvCfg := Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, DevLogin: true},
	}
	for _, fn := range tweak {
		fn(&srvCfg)
	}
	handler, err := New(srvCfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Clock:  clk,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(actor string) map[string]string { return map[string]string{"X-Actor-Id": actor} }

func hexOf(s string) string { return domain.IdentityFor(s).String() }

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func createAction(t *testing.T, srv *testServer, actionID uint64, threshold int, actor string) ActionResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/actions", map[string]any{
		"action_id":   actionID,
		"action_hash": hexOf("proposal"),
		"threshold":   threshold,
	}, as(actor))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var a ActionResponse
	require.NoError(t, json.Unmarshal(data, &a))
	return a
}

func castVote(t *testing.T, srv *testServer, actionID string, actor string, value bool) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/actions/"+actionID+"/votes", map[string]any{
		"vote_value":       value,
		"voter_commitment": hexOf("c:" + actor),
	}, as(actor))
}

func TestActionLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createAction(t, srv, 42, 60, "alice")
	assert.Equal(t, "pending", created.Result)
	assert.Equal(t, uint64(105), created.DeadlineTick)
	assert.Equal(t, hexOf("alice"), created.Creator)

	for actor, value := range map[string]bool{"v1": true, "v2": true, "v3": false} {
		res, data := castVote(t, srv, "42", actor, value)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/42/finalize", nil, as("keeper"))
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "voting_not_ended", errorCode(t, data))

	srv.Clock.Set(106)
	res, data = castVote(t, srv, "42", "late", true)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "voting_ended", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/42/finalize", nil, as("keeper"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var final ActionResponse
	require.NoError(t, json.Unmarshal(data, &final))
	assert.Equal(t, "passed", final.Result)
	assert.Equal(t, uint64(66), final.Approval)
	assert.True(t, final.Executed)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/actions/42/commit", nil, as("auditor"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var commit CommitResponse
	require.NoError(t, json.Unmarshal(data, &commit))
	assert.Equal(t, "passed", commit.Action.Result)
	assert.Len(t, commit.RecordHex, 2*domain.ActionRecordLen)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/actions/42/audit", nil, as("auditor"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rep engine.AuditReport
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.True(t, rep.Consistent)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/actions/42/votes?value=for", nil, as("auditor"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var votes paginatedVotes
	require.NoError(t, json.Unmarshal(data, &votes))
	assert.Len(t, votes.Items, 2)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_id=42&limit=2", nil, as("auditor"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts paginatedEvents
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts.Items, 2)
	assert.Equal(t, "action.executed", evts.Items[0].Type)
	assert.NotEmpty(t, evts.NextCursor)
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions", map[string]any{
		"action_id": 1, "action_hash": hexOf("p"), "threshold": 0,
	}, as("alice"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_threshold", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions", map[string]any{
		"action_id": 1, "action_hash": "not-hex", "threshold": 50,
	}, as("alice"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "bad_request", errorCode(t, data))

	createAction(t, srv, 1, 50, "alice")
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions", map[string]any{
		"action_id": 1, "action_hash": hexOf("p"), "threshold": 50,
	}, as("bob"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "duplicate_action", errorCode(t, data))

	res, data = castVote(t, srv, "1", "bob", true)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = castVote(t, srv, "1", "bob", false)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "duplicate_vote", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/1/votes", map[string]any{
		"vote_value": true, "voter_commitment": strings.Repeat("0", 64),
	}, as("carol"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_voter_commitment", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/1/cancel", nil, as("mallory"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/actions/999", nil, as("alice"))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "action_not_found", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/1/delegate", map[string]any{
		"expected_key": hexOf("elsewhere"),
	}, as("alice"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_key", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/1/cancel", nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actions/1/cancel", nil, as("alice"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "action_already_executed", errorCode(t, data))
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "dana"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var who WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, "dana", who.ActorID)
	assert.Equal(t, "jwt", who.Source)
	assert.Equal(t, hexOf("dana"), who.Identity)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	raw, _, err := srv.Engine.Repo.CreateAPIKey(context.Background(), "erin", "ci")
	require.NoError(t, err)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": raw})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, "erin", who.ActorID)
	assert.Equal(t, "api_key", who.Source)
}

func TestLegacyHeaderDisabled(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) { c.Auth.AllowLegacyActorHeader = false })
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, as("alice"))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, cleanup := newTestServer(t, func(c *Config) { c.RateLimiter = NewRateLimiter(ctx, 1, 1, nil) })
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "rate_limited", errorCode(t, data))
	assert.Equal(t, "1", res.Header.Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestOpenAPIConcurrentFirstFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const fetchers = 8
	bodies := make([][]byte, fetchers)
	errs := make([]error, fetchers)
	var wg sync.WaitGroup
	for i := 0; i < fetchers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 0; i < fetchers; i++ {
		require.NoError(t, errs[i])
		require.NotEmpty(t, bodies[i])
		assert.Equal(t, bodies[0], bodies[i])
	}
	var doc map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &doc))
	assert.Contains(t, doc, "paths")
}

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var mu sync.Mutex
	var got []webhookEvent
	var sigs []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		_ = json.Unmarshal(body, &evt)
		mu.Lock()
		got = append(got, evt)
		sigs = append(sigs, r.Header.Get("X-Fastvote-Signature"))
		mu.Unlock()
		assert.Equal(t, signBody("s3cret", body), r.Header.Get("X-Fastvote-Signature"))
		assert.NotEmpty(t, r.Header.Get("X-Fastvote-Delivery"))
	}))
	defer hook.Close()

	ctx := context.Background()
	d := NewWebhookDispatcher(srv.Engine, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{"vote.cast"}, Secret: "s3cret"},
	}, nil)
	d.DispatchAll(ctx)

	createAction(t, srv, 7, 50, "alice")
	res, data := castVote(t, srv, "7", "bob", true)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "vote.cast", got[0].Type)
	assert.Equal(t, "7", got[0].EntityID)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	assert.Equal(t, hexOf("bob"), payload["voter"])
	assert.Len(t, sigs, 1)
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var mu sync.Mutex
	fail := true
	delivered := 0
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		delivered++
	}))
	defer hook.Close()

	ctx := context.Background()
	d := NewWebhookDispatcher(srv.Engine, []config.WebhookConfig{{URL: hook.URL}}, nil)
	d.DispatchAll(ctx)
	createAction(t, srv, 8, 50, "alice")
	d.DispatchAll(ctx)

	mu.Lock()
	fail = false
	mu.Unlock()
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, delivered)
}

func TestListActionsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	for i := uint64(1); i <= 3; i++ {
		createAction(t, srv, i, 50, "alice")
	}
	seen := map[string]bool{}
	cursor := ""
	for page := 0; page < 3; page++ {
		url := srv.URL + "/v1/actions?limit=2"
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, as("alice"))
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		var list paginatedActions
		require.NoError(t, json.Unmarshal(data, &list))
		for _, a := range list.Items {
			assert.False(t, seen[a.Key], "action listed twice")
			seen[a.Key] = true
		}
		cursor = list.NextCursor
		if cursor == "" {
			break
		}
	}
	assert.Len(t, seen, 3)
}
