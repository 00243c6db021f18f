package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fastvote/internal/domain"
	"fastvote/internal/engine"
	"fastvote/internal/metrics"
	"fastvote/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *metrics.APIMetrics
	// RateLimiter is optional; nil disables per-client limiting.
	RateLimiter *RateLimiter
	Logger      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"voting_ended"`
	Message string         `json:"message" example:"voting has ended"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the fastvote API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	apiMetrics := cfg.Metrics
	if apiMetrics == nil {
		apiMetrics = metrics.NopAPIMetrics()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(instrument(apiMetrics))
	if cfg.RateLimiter != nil {
		router.Use(cfg.RateLimiter.Middleware)
	}
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("fastvote API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	registerVotes(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// instrument counts and times every request by method and status.
func instrument(m *metrics.APIMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			labels := []string{"method", r.Method, "status", strconv.Itoa(status)}
			m.RequestsTotal.With(labels...).Add(1)
			m.RequestDurationSeconds.With(labels...).Observe(time.Since(start).Seconds())
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func statusForKind(k engine.Kind) int {
	switch k {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindAuthorization:
		return http.StatusForbidden
	case engine.KindConflict:
		return http.StatusConflict
	case engine.KindTemporal, engine.KindCapacity, engine.KindArithmetic:
		return http.StatusUnprocessableEntity
	case engine.KindHandoff:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if ce, ok := engine.AsError(err); ok {
		var details map[string]any
		if cause := errors.Unwrap(ce); cause != nil {
			details = map[string]any{"cause": cause.Error()}
		}
		return newAPIError(statusForKind(ce.Kind), ce.Code, ce.Message, details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>fastvote API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

type healthBody struct {
	Status string `json:"status"`
	Tick   uint64 `json:"tick"`
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body healthBody `json:"body"`
	}, error) {
		return &struct {
			Body healthBody `json:"body"`
		}{Body: healthBody{Status: "ok", Tick: e.Tick()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clock",
		Method:      http.MethodGet,
		Path:        "/clock",
		Summary:     "Current logical tick",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ClockResponse `json:"body"`
	}, error) {
		return &struct {
			Body ClockResponse `json:"body"`
		}{Body: ClockResponse{Tick: e.Tick()}}, nil
	})
}

type actionPath struct {
	ActionID uint64 `path:"action_id"`
}

type actionOutput struct {
	Body ActionResponse `json:"body"`
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-action",
		Method:        http.MethodPost,
		Path:          "/actions",
		Summary:       "Open an action for voting",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateActionRequest `json:"body"`
	}) (*actionOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actionHash, herr := parseOptionalHash("action_hash", input.Body.ActionHash)
		if herr != nil {
			return nil, herr
		}
		descHash, herr := parseOptionalHash("description_hash", input.Body.DescriptionHash)
		if herr != nil {
			return nil, herr
		}
		a, err := e.CreateAction(ctx, engine.ActionCreateOptions{
			ActionID:        input.Body.ActionID,
			ActionHash:      actionHash,
			DescriptionHash: descHash,
			Threshold:       input.Body.Threshold,
			Creator:         principal.Identity(),
			ActorID:         principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &actionOutput{Body: actionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List actions, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Result  string `query:"result" enum:"pending,passed,failed,cancelled"`
		Creator string `query:"creator" doc:"Creator identity (hex)"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body paginatedActions `json:"body"`
	}, error) {
		f := repo.ActionFilters{Result: input.Result, Limit: normalizeLimit(input.Limit) + 1}
		if input.Creator != "" {
			creator, herr := parseOptionalHash("creator", input.Creator)
			if herr != nil {
				return nil, herr
			}
			f.Creator = creator.String()
		}
		ts, key, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		f.CursorCreatedAt, f.CursorKey = ts, key
		items, err := e.ListActions(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		limit := f.Limit - 1
		resp := paginatedActions{Items: []ActionResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.Key.String())
			items = items[:limit]
		}
		for _, a := range items {
			resp.Items = append(resp.Items, actionResponse(a))
		}
		return &struct {
			Body paginatedActions `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/actions/{action_id}",
		Summary:     "Get action",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *actionPath) (*actionOutput, error) {
		a, err := e.GetAction(ctx, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &actionOutput{Body: actionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delegate-action",
		Method:      http.MethodPost,
		Path:        "/actions/{action_id}/delegate",
		Summary:     "Hand the action to the fast execution context",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ActionID uint64                `path:"action_id"`
		Body     DelegateActionRequest `json:"body" required:"false"`
	}) (*struct {
		Body DelegationResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.DelegateOptions{ActionID: input.ActionID, ActorID: principal.ActorID}
		if input.Body.ExpectedKey != nil {
			key, herr := parseOptionalHash("expected_key", *input.Body.ExpectedKey)
			if herr != nil {
				return nil, herr
			}
			opts.ExpectedKey = &key
		}
		if input.Body.Validator != nil {
			validator, herr := parseOptionalHash("validator", *input.Body.Validator)
			if herr != nil {
				return nil, herr
			}
			opts.Validator = &validator
		}
		d, err := e.DelegateAction(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DelegationResponse `json:"body"`
		}{Body: delegationResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-delegation",
		Method:      http.MethodGet,
		Path:        "/actions/{action_id}/delegation",
		Summary:     "Current delegation of the action",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *actionPath) (*struct {
		Body DelegationResponse `json:"body"`
	}, error) {
		d, err := e.Delegation(ctx, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DelegationResponse `json:"body"`
		}{Body: delegationResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-action",
		Method:      http.MethodPost,
		Path:        "/actions/{action_id}/finalize",
		Summary:     "Tally the action after its deadline",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *actionPath) (*actionOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.FinalizeAction(ctx, engine.FinalizeOptions{ActionID: input.ActionID, ActorID: principal.ActorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &actionOutput{Body: actionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-action",
		Method:      http.MethodPost,
		Path:        "/actions/{action_id}/cancel",
		Summary:     "Cancel an action (creator only)",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *actionPath) (*actionOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CancelAction(ctx, engine.CancelOptions{
			ActionID: input.ActionID,
			Caller:   principal.Identity(),
			ActorID:  principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &actionOutput{Body: actionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "audit-action",
		Method:      http.MethodGet,
		Path:        "/actions/{action_id}/audit",
		Summary:     "Recount votes and compare with the committed record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *actionPath) (*struct {
		Body engine.AuditReport `json:"body"`
	}, error) {
		rep, err := e.Audit(ctx, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AuditReport `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-commit",
		Method:      http.MethodGet,
		Path:        "/actions/{action_id}/commit",
		Summary:     "Record committed at finalize",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *actionPath) (*struct {
		Body CommitResponse `json:"body"`
	}, error) {
		a, ts, err := e.CommittedRecord(ctx, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommitResponse `json:"body"`
		}{Body: CommitResponse{
			Action:      actionResponse(a),
			CommittedAt: ts,
			RecordHex:   hex.EncodeToString(domain.EncodeAction(a)),
		}}, nil
	})
}

func registerVotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "cast-vote",
		Method:        http.MethodPost,
		Path:          "/actions/{action_id}/votes",
		Summary:       "Cast the caller's vote",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ActionID uint64          `path:"action_id"`
		Body     CastVoteRequest `json:"body"`
	}) (*struct {
		Body CastVoteResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		commitment, herr := parseOptionalHash("voter_commitment", input.Body.VoterCommitment)
		if herr != nil {
			return nil, herr
		}
		v, a, err := e.CastVote(ctx, engine.VoteCastOptions{
			ActionID:   input.ActionID,
			Voter:      principal.Identity(),
			Value:      input.Body.VoteValue,
			Commitment: commitment,
			ActorID:    principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CastVoteResponse `json:"body"`
		}{Body: CastVoteResponse{Vote: voteResponse(v), Action: actionResponse(a)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-votes",
		Method:      http.MethodGet,
		Path:        "/actions/{action_id}/votes",
		Summary:     "List votes cast on the action",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActionID uint64 `path:"action_id"`
		Value    string `query:"value" enum:"for,against"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedVotes `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		f := repo.VoteFilters{Limit: limit + 1, CursorKey: input.Cursor}
		if input.Value != "" {
			value := input.Value == "for"
			f.Value = &value
		}
		items, err := e.ListVotes(ctx, input.ActionID, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedVotes{Items: []VoteResponse{}}
		if len(items) > limit {
			resp.NextCursor = items[limit-1].Key.String()
			items = items[:limit]
		}
		for _, v := range items {
			resp.Items = append(resp.Items, voteResponse(v))
		}
		return &struct {
			Body paginatedVotes `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-vote",
		Method:      http.MethodGet,
		Path:        "/actions/{action_id}/votes/{voter}",
		Summary:     "Get one voter's vote",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActionID uint64 `path:"action_id"`
		Voter    string `path:"voter" doc:"Voter identity (hex)"`
	}) (*struct {
		Body VoteResponse `json:"body"`
	}, error) {
		voter, herr := parseOptionalHash("voter", input.Voter)
		if herr != nil {
			return nil, herr
		}
		v, err := e.GetVote(ctx, input.ActionID, voter)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VoteResponse `json:"body"`
		}{Body: voteResponse(v)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type" enum:"action.created,vote.cast,action.executed,action.cancelled"`
		EntityID string `query:"entity_id" doc:"Action id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, repo.EventFilters{Type: input.Type, EntityID: input.EntityID})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:  principal.ActorID,
			Identity: principal.Identity().String(),
			Source:   principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

// parseOptionalHash decodes a hex field. Empty input yields the zero hash so
// the voting core can reject it with its own error code.
func parseOptionalHash(field, value string) (domain.Hash, huma.StatusError) {
	if strings.TrimSpace(value) == "" {
		return domain.Hash{}, nil
	}
	h, err := domain.ParseHash(value)
	if err != nil {
		return h, newAPIError(http.StatusBadRequest, "bad_request", field+" must be 32 bytes of hex", map[string]any{"field": field, "reason": err.Error()})
	}
	return h, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
