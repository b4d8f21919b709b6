package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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
	"go.uber.org/zap"

	"printflow/internal/domain"
	"printflow/internal/engine"
	"printflow/internal/engine/auth"
	"printflow/internal/logging"
	"printflow/internal/report"
	"printflow/internal/repo"
	"printflow/internal/storage"
	"printflow/internal/workflow"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"wrong_status"`
	Message string         `json:"message" example:"VALIDATE(DESIGN) refused (wrong_status): order is CREATED"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the {"error":{code,message,details}} envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the printflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := logging.OrNop(cfg.Log)
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, len(errs))
			for i, err := range errs {
				msgs[i] = err.Error()
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo, log))
	hcfg := huma.DefaultConfig("Printflow API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerOrders(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if gv, ok := workflow.AsGuardViolation(err); ok {
		status := http.StatusConflict
		if gv.Forbidden() {
			status = http.StatusForbidden
		}
		return newAPIError(status, string(gv.Reason), gv.Error(), map[string]any{"action": gv.Action.String()})
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		roles := make([]string, len(fe.Roles))
		for i, r := range fe.Roles {
			roles[i] = string(r)
		}
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"roles": roles})
	}
	var unknown auth.UnknownUserError
	if errors.As(err, &unknown) {
		return newAPIError(http.StatusUnauthorized, "unknown_user", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConcurrentModification) {
		return newAPIError(http.StatusConflict, "concurrent_modification", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidRef) {
		return newAPIError(http.StatusNotFound, "file_unavailable", err.Error(), nil)
	}
	var ie *engine.InputError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ie.Field})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireRoles returns the caller's id once they hold one of roles.
func requireRoles(ctx context.Context, e engine.Engine, roles ...domain.Role) (int64, error) {
	uid, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return 0, authErr
	}
	if _, err := e.Auth.Require(ctx, nil, uid, roles...); err != nil {
		return 0, handleError(err)
	}
	return uid, nil
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
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
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
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	security := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = security
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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
    <title>Printflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user with roles",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Me(ctx, uid)
		if err != nil {
			return nil, handleError(err)
		}
		pending, err := e.PendingTasks(ctx, uid)
		if err != nil {
			return nil, handleError(err)
		}
		p, _ := principalFromContext(ctx)
		u.Roles = nonNilSlice(u.Roles)
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{User: u, Source: p.Source, PendingTasks: len(pending)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-pending-tasks",
		Method:      http.MethodGet,
		Path:        "/me/tasks/pending",
		Summary:     "Tasks assigned to me that are ASSIGNED or REJECTED",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []engine.PendingTask `json:"items"`
		} `json:"body"`
	}, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.PendingTasks(ctx, uid)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []engine.PendingTask `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = items
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Issue an API key (ADMIN may issue for another user)",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plain, key, err := e.CreateAPIKey(ctx, uid, input.Body.UserID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: key.ID, UserID: key.UserID, Name: key.Name, Key: plain, CreatedAt: key.CreatedAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List API keys (ADMIN may list another user's)",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID int64 `query:"user_id"`
	}) (*struct {
		Body struct {
			Items []APIKeyResponse `json:"items"`
		} `json:"body"`
	}, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, uid, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []APIKeyResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out.Body.Items = append(out.Body.Items, apiKeyResponse(k))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/me/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, uid, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

type orderPath struct {
	ID int64 `path:"id"`
}

type orderOutput struct {
	Body OrderResponse `json:"body"`
}

// withActions decorates a view with what the caller may do next.
func withActions(ctx context.Context, e engine.Engine, uid int64, v engine.OrderView) (*orderOutput, error) {
	actor, err := e.Auth.Actor(ctx, nil, uid)
	if err != nil {
		return nil, handleError(err)
	}
	actions := workflow.ListAvailableActions(v.Order, v.Tasks, actor)
	return &orderOutput{Body: orderResponse(v, actions)}, nil
}

func registerOrders(api huma.API, e engine.Engine) {
	orderErrors := []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict}

	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/orders",
		Summary:       "Create order (COMMERCIAL or ADMIN)",
		DefaultStatus: http.StatusCreated,
		Errors:        orderErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateOrderRequest `json:"body"`
	}) (*orderOutput, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.CreateOrder(ctx, engine.CreateOrderOptions{
			ActorID:      uid,
			CustomerName: input.Body.CustomerName,
			Zone:         input.Body.Zone,
			PropertyName: input.Body.PropertyName,
			Notes:        input.Body.Notes,
			Items:        input.Body.Items,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return withActions(ctx, e, uid, v)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List orders, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"stored or observed status"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedOrders `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		views, err := e.ListOrders(ctx, repo.OrderFilters{Status: strings.ToUpper(input.Status), Limit: limit + 1, Cursor: cursor})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedOrders{Items: []OrderResponse{}}
		if len(views) > limit {
			views = views[:limit]
			resp.NextCursor = strconv.FormatInt(views[limit-1].ID, 10)
		}
		for _, v := range views {
			resp.Items = append(resp.Items, orderResponse(v, nil))
		}
		return &struct {
			Body paginatedOrders `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{id}",
		Summary:     "Get order with tasks and available actions",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *orderPath) (*orderOutput, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.GetOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return withActions(ctx, e, uid, v)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-order-actions",
		Method:      http.MethodGet,
		Path:        "/orders/{id}/actions",
		Summary:     "Actions the caller may take on the order now",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *orderPath) (*struct {
		Body struct {
			Items []ActionResponse `json:"items"`
		} `json:"body"`
	}, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actions, err := e.AvailableActions(ctx, input.ID, uid)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []ActionResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = []ActionResponse{}
		for _, a := range actions {
			out.Body.Items = append(out.Body.Items, actionResponse(a))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-order",
		Method:      http.MethodPost,
		Path:        "/orders/{id}/transitions",
		Summary:     "Apply a workflow action",
		Errors:      orderErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*orderOutput, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		action, err := input.Body.action()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "action"})
		}
		v, err := e.Transition(ctx, engine.TransitionOptions{
			OrderID:         input.ID,
			ActorID:         uid,
			Action:          action,
			AssigneeID:      input.Body.AssigneeID,
			FileRef:         input.Body.FileRef,
			Comment:         input.Body.Comment,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return withActions(ctx, e, uid, v)
	})

	huma.Register(api, huma.Operation{
		OperationID: "upload-design",
		Method:      http.MethodPost,
		Path:        "/orders/{id}/design",
		Summary:     "Upload the design file and complete the DESIGN task",
		Errors:      orderErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body UploadDesignRequest `json:"body"`
	}) (*orderOutput, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.UploadDesign(ctx, engine.UploadOptions{OrderID: input.ID, ActorID: uid, Filename: input.Body.Filename, Content: input.Body.Content})
		if err != nil {
			return nil, handleError(err)
		}
		return withActions(ctx, e, uid, v)
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-design",
		Method:      http.MethodGet,
		Path:        "/orders/{id}/design",
		Summary:     "Download the latest uploaded design file",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *orderPath) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		v, err := e.GetOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		for _, t := range v.Tasks {
			if t.Type != domain.TaskDesign || t.UploadedFile == nil {
				continue
			}
			data, err := e.Blobs.Get(ctx, *t.UploadedFile)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				ContentType string `header:"Content-Type"`
				Body        []byte
			}{ContentType: http.DetectContentType(data), Body: data}, nil
		}
		return nil, newAPIError(http.StatusNotFound, "not_found", "no design uploaded", nil)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-order-reviews",
		Method:      http.MethodGet,
		Path:        "/orders/{id}/reviews",
		Summary:     "Validation and rejection history",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *orderPath) (*struct {
		Body struct {
			Items []domain.Review `json:"items"`
		} `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		reviews, err := e.Reviews(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Review `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = reviews
		return out, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events (ADMIN)",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrderID int64  `query:"order_id"`
		Type    string `query:"type"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := requireRoles(ctx, e, domain.RoleAdmin); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{OrderID: input.OrderID, Type: input.Type, Limit: limit + 1, Before: before})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status-breakdown",
		Method:      http.MethodGet,
		Path:        "/reports/breakdown",
		Summary:     "Order counts per observed status (ADMIN or COMMERCIAL)",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BreakdownResponse `json:"body"`
	}, error) {
		if _, err := requireRoles(ctx, e, domain.RoleAdmin, domain.RoleCommercial); err != nil {
			return nil, err
		}
		b, err := report.Summarize(ctx, e.Repo, nowOf(e))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BreakdownResponse `json:"body"`
		}{Body: breakdownResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-breakdown",
		Method:      http.MethodGet,
		Path:        "/reports/export",
		Summary:     "Breakdown and order list as an XLSX workbook",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		if _, err := requireRoles(ctx, e, domain.RoleAdmin, domain.RoleCommercial); err != nil {
			return nil, err
		}
		now := nowOf(e)
		b, err := report.Build(ctx, e.Repo, now)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := report.WriteXLSX(&buf, b); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        xlsxContentType,
			ContentDisposition: fmt.Sprintf(`attachment; filename="printflow-%s.xlsx"`, now.Format("20060102")),
			Body:               buf.Bytes(),
		}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user (ADMIN)",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.CreateUser(ctx, engine.CreateUserOptions{ActorID: uid, Name: input.Body.Name, Email: input.Body.Email, Roles: input.Body.Roles})
		if err != nil {
			return nil, handleError(err)
		}
		u.Roles = nonNilSlice(u.Roles)
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users, optionally by role (ADMIN)",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*struct {
		Body struct {
			Items []domain.User `json:"items"`
		} `json:"body"`
	}, error) {
		if _, err := requireRoles(ctx, e, domain.RoleAdmin); err != nil {
			return nil, err
		}
		var role domain.Role
		if input.Role != "" {
			r, err := domain.ParseRole(input.Role)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "role"})
			}
			role = r
		}
		users, err := e.Repo.ListUsers(ctx, role)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.User `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNilSlice(users)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-role",
		Method:      http.MethodPost,
		Path:        "/users/{id}/roles",
		Summary:     "Grant or revoke a role (ADMIN)",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64          `path:"id"`
		Body SetRoleRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		uid, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		grant := input.Body.Grant == nil || *input.Body.Grant
		u, err := e.SetRole(ctx, uid, input.ID, input.Body.Role, grant)
		if err != nil {
			return nil, handleError(err)
		}
		u.Roles = nonNilSlice(u.Roles)
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an existing user",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if input.Body.UserID <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		if _, err := e.Me(ctx, input.Body.UserID); err != nil {
			return nil, handleError(err)
		}
		ttl := time.Hour
		if input.Body.TTLSeconds > 0 {
			ttl = time.Duration(input.Body.TTLSeconds) * time.Second
		}
		token, exp, err := signToken(authCfg.JWTSecret, input.Body.UserID, authCfg.now(), ttl)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, ExpiresAt: exp.UTC().Format(time.RFC3339)}}, nil
	})
}

func nowOf(e engine.Engine) time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
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
