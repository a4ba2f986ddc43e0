package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"pledgeline/internal/engine"
	"pledgeline/internal/engine/fault"
	"pledgeline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"a pending delete request already exists for this promise"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Pledgeline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(withRemoteAddr)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Pledgeline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPromises(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerModeration(group, cfg.Engine)
	registerAdminListings(group, cfg.Engine)
	registerStats(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var ve fault.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	var ae fault.AuthorizationError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var ise fault.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"status": ise.Status})
	}
	var ce fault.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ue fault.UpstreamError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusBadGateway, "upstream_error", "storage backend error", map[string]any{"op": ue.Op})
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
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
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
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Pledgeline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
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

func registerPromises(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-promise",
		Method:        http.MethodPost,
		Path:          "/promises",
		Summary:       "Publish a promise",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePromiseRequest `json:"body"`
	}) (*struct {
		Body PromiseResponse `json:"body"`
	}, error) {
		address, authErr := addressFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePromise(ctx, engine.PromiseCreateOptions{
			Address:    address,
			Message:    input.Body.Message,
			Category:   input.Body.Category,
			Difficulty: input.Body.Difficulty,
			Deadline:   input.Body.Deadline,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromiseResponse `json:"body"`
		}{Body: promiseResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-promises",
		Method:      http.MethodGet,
		Path:        "/promises",
		Summary:     "List promises",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Address  string `query:"address"`
		Status   string `query:"status"`
		Category string `query:"category"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedPromises `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListPromises(ctx, repo.PromiseFilters{
			Address:         input.Address,
			Status:          input.Status,
			Category:        input.Category,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedPromises{Items: []PromiseResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapPromises(items)
		return &struct {
			Body paginatedPromises `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-promise",
		Method:      http.MethodGet,
		Path:        "/promises/{id}",
		Summary:     "Get promise",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body PromiseResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPromise(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromiseResponse `json:"body"`
		}{Body: promiseResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-promise",
		Method:      http.MethodPatch,
		Path:        "/promises/{id}",
		Summary:     "Edit an active promise",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdatePromiseRequest `json:"body"`
	}) (*struct {
		Body PromiseResponse `json:"body"`
	}, error) {
		address, authErr := addressFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateDetails(ctx, input.ID, address, engine.PromiseUpdateOptions{
			Message:    input.Body.Message,
			Category:   input.Body.Category,
			Difficulty: input.Body.Difficulty,
			Deadline:   input.Body.Deadline,
			Proof:      input.Body.Proof,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromiseResponse `json:"body"`
		}{Body: promiseResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-promise",
		Method:      http.MethodPost,
		Path:        "/promises/{id}/resolve",
		Summary:     "Resolve a promise to completed or failed",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body ResolvePromiseRequest `json:"body"`
	}) (*struct {
		Body PromiseResponse `json:"body"`
	}, error) {
		address, authErr := addressFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.TransitionStatus(ctx, input.ID, address, input.Body.Status, input.Body.Proof)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromiseResponse `json:"body"`
		}{Body: promiseResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "request-promise-delete",
		Method:        http.MethodPost,
		Path:          "/promises/{id}/delete-request",
		Summary:       "Request deletion of an owned promise",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DeleteRequestResponse `json:"body"`
	}, error) {
		address, authErr := addressFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		dr, err := e.RequestDelete(ctx, input.ID, address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteRequestResponse `json:"body"`
		}{Body: deleteRequestResponse(dr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-promise-progress",
		Method:      http.MethodPut,
		Path:        "/promises/{id}/progress",
		Summary:     "Set admin-adjusted progress",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body SetProgressRequest `json:"body"`
	}) (*struct {
		Body PromiseResponse `json:"body"`
	}, error) {
		address, authErr := addressFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AdminSetProgress(ctx, input.ID, address, input.Body.Progress)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromiseResponse `json:"body"`
		}{Body: promiseResponse(p)}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-user-stats",
		Method:      http.MethodGet,
		Path:        "/users/{address}",
		Summary:     "Get user reputation profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		u, err := e.GetUserStats(ctx, input.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Get the caller's reputation profile",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		address, authErr := addressFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.GetUserStats(ctx, address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerModeration(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-delete-requests",
		Method:      http.MethodGet,
		Path:        "/admin/delete-requests",
		Summary:     "List pending delete requests",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []DeleteRequestResponse `json:"body"`
	}, error) {
		address, authErr := addressFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListPendingDeleteRequests(ctx, address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DeleteRequestResponse `json:"body"`
		}{Body: mapDeleteRequests(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-delete-request",
		Method:      http.MethodPost,
		Path:        "/admin/delete-requests/{id}/approve",
		Summary:     "Approve a delete request",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DeleteRequestResponse `json:"body"`
	}, error) {
		address, authErr := addressFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		dr, err := e.ApproveDelete(ctx, input.ID, address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteRequestResponse `json:"body"`
		}{Body: deleteRequestResponse(dr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-delete-request",
		Method:      http.MethodPost,
		Path:        "/admin/delete-requests/{id}/reject",
		Summary:     "Reject a delete request",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DeleteRequestResponse `json:"body"`
	}, error) {
		address, authErr := addressFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		dr, err := e.RejectDelete(ctx, input.ID, address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteRequestResponse `json:"body"`
		}{Body: deleteRequestResponse(dr)}, nil
	})
}

func registerAdminListings(api huma.API, e engine.Engine) {
	requireAdmin := func(ctx context.Context) (string, huma.StatusError) {
		address, authErr := addressFromContext(ctx)
		if authErr != nil {
			return "", authErr
		}
		if e.Config == nil || !e.Config.IsAdmin(address) {
			return "", newAPIError(http.StatusForbidden, "forbidden", "admin credential required", nil)
		}
		return address, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "admin-list-users",
		Method:      http.MethodGet,
		Path:        "/admin/users",
		Summary:     "List all users",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapUsers(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-list-sessions",
		Method:      http.MethodGet,
		Path:        "/admin/sessions",
		Summary:     "List visitor sessions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListSessions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]SessionResponse, 0, len(items))
		for _, s := range items {
			res = append(res, sessionResponse(s))
		}
		return &struct {
			Body []SessionResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "global-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Registry-wide statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GlobalStatsResponse `json:"body"`
	}, error) {
		gs, err := e.GlobalStats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GlobalStatsResponse `json:"body"`
		}{Body: statsResponse(gs)}, nil
	})
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Record a visitor session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body RecordSessionRequest `json:"body"`
	}) (*struct{}, error) {
		if strings.TrimSpace(input.Body.SessionID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "session_id is required", nil)
		}
		ip := remoteIP(ctx)
		if err := e.RecordSession(ctx, input.Body.SessionID, ip); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest audit events",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		address, authErr := addressFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if e.Config == nil || !e.Config.IsAdmin(address) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin credential required", nil)
		}
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func composeCursor(createdAt, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(createdAt + "|" + id))
}

func parseCompositeCursor(cursor string) (createdAt, id string, err error) {
	if cursor == "" {
		return "", "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed cursor")
	}
	return parts[0], parts[1], nil
}

func remoteIP(ctx context.Context) string {
	if v, ok := ctx.Value(remoteAddrKey{}).(string); ok {
		return v
	}
	return ""
}

type remoteAddrKey struct{}

// withRemoteAddr stores the client IP for session recording.
func withRemoteAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			host = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
		ctx := context.WithValue(r.Context(), remoteAddrKey{}, host)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
