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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/engine/auth"
	"planline/internal/graph"
	"planline/internal/plan"
	"planline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

// compromiseAlertThreshold is the simulated compromise probability (0..1)
// above which the status endpoint flags the latest plan.
const compromiseAlertThreshold = 0.35

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden_confirmation_kind"`
	Message string         `json:"message" example:"actor cannot confirm this kind"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"kind\":\"cargo.sealed\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Planline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
	hcfg := huma.DefaultConfig("Planline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerOperations(group, cfg.Engine)
	registerResources(group, cfg.Engine)
	registerStages(group, cfg.Engine)
	registerActivities(group, cfg.Engine)
	registerPlans(group, cfg.Engine)
	registerSimulations(group, cfg.Engine)
	registerDecisions(group, cfg.Engine)
	registerConfirmations(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerCrew(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ce auth.ForbiddenConfirmationError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusForbidden, "forbidden_confirmation_kind", err.Error(), map[string]any{"kind": ce.Kind})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, graph.ErrInvalidActivityConfiguration) || errors.Is(err, plan.ErrInvalidPlanBinding) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "lease") && (strings.Contains(lowered, "held") || strings.Contains(lowered, "owned")):
		return newAPIError(http.StatusConflict, "lease_conflict", msg, nil)
	case strings.Contains(lowered, "lease required"), strings.Contains(lowered, "lease expired"):
		return newAPIError(http.StatusConflict, "lease_conflict", msg, nil)
	case strings.Contains(lowered, "not completed"),
		strings.Contains(lowered, "is impounded"),
		strings.Contains(lowered, "no activities"),
		strings.Contains(lowered, "confirmation") && strings.Contains(lowered, "missing"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "missing"),
		strings.Contains(lowered, "required"),
		strings.Contains(lowered, "unknown strategy"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

func requirePermission(ctx context.Context, e engine.Engine, operationID, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, operationID, principal.ActorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

func requireGlobalPermission(ctx context.Context, e engine.Engine, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	if e.Config == nil {
		return auth.ForbiddenError{Permission: perm}
	}
	return requirePermission(ctx, e, e.Config.Operation.ID, perm)
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
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
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
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
			if route == devLoginPath {
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
    <title>Planline API Docs</title>
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

func registerStatus(api huma.API, e engine.Engine) {
	type operationPath struct {
		OperationID string `path:"operation_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/status",
		Summary:     "Operation status",
	}, func(ctx context.Context, input *operationPath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		op, err := e.Repo.GetOperation(ctx, operationID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountActivitiesByStatus(ctx, op.ID)
		if err != nil {
			return nil, handleError(err)
		}
		stage, err := e.Repo.ActiveStage(ctx, op.ID)
		if err != nil {
			return nil, handleError(err)
		}
		body := map[string]any{
			"operation_id":    op.ID,
			"status":          op.Status,
			"stage":           stage,
			"activity_counts": counts,
		}
		if p, err := e.Repo.LatestPlan(ctx, op.ID); err == nil {
			body["latest_plan"] = planResponse(p)
			if atRisk, err := e.Repo.HasCompromisedSimulation(ctx, op.ID, p.ID, compromiseAlertThreshold); err == nil {
				body["plan_at_risk"] = atRisk
			}
		}
		if s, err := e.Repo.LatestSimulation(ctx, op.ID); err == nil {
			body["latest_simulation"] = map[string]any{
				"id":                     s.ID,
				"plan_id":                s.PlanID,
				"runs":                   s.Runs,
				"compromise_probability": s.CompromisePct,
				"p50_seconds":            s.P50Seconds,
				"p90_seconds":            s.P90Seconds,
			}
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})
}

func registerOperations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-operation",
		Method:        http.MethodPost,
		Path:          "/operations",
		Summary:       "Create operation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOperationRequest `json:"body"`
	}) (*struct {
		Body OperationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "operation.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		op, err := e.InitOperation(ctx, input.Body.ID, stringOrEmpty(input.Body.Description), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OperationResponse `json:"body"`
		}{Body: operationResponse(op)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-operations",
		Method:      http.MethodGet,
		Path:        "/operations",
		Summary:     "List operations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []OperationResponse `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "log.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListOperations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []OperationResponse `json:"body"`
		}{Body: mapOperations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-operation",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}",
		Summary:     "Get operation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
	}) (*struct {
		Body OperationResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		op, err := e.Repo.GetOperation(ctx, operationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OperationResponse `json:"body"`
		}{Body: operationResponse(op)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-operation",
		Method:      http.MethodPatch,
		Path:        "/operations/{operation_id}",
		Summary:     "Update operation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		Body        struct {
			Status      string  `json:"status,omitempty" enum:"active,completed,aborted"`
			Description *string `json:"description,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body OperationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "operation.write"); err != nil {
			return nil, handleError(err)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.UpdateOperation(ctx, operationID, input.Body.Status, input.Body.Description); err != nil {
			return nil, handleError(err)
		}
		op, err := e.Repo.GetOperation(ctx, operationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OperationResponse `json:"body"`
		}{Body: operationResponse(op)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-operation",
		Method:      http.MethodDelete,
		Path:        "/operations/{operation_id}",
		Summary:     "Delete operation",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
	}) (*struct{}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "operation.write"); err != nil {
			return nil, handleError(err)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteOperation(ctx, operationID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-operation-config",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/config",
		Summary:     "Get operation config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
	}) (*struct {
		Body OperationConfigResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetOperationConfig(ctx, operationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OperationConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerResources(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-resource",
		Method:        http.MethodPost,
		Path:          "/operations/{operation_id}/resources",
		Summary:       "Create resource",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string                `path:"operation_id"`
		Body        CreateResourceRequest `json:"body"`
	}) (*struct {
		Body ResourceResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CreateResource(ctx, engine.ResourceCreateOptions{
			ID:          strPtrValue(input.Body.ID),
			OperationID: operationID,
			Name:        input.Body.Name,
			Kind:        input.Body.Kind,
			OutfitID:    strPtrValue(input.Body.OutfitID),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResourceResponse `json:"body"`
		}{Body: resourceResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-resources",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/resources",
		Summary:     "List resources",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
	}) (*struct {
		Body []ResourceResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListResources(ctx, operationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ResourceResponse `json:"body"`
		}{Body: mapResources(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-resource",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/resources/{id}",
		Summary:     "Get resource",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
	}) (*struct {
		Body ResourceResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		res, err := e.Repo.GetResource(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, res.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "resource not found in operation", nil)
		}
		return &struct {
			Body ResourceResponse `json:"body"`
		}{Body: resourceResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "impound-resource",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/resources/{id}/impound",
		Summary:     "Mark resource impounded",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
	}) (*struct {
		Body ResourceResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.execute"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Repo.GetResource(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, res.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "resource not found in operation", nil)
		}
		res, err = e.ImpoundResource(ctx, res.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResourceResponse `json:"body"`
		}{Body: resourceResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-resource",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/resources/{id}/release",
		Summary:     "Release impounded resource",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
	}) (*struct {
		Body ResourceResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.execute"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Repo.GetResource(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, res.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "resource not found in operation", nil)
		}
		res, err = e.ReleaseResource(ctx, res.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResourceResponse `json:"body"`
		}{Body: resourceResponse(res)}, nil
	})
}

func registerStages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-stage",
		Method:        http.MethodPost,
		Path:          "/operations/{operation_id}/stages",
		Summary:       "Create stage",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string             `path:"operation_id"`
		Body        CreateStageRequest `json:"body"`
	}) (*struct {
		Body StageResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" || input.Body.Objective == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id and objective are required", nil)
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.CreateStage(ctx, domain.Stage{
			ID:          input.Body.ID,
			OperationID: operationID,
			Objective:   input.Body.Objective,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StageResponse `json:"body"`
		}{Body: stageResponse(st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/stages",
		Summary:     "List stages",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedStages `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListStagesWithCursor(ctx, operationID, limit+1, cursorCreated, cursorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedStages{Items: []StageResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = composeCursor(items[limit-1].CreatedAt, items[limit-1].ID)
		}
		for _, st := range items {
			resp.Items = append(resp.Items, stageResponse(st))
		}
		return &struct {
			Body paginatedStages `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-stage",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/stages/{id}",
		Summary:     "Get stage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
	}) (*struct {
		Body StageResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		st, err := e.Repo.GetStage(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, st.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "stage not found in operation", nil)
		}
		return &struct {
			Body StageResponse `json:"body"`
		}{Body: stageResponse(st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-stage-status",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/stages/{id}/status",
		Summary:     "Set stage status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string                `path:"operation_id"`
		ID          string                `path:"id"`
		Body        SetStageStatusRequest `json:"body"`
		Force       bool                  `query:"force"`
	}) (*struct {
		Body StageResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.Repo.GetStage(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, st.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "stage not found in operation", nil)
		}
		st, err = e.SetStageStatus(ctx, st.ID, input.Body.Status, actorID, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StageResponse `json:"body"`
		}{Body: stageResponse(st)}, nil
	})
}

func registerActivities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-activity",
		Method:        http.MethodPost,
		Path:          "/operations/{operation_id}/activities",
		Summary:       "Create activity",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string                `path:"operation_id"`
		Body        CreateActivityRequest `json:"body"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		bodyMap := rawBodyMap(ctx)
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if input.Body.Resource == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "resource is required", nil)
		}
		if isNullRaw(bodyMap["depends_on"]) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "depends_on must be array", map[string]any{"field": "depends_on", "reason": "must be array"})
		}
		if isNullRaw(bodyMap["required_confirmations"]) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "required_confirmations must be array", map[string]any{"field": "required_confirmations", "reason": "must be array"})
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ActivityCreateOptions{
			OperationID:            operationID,
			Name:                   input.Body.Name,
			DurationSeconds:        input.Body.DurationSeconds,
			Resource:               input.Body.Resource,
			RiskOfImpounding:       input.Body.RiskOfImpounding,
			RiskOfExtendedDuration: input.Body.RiskOfExtendedDuration,
			Revealing:              input.Body.Revealing,
			RequiredConfirmations:  input.Body.RequiredConfirmations,
			DependsOn:              input.Body.DependsOn,
			ActorID:                actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.StageID != nil {
			opts.StageID = *input.Body.StageID
		}
		a, err := e.CreateActivity(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/activities",
		Summary:     "List activities",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		Status      string `query:"status" enum:",planned,underway,completed,impounded,aborted"`
		StageID     string `query:"stage_id"`
		ResourceID  string `query:"resource_id"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedActivities `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.ActivityFilters{
			OperationID:     operationID,
			Status:          input.Status,
			Stage:           input.StageID,
			ResourceID:      input.ResourceID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		items, err := e.Repo.ListActivities(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedActivities{Items: []ActivityResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = composeCursor(items[limit-1].CreatedAt, items[limit-1].ID)
		}
		resp.Items = mapActivities(items)
		return &struct {
			Body paginatedActivities `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "next-activity",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/activities/next",
		Summary:     "Next ready activity",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		StageID     string `query:"stage_id"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		a, err := e.NextActivity(ctx, operationID, input.StageID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activity-order",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/activities/order",
		Summary:     "Activities in dependency order",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
	}) (*struct {
		Body []ActivityResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Order(ctx, operationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActivityResponse `json:"body"`
		}{Body: mapActivities(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-activity",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/activities/{id}",
		Summary:     "Get activity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetActivity(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, a.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "activity not found in operation", nil)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-activity",
		Method:      http.MethodPatch,
		Path:        "/operations/{operation_id}/activities/{id}",
		Summary:     "Update activity",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string                `path:"operation_id"`
		ID          string                `path:"id"`
		Body        UpdateActivityRequest `json:"body"`
		Force       bool                  `query:"force"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		bodyMap := rawBodyMap(ctx)
		if isNullRaw(bodyMap["add_depends_on"]) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "add_depends_on must be array", map[string]any{"field": "add_depends_on", "reason": "must be array"})
		}
		if isNullRaw(bodyMap["remove_depends_on"]) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "remove_depends_on must be array", map[string]any{"field": "remove_depends_on", "reason": "must be array"})
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ActivityUpdateOptions{
			ID:         input.ID,
			ActorID:    actorID,
			Force:      input.Force,
			AddDeps:    input.Body.AddDependsOn,
			RemoveDeps: input.Body.RemoveDependsOn,
		}
		if input.Body.Status != nil {
			opts.Status = *input.Body.Status
		}
		if raw, ok := bodyMap["stage_id"]; ok {
			if isNullRaw(raw) {
				opts.SetStage = strPtr("")
			} else {
				opts.SetStage = input.Body.StageID
			}
		}
		opts.DurationSeconds = input.Body.DurationSeconds
		opts.RiskOfImpounding = input.Body.RiskOfImpounding
		opts.RiskOfExtendedDuration = input.Body.RiskOfExtendedDuration
		opts.Revealing = input.Body.Revealing
		if _, ok := bodyMap["required_confirmations"]; ok {
			opts.SetConfirmations = true
			opts.RequiredConfirmations = input.Body.RequiredConfirmations
		}
		a, err := e.UpdateActivity(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, a.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "activity not found in operation", nil)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-activity",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/activities/{id}/start",
		Summary:     "Start activity",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
		Force       bool   `query:"force"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.execute"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetActivity(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, a.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "activity not found in operation", nil)
		}
		a, err = e.StartActivity(ctx, a.ID, actorID, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-activity",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/activities/{id}/complete",
		Summary:     "Complete activity",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
		Force       bool   `query:"force"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.execute"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetActivity(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, a.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "activity not found in operation", nil)
		}
		a, err = e.CompleteActivity(ctx, a.ID, actorID, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "impound-activity",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/activities/{id}/impound",
		Summary:     "Mark activity impounded",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
		Force       bool   `query:"force"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.execute"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetActivity(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, a.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "activity not found in operation", nil)
		}
		a, err = e.ImpoundActivity(ctx, a.ID, actorID, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: activityResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-activity",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/activities/{id}/claim",
		Summary:     "Claim activity lease",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID  string `path:"operation_id"`
		ID           string `path:"id"`
		LeaseSeconds int    `query:"lease_seconds"`
	}) (*struct {
		Body LeaseResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.execute"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetActivity(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, a.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "activity not found in operation", nil)
		}
		lease, err := e.ClaimActivity(ctx, a.ID, actorID, input.LeaseSeconds)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LeaseResponse `json:"body"`
		}{Body: leaseResponse(lease)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-activity",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/activities/{id}/release",
		Summary:     "Release activity lease",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
	}) (*struct{}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "activity.execute"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetActivity(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, a.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "activity not found in operation", nil)
		}
		if err := e.ReleaseActivity(ctx, a.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "build-plan",
		Method:        http.MethodPost,
		Path:          "/operations/{operation_id}/plans",
		Summary:       "Build plan",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string           `path:"operation_id"`
		Body        BuildPlanRequest `json:"body"`
	}) (*struct {
		Body PlanDetailResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "plan.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, entries, err := e.BuildPlan(ctx, engine.PlanBuildOptions{
			OperationID:       operationID,
			Strategy:          stringOrEmpty(input.Body.Strategy),
			RiskPolicy:        stringOrEmpty(input.Body.RiskPolicy),
			AnchorAt:          stringOrEmpty(input.Body.AnchorAt),
			StrategyOverrides: input.Body.StrategyOverrides,
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanDetailResponse `json:"body"`
		}{Body: PlanDetailResponse{
			Plan:       planResponse(p),
			Activities: mapPlannedActivities(entries),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/plans",
		Summary:     "List plans",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		Strategy    string `query:"strategy"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedPlans `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListPlans(ctx, repo.PlanFilters{
			OperationID:     operationID,
			Strategy:        input.Strategy,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedPlans{Items: []PlanResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = composeCursor(items[limit-1].CreatedAt, items[limit-1].ID)
		}
		for _, p := range items {
			resp.Items = append(resp.Items, planResponse(p))
		}
		return &struct {
			Body paginatedPlans `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/plans/{id}",
		Summary:     "Get plan with schedule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
	}) (*struct {
		Body PlanDetailResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetPlan(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, p.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "plan not found in operation", nil)
		}
		entries, err := e.Repo.ListPlanActivities(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanDetailResponse `json:"body"`
		}{Body: PlanDetailResponse{
			Plan:       planResponse(p),
			Activities: mapPlannedActivities(entries),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-plan",
		Method:      http.MethodDelete,
		Path:        "/operations/{operation_id}/plans/{id}",
		Summary:     "Delete plan",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
	}) (*struct{}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "plan.write"); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetPlan(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, p.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "plan not found in operation", nil)
		}
		if err := e.Repo.DeletePlan(ctx, p.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSimulations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "run-simulation",
		Method:        http.MethodPost,
		Path:          "/operations/{operation_id}/simulations",
		Summary:       "Run Monte Carlo simulation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string               `path:"operation_id"`
		Body        RunSimulationRequest `json:"body"`
	}) (*struct {
		Body SimulationResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "simulation.run"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.SimulationOptions{
			OperationID: operationID,
			PlanID:      stringOrEmpty(input.Body.PlanID),
			ActorID:     actorID,
		}
		if input.Body.Runs != nil {
			opts.Runs = *input.Body.Runs
		}
		if input.Body.Seed != nil {
			opts.Seed = *input.Body.Seed
		}
		run, err := e.RunSimulation(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SimulationResponse `json:"body"`
		}{Body: simulationResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-simulations",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/simulations",
		Summary:     "List simulations for a plan",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		PlanID      string `query:"plan_id"`
	}) (*struct {
		Body []SimulationResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		planID := input.PlanID
		if planID == "" {
			p, err := e.Repo.LatestPlan(ctx, operationID)
			if err != nil {
				return nil, handleError(err)
			}
			planID = p.ID
		}
		items, err := e.Repo.ListSimulationsByPlan(ctx, operationID, planID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]SimulationResponse, 0, len(items))
		for _, s := range items {
			res = append(res, simulationResponse(s))
		}
		return &struct {
			Body []SimulationResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-simulation",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/simulations/{id}",
		Summary:     "Get simulation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ID          string `path:"id"`
	}) (*struct {
		Body SimulationResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		run, err := e.Repo.GetSimulation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !operationMatches(input.OperationID, run.OperationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "simulation not found in operation", nil)
		}
		return &struct {
			Body SimulationResponse `json:"body"`
		}{Body: simulationResponse(run)}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-decision",
		Method:        http.MethodPost,
		Path:          "/operations/{operation_id}/decisions",
		Summary:       "Record decision",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string                `path:"operation_id"`
		Body        CreateDecisionRequest `json:"body"`
	}) (*struct {
		Body DecisionResponse `json:"body"`
	}, error) {
		bodyMap := rawBodyMap(ctx)
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" || input.Body.Choice == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title and choice are required", nil)
		}
		if isNullRaw(bodyMap["rationale"]) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "rationale must be array", map[string]any{"field": "rationale", "reason": "must be array"})
		}
		if isNullRaw(bodyMap["alternatives"]) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "alternatives must be array", map[string]any{"field": "alternatives", "reason": "must be array"})
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "decision.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d := domain.Decision{
			ID:          strPtrValue(input.Body.ID),
			OperationID: operationID,
			PlanID:      input.Body.PlanID,
			Title:       input.Body.Title,
			Choice:      input.Body.Choice,
			DeciderID:   strPtrValue(input.Body.DeciderID),
		}
		if len(input.Body.Rationale) > 0 {
			d.RationaleJSON = toJSONArray(input.Body.Rationale)
		}
		if len(input.Body.Alternatives) > 0 {
			d.AlternativesJSON = toJSONArray(input.Body.Alternatives)
		}
		res, err := e.RecordDecision(ctx, d, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecisionResponse `json:"body"`
		}{Body: decisionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/decisions",
		Summary:     "List decisions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		PlanID      string `query:"plan_id"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedDecisions `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListDecisions(ctx, repo.DecisionFilters{
			OperationID:     operationID,
			PlanID:          input.PlanID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedDecisions{Items: []DecisionResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = composeCursor(items[limit-1].CreatedAt, items[limit-1].ID)
		}
		for _, d := range items {
			resp.Items = append(resp.Items, decisionResponse(d))
		}
		return &struct {
			Body paginatedDecisions `json:"body"`
		}{Body: resp}, nil
	})
}

func registerConfirmations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-confirmation",
		Method:        http.MethodPost,
		Path:          "/operations/{operation_id}/activities/{id}/confirmations",
		Summary:       "Add confirmation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string                 `path:"operation_id"`
		ID          string                 `path:"id"`
		Body        AddConfirmationRequest `json:"body"`
	}) (*struct {
		Body ConfirmationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Kind == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "kind is required", nil)
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "confirm.write"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payload := ""
		if input.Body.Payload != nil {
			b, err := json.Marshal(input.Body.Payload)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid payload", map[string]any{"error": err.Error()})
			}
			payload = string(b)
		}
		c := domain.Confirmation{
			OperationID: operationID,
			ActivityID:  input.ID,
			Kind:        input.Body.Kind,
			PayloadJSON: payload,
		}
		res, err := e.AddConfirmation(ctx, c, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfirmationResponse `json:"body"`
		}{Body: confirmationResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-confirmations",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/confirmations",
		Summary:     "List confirmations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ActivityID  string `query:"activity_id"`
		Kind        string `query:"kind"`
		ActorID     string `query:"actor_id"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedConfirmations `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListConfirmations(ctx, repo.ConfirmationFilters{
			OperationID: operationID,
			ActivityID:  input.ActivityID,
			Kind:        input.Kind,
			ActorID:     input.ActorID,
			Limit:       limit + 1,
			CursorTS:    cursorTS,
			CursorID:    cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedConfirmations{Items: []ConfirmationResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = composeCursor(items[limit-1].TS, items[limit-1].ID)
		}
		for _, c := range items {
			resp.Items = append(resp.Items, confirmationResponse(c))
		}
		return &struct {
			Body paginatedConfirmations `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		Type        string `query:"type"`
		EntityKind  string `query:"entity_kind"`
		EntityID    string `query:"entity_id"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, operationID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerCrew(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "assign-crew",
		Method:        http.MethodPost,
		Path:          "/operations/{operation_id}/crew",
		Summary:       "Assign crew member",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string            `path:"operation_id"`
		Body        AssignCrewRequest `json:"body"`
	}) (*struct {
		Body CrewResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActorID == "" || input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role are required", nil)
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "crew.write"); err != nil {
			return nil, handleError(err)
		}
		byActorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ca, err := e.AssignCrew(ctx, operationID, input.Body.ActorID, input.Body.Role, input.Body.Duties, byActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CrewResponse `json:"body"`
		}{Body: crewResponse(ca)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-crew",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/crew",
		Summary:     "List crew assignments",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ActorID     string `query:"actor_id"`
	}) (*struct {
		Body []CrewResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCrewAssignments(ctx, operationID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CrewResponse, 0, len(items))
		for _, ca := range items {
			res = append(res, crewResponse(ca))
		}
		return &struct {
			Body []CrewResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "crew-profile",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/crew/{actor_id}",
		Summary:     "Crew member profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ActorID     string `path:"actor_id"`
	}) (*struct {
		Body CrewProfileResponse `json:"body"`
	}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "log.read"); err != nil {
			return nil, handleError(err)
		}
		profile, err := e.CrewProfile(ctx, operationID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CrewProfileResponse `json:"body"`
		}{Body: crewProfileResponse(profile)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-crew",
		Method:      http.MethodDelete,
		Path:        "/operations/{operation_id}/crew/{actor_id}",
		Summary:     "Remove crew member",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
		ActorID     string `path:"actor_id"`
	}) (*struct{}, error) {
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "crew.write"); err != nil {
			return nil, handleError(err)
		}
		byActorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveCrew(ctx, operationID, input.ActorID, byActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/operations/{operation_id}/me/permissions",
		Summary:     "Current actor permissions",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string `path:"operation_id"`
	}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		who, err := e.WhoAmI(ctx, operationID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     who.ActorID,
			OutfitID:    principal.OutfitID,
			Roles:       nonNilSlice(who.Roles),
			Permissions: nonNilSlice(who.Permissions),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/rbac/roles/grant",
		Summary:     "Grant role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string           `path:"operation_id"`
		Body        RoleGrantRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActorID == "" || input.Body.RoleID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role_id are required", nil)
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "crew.write"); err != nil {
			return nil, handleError(err)
		}
		byActorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.GrantRole(ctx, operationID, input.Body.ActorID, input.Body.RoleID, byActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string           `path:"operation_id"`
		Body        RoleGrantRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActorID == "" || input.Body.RoleID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role_id are required", nil)
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "crew.write"); err != nil {
			return nil, handleError(err)
		}
		byActorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeRoleGrant(ctx, operationID, input.Body.ActorID, input.Body.RoleID, byActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "allow-confirmation-role",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/rbac/confirmations/allow",
		Summary:     "Allow role to confirm kind",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string                  `path:"operation_id"`
		Body        ConfirmationRoleRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Kind == "" || input.Body.RoleID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "kind and role_id are required", nil)
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "crew.write"); err != nil {
			return nil, handleError(err)
		}
		byActorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AllowConfirmationRole(ctx, operationID, input.Body.Kind, input.Body.RoleID, byActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deny-confirmation-role",
		Method:      http.MethodPost,
		Path:        "/operations/{operation_id}/rbac/confirmations/deny",
		Summary:     "Deny role from confirming kind",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OperationID string                  `path:"operation_id"`
		Body        ConfirmationRoleRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Kind == "" || input.Body.RoleID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "kind and role_id are required", nil)
		}
		operationID := operationFromPathOrHeader(ctx, input.OperationID, e.Config.Operation.ID)
		if err := requirePermission(ctx, e, operationID, "crew.write"); err != nil {
			return nil, handleError(err)
		}
		byActorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DenyConfirmationRole(ctx, operationID, input.Body.Kind, input.Body.RoleID, byActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles := principal.Roles
		perms := principal.Permissions
		if len(perms) == 0 && e.Config != nil {
			if who, err := e.WhoAmI(ctx, e.Config.Operation.ID, principal.ActorID); err == nil {
				if len(roles) == 0 {
					roles = who.Roles
				}
				perms = who.Permissions
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			OutfitID:    principal.OutfitID,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
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
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, strings.TrimSpace(input.Body.OutfitID), input.Body.Roles, input.Body.Permissions)
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

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	if inner, ok := outer["body"]; ok {
		var innerMap map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerMap); err == nil {
			return innerMap
		}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
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

func mapOperations(items []domain.Operation) []OperationResponse {
	res := make([]OperationResponse, 0, len(items))
	for _, op := range items {
		res = append(res, operationResponse(op))
	}
	return res
}

func mapResources(items []domain.Resource) []ResourceResponse {
	res := make([]ResourceResponse, 0, len(items))
	for _, r := range items {
		res = append(res, resourceResponse(r))
	}
	return res
}

func mapActivities(items []domain.Activity) []ActivityResponse {
	res := make([]ActivityResponse, 0, len(items))
	for _, a := range items {
		res = append(res, activityResponse(a))
	}
	return res
}

func mapPlannedActivities(items []domain.PlannedActivity) []PlannedActivityResponse {
	res := make([]PlannedActivityResponse, 0, len(items))
	for _, pa := range items {
		res = append(res, plannedActivityResponse(pa))
	}
	return res
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func strPtrValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func toJSONArray(items []string) string {
	b, _ := json.Marshal(items)
	return string(b)
}

func operationFromPathOrHeader(ctx context.Context, pathOperationID, fallback string) string {
	if pathOperationID != "" {
		return pathOperationID
	}
	return operationFromHeader(ctx, fallback)
}

func operationMatches(expected, actual string) bool {
	if expected == "" {
		return true
	}
	return expected == actual
}

func operationFromHeader(ctx context.Context, fallback string) string {
	if h, ok := ctx.(interface{ Header(string) string }); ok {
		if v := strings.TrimSpace(h.Header("X-Operation-Id")); v != "" {
			return v
		}
	}
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if v := strings.TrimSpace(req.Header.Get("X-Operation-Id")); v != "" {
			return v
		}
	}
	return fallback
}
