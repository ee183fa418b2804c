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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"launchline/internal/approval"
	"launchline/internal/bulk"
	"launchline/internal/config"
	"launchline/internal/domain"
	"launchline/internal/engine"
	"launchline/internal/engine/auth"
	"launchline/internal/logging"
	"launchline/internal/metrics"
	"launchline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid phase transition 2 -> 4: target must be the next phase"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Launchline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := logging.OrNop(cfg.Logger)
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema failures share the domain validation code.
			return newAPIError(http.StatusBadRequest, "validation_failed", msg, errorDetails(errs))
		}
		return newAPIError(status, "", msg, errorDetails(errs))
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(requestObserver(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Launchline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerPhases(group, cfg.Engine)
	registerApprovals(group, cfg.Engine)
	registerReadiness(group, cfg.Engine)
	registerDeliverables(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerBulk(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// requestObserver records request latency by route pattern and logs failures.
func requestObserver(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.RecordHTTPRequestDuration(r.Method, route, strconv.Itoa(status), elapsed)
			if status >= http.StatusInternalServerError {
				logger.Error("request failed",
					zap.String("method", r.Method),
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("elapsed", elapsed))
			}
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

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return map[string]any{"errors": msgs}
}

// handleError maps engine errors onto the API envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		se huma.StatusError
		fe auth.ForbiddenError
		ve domain.ValidationError
		te domain.InvalidTransitionError
	)
	switch {
	case errors.As(err, &se):
		return se
	case errors.As(err, &fe):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	case errors.Is(err, domain.ErrFeedbackRequired):
		return newAPIError(http.StatusBadRequest, "feedback_required", domain.ErrFeedbackRequired.Error(), nil)
	case errors.As(err, &ve):
		return newAPIError(http.StatusBadRequest, "validation_failed", ve.Error(), map[string]any{"problems": ve.Problems})
	case errors.As(err, &te):
		return newAPIError(http.StatusConflict, "invalid_transition", te.Error(), map[string]any{
			"from":   te.From,
			"to":     te.To,
			"reason": te.Reason,
		})
	case errors.Is(err, domain.ErrNotAReviewer):
		return newAPIError(http.StatusForbidden, "not_a_reviewer", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyReviewed):
		return newAPIError(http.StatusConflict, "already_reviewed", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrNoActivePhase):
		return newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requirePermission checks perm on projectID. An empty projectID accepts a
// grant on any project.
func requirePermission(ctx context.Context, e engine.Engine, projectID, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	return e.Auth.Require(ctx, principal.Permissions, projectID, principal.ActorID, perm)
}

func registerDocs(r chi.Router, basePath string) {
	page := strings.Replace(swaggerPage, "{{spec}}", path.Join("/", basePath, "openapi.json"), 1)
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, page)
	})
}

// registerOpenAPI serves the generated document, decorated once on first use.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateSpec(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

var (
	bearerScheme = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	apiKeyScheme = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	errorMedia   = map[string]*huma.MediaType{
		"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
	}
)

// decorateSpec adds the shared error response and the credential schemes to
// every operation. Health and dev login stay anonymous.
func decorateSpec(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = bearerScheme
	oas.Components.SecuritySchemes["apiKeyAuth"] = apiKeyScheme
	secured := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = secured

	anonymous := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{Description: "Error", Content: errorMedia}
			if anonymous[route] {
				op.Security = []map[string][]string{}
			} else {
				op.Security = secured
			}
		}
	}
}

const swaggerPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8"/>
<title>Launchline API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
<script>window.onload = () => SwaggerUIBundle({url: '{{spec}}', dom_id: '#swagger-ui'});</script>
</body>
</html>`

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

type projectPath struct {
	ProjectID string `path:"project_id"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project and seed its phases",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectWithPhasesResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		// The first project of an empty workspace bootstraps its owner.
		existing, err := e.ListProjects(ctx, "")
		if err != nil {
			return nil, handleError(err)
		}
		if len(existing) > 0 {
			if err := requirePermission(ctx, e, "", config.PermProjectWrite); err != nil {
				return nil, handleError(err)
			}
		}
		opts := engine.CreateProjectOptions{
			ID:          strings.TrimSpace(input.Body.ID),
			Name:        input.Body.Name,
			CreatorName: input.Body.CreatorName,
			ActorID:     principal.ActorID,
		}
		if input.Body.LeadID != nil {
			opts.LeadID = *input.Body.LeadID
		}
		p, phases, err := e.CreateProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectWithPhasesResponse `json:"body"`
		}{Body: ProjectWithPhasesResponse{Project: p, Phases: phases}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"ACTIVE,ON_HOLD,COMPLETED,ARCHIVED"`
	}) (*struct {
		Body projectList `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, "", config.PermProjectRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListProjects(ctx, domain.ProjectStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body projectList `json:"body"`
		}{Body: projectList{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, config.PermProjectRead); err != nil {
			return nil, handleError(err)
		}
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project name, status or lead",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, config.PermProjectWrite); err != nil {
			return nil, handleError(err)
		}
		changes := repo.ProjectChanges{
			Name:        input.Body.Name,
			CreatorName: input.Body.CreatorName,
			LeadID:      input.Body.LeadID,
		}
		if input.Body.Status != nil {
			status := domain.ProjectStatus(*input.Body.Status)
			changes.Status = &status
		}
		p, err := e.UpdateProject(ctx, input.ProjectID, changes, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

func registerPhases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "phase-board",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/phases",
		Summary:     "Phase list, current phase and tab unlock state",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body engine.Board `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, config.PermProjectRead); err != nil {
			return nil, handleError(err)
		}
		board, err := e.PhaseBoard(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		board.Phases = nonNilSlice(board.Phases)
		board.Tabs = nonNilSlice(board.Tabs)
		return &struct {
			Body engine.Board `json:"body"`
		}{Body: board}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/phases/advance",
		Summary:     "Advance to the next phase",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      AdvancePhaseRequest `json:"body"`
	}) (*struct {
		Body engine.Board `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, config.PermPhaseAdvance); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.AdvancePhase(ctx, input.ProjectID, input.Body.ToOrder, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		board, err := e.PhaseBoard(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Board `json:"body"`
		}{Body: board}, nil
	})
}

func registerApprovals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-approval",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/approvals",
		Summary:       "Request approval from reviewers",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateApprovalRequest `json:"body"`
	}) (*struct {
		Body ApprovalResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, config.PermApprovalRequest); err != nil {
			return nil, handleError(err)
		}
		draft := approval.Draft{
			ProjectID:   input.ProjectID,
			Message:     input.Body.Message,
			ReviewerIDs: input.Body.ReviewerIDs,
			PhaseOrder:  input.Body.PhaseOrder,
			CreatedBy:   principal.ActorID,
		}
		if input.Body.DueDate != nil {
			draft.DueDate = *input.Body.DueDate
		}
		req, err := e.RequestApproval(ctx, draft)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApprovalResponse `json:"body"`
		}{Body: approvalResponse(e, req)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/approvals",
		Summary:     "List approval requests",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status" enum:"PENDING,APPROVED,CHANGES_REQUESTED"`
		Overdue   string `query:"overdue" enum:"true,false"`
	}) (*struct {
		Body approvalList `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, config.PermProjectRead); err != nil {
			return nil, handleError(err)
		}
		filter := engine.ApprovalListFilter{Status: domain.ApprovalStatus(input.Status)}
		if input.Overdue != "" {
			overdue := input.Overdue == "true"
			filter.Overdue = &overdue
		}
		items, err := e.ListApprovals(ctx, input.ProjectID, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := approvalList{Items: make([]ApprovalResponse, 0, len(items))}
		for _, a := range items {
			resp.Items = append(resp.Items, approvalResponse(e, a))
		}
		return &struct {
			Body approvalList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-approval",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/approvals/{approval_id}",
		Summary:     "Get approval request",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		ApprovalID string `path:"approval_id"`
	}) (*struct {
		Body ApprovalResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, config.PermProjectRead); err != nil {
			return nil, handleError(err)
		}
		req, err := projectApproval(ctx, e, input.ProjectID, input.ApprovalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApprovalResponse `json:"body"`
		}{Body: approvalResponse(e, req)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-approval",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/approvals/{approval_id}",
		Summary:     "Record a reviewer decision",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID  string                `path:"project_id"`
		ApprovalID string                `path:"approval_id"`
		Body       ReviewApprovalRequest `json:"body"`
	}) (*struct {
		Body ApprovalResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reviewerID := strings.TrimSpace(input.Body.ReviewerID)
		if reviewerID == "" {
			reviewerID = principal.ActorID
		}
		// Reviewers answer for themselves; recording someone else's decision
		// needs approval.review.
		if reviewerID != principal.ActorID {
			if err := requirePermission(ctx, e, input.ProjectID, config.PermApprovalReview); err != nil {
				return nil, handleError(err)
			}
		}
		if _, err := projectApproval(ctx, e, input.ProjectID, input.ApprovalID); err != nil {
			return nil, handleError(err)
		}
		opts := engine.ReviewOptions{
			ApprovalID: input.ApprovalID,
			ReviewerID: reviewerID,
			Decision:   domain.ApprovalStatus(input.Body.Status),
			ActorID:    principal.ActorID,
		}
		if input.Body.FeedbackText != nil {
			opts.Feedback = *input.Body.FeedbackText
		}
		req, err := e.ReviewApproval(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApprovalResponse `json:"body"`
		}{Body: approvalResponse(e, req)}, nil
	})
}

func registerReadiness(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "readiness",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/readiness",
		Summary:     "Launch readiness report",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ReadinessResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, config.PermProjectRead); err != nil {
			return nil, handleError(err)
		}
		report, err := e.Readiness(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		report.Checks = nonNilSlice(report.Checks)
		report.Missing = nonNilSlice(report.Missing)
		return &struct {
			Body ReadinessResponse `json:"body"`
		}{Body: ReadinessResponse{ProjectID: input.ProjectID, Report: report}}, nil
	})
}

func registerDeliverables(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-deliverable",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/deliverables",
		Summary:       "Record a deliverable reported by a workspace module",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                   `path:"project_id"`
		Body      CreateDeliverableRequest `json:"body"`
	}) (*struct {
		Body domain.Deliverable `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, config.PermDeliverableWrite); err != nil {
			return nil, handleError(err)
		}
		d, err := e.RecordDeliverable(ctx, engine.DeliverableInput{
			ProjectID: input.ProjectID,
			Kind:      domain.DeliverableKind(input.Body.Kind),
			State:     domain.DeliverableState(input.Body.State),
			Label:     input.Body.Label,
			ActorID:   principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Deliverable `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-deliverable",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/deliverables/{deliverable_id}",
		Summary:     "Change a deliverable's state",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID     string                   `path:"project_id"`
		DeliverableID string                   `path:"deliverable_id"`
		Body          UpdateDeliverableRequest `json:"body"`
	}) (*struct {
		Body domain.Deliverable `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, config.PermDeliverableWrite); err != nil {
			return nil, handleError(err)
		}
		d, err := e.UpdateDeliverableState(ctx, input.ProjectID, input.DeliverableID, domain.DeliverableState(input.Body.State), principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Deliverable `json:"body"`
		}{Body: d}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,phase,approval,deliverable,rbac"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, config.PermEventsRead); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.GetProject(ctx, input.ProjectID); err != nil {
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
		items, err := e.Repo.LatestEvents(ctx, limit+1, cursorID, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
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

func registerBulk(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "bulk-projects",
		Method:      http.MethodPost,
		Path:        "/projects/bulk",
		Summary:     "Apply one operation to many projects",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body BulkRequest `json:"body"`
	}) (*struct {
		Body BulkResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, "", config.PermBulkExecute); err != nil {
			return nil, handleError(err)
		}
		// Each target needs its own grant; a denied target fails alone.
		perTarget := func(ctx context.Context, projectID string) error {
			return requirePermission(ctx, e, projectID, config.PermBulkExecute)
		}
		results, err := e.BulkAuthorized(ctx, bulk.Operation{
			Kind:      bulk.Kind(input.Body.OperationKind),
			TargetIDs: input.Body.TargetIDs,
			Payload:   input.Body.Payload,
		}, principal.ActorID, perTarget)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BulkResponse `json:"body"`
		}{Body: bulkResponse(results)}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal, optionally resolved against a project's roles",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles := principal.Roles
		perms := principal.Permissions
		if input.ProjectID != "" {
			who, err := e.WhoAmI(ctx, input.ProjectID, principal.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			roles = append(roles, who.Roles...)
			perms = append(perms, who.Permissions...)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Source:      principal.Source,
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
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
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
		token, err := SignToken(authCfg.JWTSecret, actor, input.Body.Roles, input.Body.Permissions, 0)
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
	return nil
}

// projectApproval loads an approval and hides it when it belongs to another project.
func projectApproval(ctx context.Context, e engine.Engine, projectID, approvalID string) (domain.ApprovalRequest, error) {
	req, err := e.GetApproval(ctx, approvalID)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	if req.ProjectID != projectID {
		return domain.ApprovalRequest{}, fmt.Errorf("approval %s: %w", approvalID, repo.ErrNotFound)
	}
	return req, nil
}

func approvalResponse(e engine.Engine, a domain.ApprovalRequest) ApprovalResponse {
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}
	return ApprovalResponse{
		ID:         a.ID,
		ProjectID:  a.ProjectID,
		Message:    a.Message,
		DueDate:    a.DueDate,
		PhaseOrder: a.PhaseOrder,
		Status:     a.Status,
		CreatedBy:  a.CreatedBy,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
		Reviewers:  nonNilSlice(a.Reviewers),
		Overdue:    approval.IsOverdue(a, now),
	}
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
