package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"yumimaint/internal/catalog"
	"yumimaint/internal/engine"
	"yumimaint/internal/events"
	"yumimaint/internal/prompt"
	"yumimaint/internal/reactor"
)

// Config for the HTTP API handler.
type Config struct {
	Engine *engine.Engine
	// Reactor serializes engine access with the console and timers. When nil,
	// handlers call the engine directly.
	Reactor *reactor.Reactor
	// Model mirrors the prompt on screen; optional.
	Model    *prompt.Model
	LogPath  string
	BasePath string
	Auth     AuthConfig
	Log      *zap.SugaredLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_active"`
	Message string         `json:"message" example:"no active prompt for this task"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type service struct {
	cfg Config
}

// New returns an HTTP handler exposing the maintenance API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	if cfg.Auth.Log == nil {
		cfg.Auth.Log = cfg.Log
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Yumi Maintenance API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := &service{cfg: cfg}
	registerDocs(router, basePath)
	registerHealth(group)
	s.registerStatus(group)
	s.registerTaskActions(group)
	s.registerSweep(group)
	s.registerLog(group)
	registerOpenAPI(router, api, basePath, cfg.Auth.Enabled())

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
	var se *engine.StoreError
	switch {
	case errors.Is(err, engine.ErrNotActive):
		return newAPIError(http.StatusConflict, "not_active", err.Error(), nil)
	case errors.Is(err, engine.ErrUnknownTask):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &se):
		return newAPIError(http.StatusInternalServerError, "store_error", "maintenance history could not be saved", map[string]any{"op": se.Op, "error": se.Err.Error()})
	case errors.Is(err, reactor.ErrStopped):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", "maintenance host is shutting down", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
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

// call runs fn where the engine may be touched. fn never runs after call has
// returned; mutations started from it finish even if the client goes away.
func (s *service) call(ctx context.Context, fn func()) error {
	if s.cfg.Reactor == nil {
		fn()
		return nil
	}
	return s.cfg.Reactor.Call(ctx, fn)
}

func (s *service) knownTask(name string) error {
	if _, ok := catalog.Find(s.cfg.Engine.Tasks(), name); !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownTask, name)
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, secured bool) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			if secured {
				applyAuthSecurity(oas, basePath)
			}
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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
    <title>Yumi Maintenance API Docs</title>
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

func (s *service) registerStatus(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "maintenance-status",
		Method:      http.MethodGet,
		Path:        "/maintenance/status",
		Summary:     "Maintenance status of every task",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		var resp StatusResponse
		if err := s.call(ctx, func() { resp = statusResponse(s.cfg.Engine) }); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "maintenance-prompt",
		Method:      http.MethodGet,
		Path:        "/maintenance/prompt",
		Summary:     "Prompt queue and the dialog on screen",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PromptResponse `json:"body"`
	}, error) {
		var resp PromptResponse
		if err := s.call(ctx, func() { resp.Queue = s.cfg.Engine.Snapshot() }); err != nil {
			return nil, handleError(err)
		}
		if s.cfg.Model != nil {
			v := s.cfg.Model.View()
			resp.View = &v
		}
		return &struct {
			Body PromptResponse `json:"body"`
		}{Body: resp}, nil
	})
}

type taskPath struct {
	Task string `path:"task" doc:"Task name from the catalog"`
}

func (s *service) registerTaskActions(api huma.API) {
	type ackOutput struct {
		Body AckResponse `json:"body"`
	}
	actions := []struct {
		id, verb, summary string
		run               func(ctx context.Context, e *engine.Engine, task string) (string, error)
	}{
		{"confirm-task", "confirm", "Record a task as done and close its prompt", func(ctx context.Context, e *engine.Engine, task string) (string, error) {
			return e.Confirm(ctx, task)
		}},
		{"postpone-task", "postpone", "Close a task's prompt without rescheduling", func(_ context.Context, e *engine.Engine, task string) (string, error) {
			return e.Postpone(task)
		}},
		{"show-task", "show", "Request display of a task's prompt", func(_ context.Context, e *engine.Engine, task string) (string, error) {
			if err := e.Show(task); err != nil {
				return "", err
			}
			return "Maintenance " + task + " requested.", nil
		}},
	}
	for _, a := range actions {
		huma.Register(api, huma.Operation{
			OperationID: a.id,
			Method:      http.MethodPost,
			Path:        "/maintenance/tasks/{task}/" + a.verb,
			Summary:     a.summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
		}, func(ctx context.Context, input *taskPath) (*ackOutput, error) {
			if err := s.knownTask(input.Task); err != nil {
				return nil, handleError(err)
			}
			var (
				msg    string
				runErr error
			)
			if err := s.call(ctx, func() { msg, runErr = a.run(context.WithoutCancel(ctx), s.cfg.Engine, input.Task) }); err != nil {
				return nil, handleError(err)
			}
			if runErr != nil {
				return nil, handleError(runErr)
			}
			s.cfg.Log.Infow("maintenance action", "action", a.verb, "task", input.Task, "principal", principalName(ctx))
			return &ackOutput{Body: AckResponse{Message: msg}}, nil
		})
	}
}

func (s *service) registerSweep(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "check-due",
		Method:      http.MethodPost,
		Path:        "/maintenance/check",
		Summary:     "Request prompts for every due task",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CheckResponse `json:"body"`
	}, error) {
		var n int
		if err := s.call(ctx, func() { n = s.cfg.Engine.CheckDue() }); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CheckResponse `json:"body"`
		}{Body: CheckResponse{Requested: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset",
		Method:      http.MethodPost,
		Path:        "/maintenance/reset",
		Summary:     "Clear all maintenance history",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AckResponse `json:"body"`
	}, error) {
		var (
			msg    string
			runErr error
		)
		if err := s.call(ctx, func() { msg, runErr = s.cfg.Engine.Reset(context.WithoutCancel(ctx)) }); err != nil {
			return nil, handleError(err)
		}
		if runErr != nil {
			return nil, handleError(runErr)
		}
		s.cfg.Log.Warnw("maintenance history reset", "principal", principalName(ctx))
		return &struct {
			Body AckResponse `json:"body"`
		}{Body: AckResponse{Message: msg}}, nil
	})
}

func (s *service) registerLog(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-log",
		Method:      http.MethodGet,
		Path:        "/maintenance/log",
		Summary:     "Most recent audit log entries",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body LogResponse `json:"body"`
	}, error) {
		resp := LogResponse{Items: []events.Entry{}}
		if s.cfg.LogPath != "" {
			items, err := events.Tail(s.cfg.LogPath, input.Limit)
			if err != nil {
				return nil, handleError(err)
			}
			if items != nil {
				resp.Items = items
			}
		}
		return &struct {
			Body LogResponse `json:"body"`
		}{Body: resp}, nil
	})
}
