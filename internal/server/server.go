package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"troops/internal/directory"
	"troops/internal/domain"
	"troops/internal/engine"
	"troops/internal/metrics"
	"troops/internal/registry"
	"troops/internal/sink"
)

// Version is reported in the OpenAPI document.
const Version = "0.3.0"

// Config selects the roles this process serves. Each non-nil role is
// mounted under its own prefix: /recruiter, /commander, /leader, /soldier.
type Config struct {
	Directory *directory.Directory
	Commander *engine.Node
	Leader    *engine.Node
	Soldier   *engine.Soldier
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// apiError renders every error in the response envelope with success=false.
type apiError struct {
	status int
	Status domain.ResponseStatus `json:"_status"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Status.Msg }

func newAPIError(status int, msg string) huma.StatusError {
	if msg == "" {
		msg = defaultMessage(status)
	}
	return &apiError{status: status, Status: domain.ResponseStatus{Success: false, Msg: msg}}
}

func defaultMessage(status int) string {
	switch status {
	case http.StatusNotFound:
		return "resource not found"
	case http.StatusNotModified:
		return "resource is not modified"
	case http.StatusInternalServerError:
		return "action is failed"
	default:
		return strings.ToLower(http.StatusText(status))
	}
}

// New returns an HTTP handler exposing the configured roles.
func New(cfg Config) (http.Handler, error) {
	if cfg.Directory == nil && cfg.Commander == nil && cfg.Leader == nil && cfg.Soldier == nil {
		return nil, errors.New("server needs at least one role")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		if len(errs) > 0 {
			parts := make([]string, 0, len(errs))
			for _, e := range errs {
				parts = append(parts, e.Error())
			}
			msg = msg + ": " + strings.Join(parts, "; ")
		}
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.Logger))
	hcfg := huma.DefaultConfig("Troops API", Version)
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	// Keep bodies to the envelope shape; no $schema links.
	hcfg.CreateHooks = nil
	api := humachi.New(router, hcfg)

	registerHealth(api)
	if cfg.Directory != nil {
		registerRecruiter(huma.NewGroup(api, "/recruiter"), cfg.Directory)
	}
	if cfg.Commander != nil {
		registerNode(huma.NewGroup(api, "/commander"), cfg.Commander, commanderRoutes)
	}
	if cfg.Leader != nil {
		registerNode(huma.NewGroup(api, "/leader"), cfg.Leader, leaderRoutes)
	}
	if cfg.Soldier != nil {
		registerSoldier(huma.NewGroup(api, "/soldier"), cfg.Soldier)
	}
	registerDocs(router)
	registerOpenAPI(router, api)
	router.Handle("/metrics", cfg.Metrics.Handler())
	return router, nil
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return newAPIError(http.StatusNotFound, "The subordinate is not found")
	case errors.Is(err, directory.ErrNotFound):
		return newAPIError(http.StatusNotFound, msg)
	case errors.Is(err, registry.ErrAlreadyRegistered):
		return newAPIError(http.StatusConflict, "The subordinate is already registered")
	case errors.Is(err, directory.ErrOffline):
		return newAPIError(http.StatusServiceUnavailable, msg)
	case errors.Is(err, engine.ErrInvalidAssignment),
		errors.Is(err, directory.ErrUnsupportedRole),
		errors.Is(err, sink.ErrUnsupportedDestination):
		return newAPIError(http.StatusBadRequest, msg)
	}
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must"):
		return newAPIError(http.StatusBadRequest, msg)
	default:
		return newAPIError(http.StatusInternalServerError, "action is failed: "+msg)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method, "path", r.URL.Path, "status", ww.Status(), "dur", time.Since(start))
		})
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{Envelope: okEnvelope()}}, nil
	})
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML("/openapi.json"))
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	var spec []byte
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
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
	if oas.Components != nil && oas.Components.Schemas != nil {
		oas.Components.Schemas.Schema(reflect.TypeOf(Envelope{}), true, "Envelope")
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
						Schema: &huma.Schema{Ref: "#/components/schemas/Envelope"},
					},
				},
			}
		}
	}
}

func swaggerHTML(specURL string) string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Troops API Docs</title>
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
