package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/morezero/service-dispatcher/pkg/dispatcher"
	"github.com/morezero/service-dispatcher/pkg/engine"
	"github.com/morezero/service-dispatcher/pkg/model"
	"github.com/morezero/service-dispatcher/pkg/service"
	"github.com/morezero/service-dispatcher/pkg/task"
)

const httpLogPrefix = "server:http"

// maxRequestBody bounds request bodies read by the HTTP surface.
const maxRequestBody = 4 << 20

// apiPrefix is stripped from paths before they reach the service.
const apiPrefix = "/api"

// errorBody is the JSON body of HTTP error responses.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("GET /methods", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, &dispatcher.MethodsResult{Methods: s.svc.AvailableMethods()})
	})
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.svc.Info())
	})
	mux.HandleFunc("GET /discovery", s.handleDiscovery)
	mux.HandleFunc(apiPrefix+"/", s.handleExecute)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PUT /tasks/{id}", s.handleUpdateTask)
	if s.fhir != nil {
		mux.HandleFunc("GET /fhir/", s.handleFHIR)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.svc.Health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	doc := s.svc.Info().Discovery
	if doc == nil {
		writeJSON(w, http.StatusNotFound, &errorBody{Code: dispatcher.CodeNotFound, Message: "No discovery document"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleExecute maps an HTTP request under /api/ onto a service request.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &errorBody{Code: dispatcher.CodeInvalidArgument, Message: "Failed to read request body"})
		return
	}

	req := model.NewServiceRequest(r.Method, strings.TrimPrefix(r.URL.Path, apiPrefix))
	if id := r.Header.Get("X-Request-Id"); id != "" {
		req.ID = id
	}
	req.Headers = r.Header.Clone()
	req.Params = r.URL.Query()
	req.Body = rawBody(body)

	resp, err := s.svc.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	for name, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	t, err := s.svc.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var t task.Task
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&t); err != nil {
		writeJSON(w, http.StatusBadRequest, &errorBody{Code: dispatcher.CodeInvalidArgument, Message: "Failed to parse task"})
		return
	}
	t.ID = id
	if t.ProcessInstanceID == 0 {
		writeJSON(w, http.StatusBadRequest, &errorBody{Code: dispatcher.CodeInvalidArgument, Message: "processInstanceId is required"})
		return
	}
	if err := s.svc.UpdateTask(r.Context(), &t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &dispatcher.UpdateTaskResult{ID: t.ID, Status: string(t.Status)})
}

// handleFHIR runs the query following /fhir/ against the configured servers.
func (s *Server) handleFHIR(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimPrefix(r.URL.Path, "/fhir/")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, &errorBody{Code: dispatcher.CodeInvalidArgument, Message: "FHIR query is required"})
		return
	}
	if r.URL.RawQuery != "" {
		query += "?" + r.URL.RawQuery
	}
	resp := s.fhir.QueryServer(r.Context(), query)
	status := http.StatusOK
	if !resp.OK() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, &errorBody{Code: dispatcher.CodeInvalidArgument, Message: "Task id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// rawBody keeps a JSON body as is and encodes anything else as a JSON string.
func rawBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return body
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

func writeError(w http.ResponseWriter, err error) {
	var execErr *service.ExecutionError
	kind := ""
	if errors.As(err, &execErr) {
		kind = execErr.Kind
	}
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeJSON(w, http.StatusNotFound, &errorBody{Code: dispatcher.CodeNotFound, Message: "Task not found", Kind: kind})
	case errors.Is(err, engine.ErrUnknownProcessInstance):
		writeJSON(w, http.StatusNotFound, &errorBody{Code: dispatcher.CodeNotFound, Message: "Process instance not found", Kind: kind})
	case execErr != nil:
		writeJSON(w, http.StatusInternalServerError, &errorBody{Code: dispatcher.CodeExecutionError, Message: execErr.Error(), Kind: kind})
	default:
		slog.Error(fmt.Sprintf("%s - request failed: %v", httpLogPrefix, err))
		writeJSON(w, http.StatusInternalServerError, &errorBody{Code: dispatcher.CodeInternalError, Message: "Internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - response encode: %v", httpLogPrefix, err))
	}
}

// homePageTemplate is the HTML for the service home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Info.Release}} – Service Dispatcher</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; width: 180px; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.Info.Release}}</h1>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Engine: {{if .Health.Checks.Engine}}OK{{else}}Failed{{end}}</p>
    {{if .Database}}<p>Database: {{.Database}}</p>{{end}}
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Service</h2>
    <table>
      <tr><th>Category</th><td>{{.Info.Category}}</td></tr>
      <tr><th>Space</th><td>{{.Info.Space}}</td></tr>
      <tr><th>Methods</th><td>{{range .Info.AvailableMethods}}{{.}} {{end}}</td></tr>
      <tr><th>Service types</th><td>{{range .Info.ServiceTypes}}{{.}} {{end}}</td></tr>
      <tr><th>Discovery</th><td>{{if .Info.Discovery}}<a href="/discovery">available</a>{{else}}none{{end}}</td></tr>
    </table>
  </section>
</body>
</html>
`

type homeData struct {
	Info     *service.Info
	Health   *service.HealthOutput
	Database string
}

// handleHome returns an HTTP handler for the service home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Info: s.svc.Info(), Health: s.svc.Health(ctx)}
		if ok := data.Health.Checks.Database; ok != nil {
			data.Database = "Failed"
			if *ok {
				data.Database = "OK"
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", httpLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
