// Package httpapi implements the task-facing HTTP surface of spec §6: task
// submission, fetch, list, cancel, input injection, archive download, and
// delete, plus the single-shot Input Endpoint (§4.7). Construction follows
// the teacher's functional-option Server shape (server/a2a/server.go),
// routed with go-chi/chi/v5 and fronted by go-chi/cors for the trusted
// origins named in §6.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/waldiez/runner/internal/authn"
	"github.com/waldiez/runner/internal/bus"
	"github.com/waldiez/runner/internal/client"
	"github.com/waldiez/runner/internal/collector"
	"github.com/waldiez/runner/internal/envelope"
	runnererrors "github.com/waldiez/runner/internal/errors"
	"github.com/waldiez/runner/internal/objectstore"
	"github.com/waldiez/runner/internal/scheduler"
	"github.com/waldiez/runner/internal/store"
	"github.com/waldiez/runner/internal/task"
	"github.com/waldiez/runner/internal/wsgateway"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 60 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultMaxUploadBytes    = 32 << 20

	defaultPage = 1
	defaultSize = 20
	maxSize     = 200
)

// ClientResolver maps a verified Identity to the Client entity the request
// is acting as, per §3/§6. Implemented by whatever owns the client registry
// (out of this package's scope; a thin adapter over the Persistence
// collaborator in production).
type ClientResolver interface {
	Resolve(ctx context.Context, identity authn.Identity) (*client.Record, error)
}

// Submitter is the subset of *scheduler.Scheduler this package calls.
type Submitter interface {
	Submit(ctx context.Context, clientRecord *client.Record, flow []byte, opts scheduler.SubmitOptions) (string, error)
}

// Responder forwards an input_response envelope to the I/O Mediator.
type Responder interface {
	SubmitResponse(ctx context.Context, env envelope.Envelope) error
}

// Canceller drives a task to CANCELLED. Implemented by *cancelctl.Controller.
type Canceller interface {
	Cancel(ctx context.Context, taskID string) (*task.Record, error)
}

// Option configures a Server.
type Option func(*Server)

// WithReadTimeout overrides the default request read timeout.
func WithReadTimeout(d time.Duration) Option { return func(s *Server) { s.readTimeout = d } }

// WithWriteTimeout overrides the default response write timeout.
func WithWriteTimeout(d time.Duration) Option { return func(s *Server) { s.writeTimeout = d } }

// WithMaxUploadBytes overrides the default multipart upload size ceiling.
func WithMaxUploadBytes(n int64) Option { return func(s *Server) { s.maxUploadBytes = n } }

// WithTrustedOrigins configures the CORS-allowed origins, per §6's
// environment option of the same name. An empty list allows every origin.
func WithTrustedOrigins(origins []string) Option {
	return func(s *Server) { s.trustedOrigins = origins }
}

// WithWSCheckOrigin sets the WebSocket upgrade's origin check. It is
// independent of WithTrustedOrigins; without it the check is nil and the
// gateway keeps gorilla/websocket's default same-origin check.
func WithWSCheckOrigin(f func(*http.Request) bool) Option {
	return func(s *Server) { s.wsCheckOrigin = f }
}

// WithDefaultMaxDuration sets the max_task_duration_seconds (§6) fallback
// applied to a submission that omits its own max_duration form value. Zero
// (the package default) leaves tasks unbounded, matching §6's "0 = off".
func WithDefaultMaxDuration(seconds int) Option {
	return func(s *Server) { s.defaultMaxDurationSeconds = seconds }
}

// Server is the task-facing HTTP and WebSocket front door.
type Server struct {
	verifier  authn.Verifier
	resolver  ClientResolver
	scheduler Submitter
	store     store.TaskStore
	objects   objectstore.Store
	responder Responder
	canceller Canceller
	registry  *task.Registry
	gateway   *wsgateway.Gateway

	readTimeout               time.Duration
	writeTimeout              time.Duration
	maxUploadBytes            int64
	trustedOrigins            []string
	wsCheckOrigin             func(*http.Request) bool
	defaultMaxDurationSeconds int

	httpSrvMu sync.Mutex
	httpSrv   *http.Server
}

// New constructs a Server wired to its collaborators.
func New(
	verifier authn.Verifier,
	resolver ClientResolver,
	sched Submitter,
	taskStore store.TaskStore,
	objects objectstore.Store,
	b bus.Bus,
	responder Responder,
	canceller Canceller,
	registry *task.Registry,
	opts ...Option,
) *Server {
	s := &Server{
		verifier:       verifier,
		resolver:       resolver,
		scheduler:      sched,
		store:          taskStore,
		objects:        objects,
		responder:      responder,
		canceller:      canceller,
		registry:       registry,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gateway = wsgateway.New(verifier, b, registry, responder, s.wsCheckOrigin)
	return s
}

// Handler builds the chi router exposing every endpoint in §6.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.trustedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/tasks", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleFetch)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Post("/{id}/input", s.handleInput)
		r.Get("/{id}/download", s.handleDownload)
		r.Delete("/{id}", s.handleDelete)
	})

	r.Get("/ws/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.gateway.ServeTask(w, r, chi.URLParam(r, "id"))
	})

	return r
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()
	return srv.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.httpSrvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type ctxKey int

const clientCtxKey ctxKey = iota

// authenticate verifies the bearer token via the Authentication collaborator
// and resolves it to a Client record, per §6.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := authn.ExtractToken(r)
		identity, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, err)
			return
		}
		cl, err := s.resolver.Resolve(r.Context(), identity)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), clientCtxKey, cl)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientFromContext(r *http.Request) *client.Record {
	cl, _ := r.Context().Value(clientCtxKey).(*client.Record)
	return cl
}

// handleSubmit implements POST /tasks, per §6.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	cl := clientFromContext(r)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, runnererrors.New("httpapi", "ParseMultipartForm", err).WithKind(runnererrors.KindValidationFailed))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, runnererrors.New("httpapi", "FormFile", err).WithKind(runnererrors.KindValidationFailed))
		return
	}
	defer file.Close()

	flow, err := io.ReadAll(file)
	if err != nil {
		writeError(w, runnererrors.New("httpapi", "ReadFlow", err).WithKind(runnererrors.KindValidationFailed))
		return
	}

	opts := scheduler.SubmitOptions{MaxDurationSeconds: s.defaultMaxDurationSeconds}
	if v := r.FormValue("input_timeout"); v != "" {
		secs, convErr := strconv.Atoi(v)
		if convErr != nil {
			writeError(w, runnererrors.New("httpapi", "ParseInputTimeout", convErr).WithKind(runnererrors.KindValidationFailed))
			return
		}
		opts.InputTimeoutSeconds = secs
	}
	if v := r.FormValue("max_duration"); v != "" {
		secs, convErr := strconv.Atoi(v)
		if convErr != nil {
			writeError(w, runnererrors.New("httpapi", "ParseMaxDuration", convErr).WithKind(runnererrors.KindValidationFailed))
			return
		}
		opts.MaxDurationSeconds = secs
	}

	id, err := s.scheduler.Submit(r.Context(), cl, flow, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	record, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// handleFetch implements GET /tasks/{id}, per §6.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	record, ok := s.ownedTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleList implements GET /tasks?page=&size=, per §6.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	cl := clientFromContext(r)
	page := intQuery(r, "page", defaultPage)
	size := intQuery(r, "size", defaultSize)
	if size > maxSize {
		size = maxSize
	}
	if page < 1 {
		page = 1
	}

	records, err := s.store.ListTasks(r.Context(), cl.ID, store.Page{Limit: size, Offset: (page - 1) * size}, false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleCancel implements POST /tasks/{id}/cancel, per §6 and §4.8, by
// delegating to the Cancellation Controller. A task already released from
// the registry (terminal and collected) is idempotently reported as-is.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.ownedTask(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	record, err := s.canceller.Cancel(r.Context(), id)
	if err != nil {
		record, getErr := s.store.GetTask(r.Context(), id)
		if getErr != nil {
			writeError(w, getErr)
			return
		}
		writeJSON(w, http.StatusOK, record)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// inputRequest is the body of POST /tasks/{id}/input, per §4.7.
type inputRequest struct {
	RequestID string `json:"request_id"`
	Data      string `json:"data"`
}

// handleInput implements the single-shot HTTP Input Endpoint, per §4.7:
// accepts {request_id, data} for task_id, verifies the task is waiting on
// that exact request, and hands the response to the Mediator.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.ownedTask(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var body inputRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, runnererrors.New("httpapi", "DecodeInput", err).WithKind(runnererrors.KindValidationFailed))
		return
	}

	env := envelope.InputResponse(id, time.Now().UnixMilli(), body.RequestID, body.Data)
	if err := s.responder.SubmitResponse(r.Context(), env); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDownload implements GET /tasks/{id}/download, per §6 and §4.9's
// archived output artifact.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	record, ok := s.ownedTask(w, r)
	if !ok {
		return
	}

	rc, err := s.objects.Get(r.Context(), collector.ArchiveKey(record.ID))
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.tar.gz"`, record.ID))
	_, _ = io.Copy(w, rc)
}

// handleDelete implements DELETE /tasks/{id}?force=bool, per §6.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.ownedTask(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "true"

	if err := s.store.SoftDelete(r.Context(), id, force); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedTask fetches the path task and verifies it belongs to the
// authenticated client, answering 404 either way so existence is not leaked
// across clients.
func (s *Server) ownedTask(w http.ResponseWriter, r *http.Request) (*task.Record, bool) {
	cl := clientFromContext(r)
	id := chi.URLParam(r, "id")

	record, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if record.ClientID != cl.ID {
		writeError(w, runnererrors.New("httpapi", "ownedTask", nil).WithKind(runnererrors.KindNotFound))
		return nil, false
	}
	return record, true
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if ce, ok := err.(*runnererrors.ContextualError); ok {
		status = ce.HTTPStatus()
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
