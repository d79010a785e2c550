package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"TopEquations/internal/auth"
	"TopEquations/internal/curation"
	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/intake"
	"TopEquations/internal/observability/metrics"
	"TopEquations/internal/queue"
	"TopEquations/internal/reconcile"
	"TopEquations/internal/registry"
	"TopEquations/pkg/logger"
)

const (
	maxBodyBytes       = 1 << 20
	defaultWaitTimeout = 10 * time.Second
	defaultListLimit   = 50
)

// Server 负责暴露 REST 接口。
type Server struct {
	addr       string
	curation   *curation.Service
	dispatcher *queue.Dispatcher
	reconciler *reconcile.Reconciler
	auth       *auth.Service
	wait       time.Duration
	logger     *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithAuth 为策展人接口启用认证。
func WithAuth(a *auth.Service) Option {
	return func(s *Server) { s.auth = a }
}

// WithReconciler 启用对账接口。
func WithReconciler(r *reconcile.Reconciler) Option {
	return func(s *Server) { s.reconciler = r }
}

// WithWaitTimeout 设置写请求同步等待作业结果的时长，超时后返回 202。
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.wait = d
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *curation.Service, dispatcher *queue.Dispatcher, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		curation:   svc,
		dispatcher: dispatcher,
		wait:       defaultWaitTimeout,
		logger:     logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.auth == nil {
		s.auth, _ = auth.NewService(context.Background(), auth.Config{Mode: auth.ModeDisabled}, nil)
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/submissions", "submit", http.HandlerFunc(s.handleSubmit))
	s.route(mux, "GET /api/v1/submissions", "list_submissions", http.HandlerFunc(s.handleListSubmissions))
	s.route(mux, "GET /api/v1/submissions/{id}", "get_submission", http.HandlerFunc(s.handleGetSubmission))
	s.route(mux, "POST /api/v1/submissions/{id}/score", "score",
		s.guard(auth.PermissionScore, "score", http.HandlerFunc(s.handleScore)))
	s.route(mux, "POST /api/v1/submissions/{id}/promote", "promote",
		s.guard(auth.PermissionPromote, "promote", http.HandlerFunc(s.handlePromote)))
	s.route(mux, "GET /api/v1/equations", "list_equations", http.HandlerFunc(s.handleListEquations))
	s.route(mux, "GET /api/v1/equations/{id}", "get_equation", http.HandlerFunc(s.handleGetEquation))
	s.route(mux, "GET /api/v1/jobs/{id}", "get_job", http.HandlerFunc(s.handleGetJob))
	s.route(mux, "POST /api/v1/auth/token", "token", http.HandlerFunc(s.handleToken))
	s.route(mux, "GET /api/v1/reconcile", "reconcile", http.HandlerFunc(s.handleReconcile))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.Handler) {
	mux.Handle(pattern, instrument(name, h))
}

func (s *Server) guard(permission, event string, h http.Handler) http.Handler {
	return s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {permission}},
		AuditEvent:          event,
	})(h)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	sub, err := intake.Parse(string(body))
	if err != nil {
		writeError(w, err)
		return
	}
	s.enqueue(w, r, queue.KindSubmit, sub, http.StatusCreated)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	opts := []curation.ListOption{curation.WithLimit(queryInt(r, "limit", defaultListLimit)), curation.WithNewestFirst()}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		var statuses []registry.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, registry.ParseStatus(part))
		}
		opts = append(opts, curation.WithStatuses(statuses...))
	}
	entries, err := s.curation.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	entry, err := s.curation.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req curation.ScoreRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.SubmissionID = r.PathValue("id")
	req.AllPending = false
	s.enqueue(w, r, queue.KindScore, req, http.StatusOK)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req curation.PromoteRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.SubmissionID = r.PathValue("id")
	s.enqueue(w, r, queue.KindPromote, req, http.StatusCreated)
}

func (s *Server) handleListEquations(w http.ResponseWriter, r *http.Request) {
	entries, err := s.curation.Equations(r.Context(), queryInt(r, "limit", defaultListLimit))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleGetEquation(w http.ResponseWriter, r *http.Request) {
	entry, err := s.curation.Equation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	result, ok := s.dispatcher.Tracker().Get(r.PathValue("id"))
	if !ok {
		writeCodedError(w, xerrors.CodeNotFound, "作业不存在")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req auth.TokenRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		writeCodedError(w, auth.Code(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeCodedError(w, xerrors.CodeNotFound, "未启用对账")
		return
	}
	report, err := s.reconciler.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// enqueue 投递作业并在等待时限内返回结果；仍未完成时返回 202 与作业 ID。
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, kind queue.Kind, payload any, okStatus int) {
	if s.dispatcher == nil {
		writeCodedError(w, xerrors.CodeQueueFailure, "写队列未配置")
		return
	}
	job, err := s.dispatcher.Enqueue(r.Context(), kind, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("async") == "true" || s.dispatcher.Tracker() == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.wait)
	defer cancel()
	result, err := s.dispatcher.Tracker().Wait(ctx, job.ID)
	if err != nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
		return
	}
	if result.State == queue.StateFailed {
		code := xerrors.Code(result.Code)
		if code == "" {
			code = xerrors.CodeUnknown
		}
		writeJSON(w, StatusOf(code), errorBody{Error: errorDetail{
			Code:     string(code),
			Message:  result.Error,
			Metadata: map[string]string{"job_id": job.ID},
		}})
		return
	}
	w.Header().Set("X-Job-ID", job.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(okStatus)
	_, _ = w.Write(result.Output)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体过大或读取失败")
	}
	return data, nil
}

func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeCodedError(w, xerrors.CodeTimeout, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
