// Package rpc exposes the wallet engine over HTTP.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	nativecommon "otpwallet/native/common"
	"otpwallet/native/wallet"
	"otpwallet/observability"
	"otpwallet/observability/eventlog"
)

const (
	maxRequestBytes = 1 << 20 // 1 MiB
	moduleName      = "wallet"
)

// EventSource lists journaled events. *eventlog.Journal satisfies it.
type EventSource interface {
	List(ctx context.Context, q eventlog.Query) ([]eventlog.Record, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine            *wallet.Engine
	Events            EventSource
	Logger            *slog.Logger
	RequestsPerSecond float64
	Burst             int
}

// Server routes HTTP requests into the wallet engine.
type Server struct {
	engine  *wallet.Engine
	events  EventSource
	logger  *slog.Logger
	limiter *RateLimiter

	router http.Handler
}

// New constructs the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:  cfg.Engine,
		events:  cfg.Events,
		logger:  logger.With("component", "rpc"),
		limiter: NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/wallets", func(api chi.Router) {
		api.With(s.limiter.Middleware(moduleName)).Post("/", s.CreateWallet)
		api.Route("/{address}", func(w chi.Router) {
			w.Group(func(limited chi.Router) {
				limited.Use(s.limiter.Middleware(moduleName))
				limited.Post("/commits", s.Commit)
				limited.Post("/reveals", s.Reveal)
				limited.Post("/recover-selected", s.RecoverSelected)
				limited.Post("/inbound/token", s.InboundToken)
			})
			w.Get("/", s.GetWallet)
			w.Get("/nonce", s.GetNonce)
			w.Get("/commits", s.GetCommits)
			w.Get("/tokens", s.GetTokens)
			w.Get("/spending", s.GetSpending)
			w.Get("/balance", s.GetBalance)
			w.Get("/last-operation-time", s.GetLastOperationTime)
			w.Get("/signatures/{hash}", s.GetSignature)
			w.Get("/events", s.GetEvents)
		})
	})
	return r
}

// instrument records latency and outcome per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.ModuleMetrics().Observe(moduleName, r.Method+" "+route, ww.Status(), time.Since(started))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	if class := nativecommon.Class(err); class != nil {
		resp.Class = nativecommon.ClassName(err)
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err)
	}
	writeJSON(w, status, resp)
}

// statusFor maps rejection classes onto HTTP status codes.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrWalletExists):
		return http.StatusConflict
	}
	switch nativecommon.Class(err) {
	case nativecommon.ErrAuthFailure:
		return http.StatusUnauthorized
	case nativecommon.ErrReplayOrRace:
		return http.StatusConflict
	case nativecommon.ErrTimingViolation:
		return http.StatusTooEarly
	case nativecommon.ErrLimitExceeded:
		return http.StatusForbidden
	case nativecommon.ErrPreconditionFailure:
		return http.StatusUnprocessableEntity
	case nativecommon.ErrExternalCallFailure:
		return http.StatusBadGateway
	case nativecommon.ErrTerminalState:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// requestError marks malformed input.
type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &requestError{err: fmt.Errorf(format, args...)}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid body: %v", err)
	}
	return nil
}
