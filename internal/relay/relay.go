// Package relay forwards browser API calls to the reporting backend and adds
// the cross-origin headers the backend does not send.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"dashsync/internal/config"
	"dashsync/internal/logging"
	"dashsync/internal/middleware"
)

var ErrNotConfigured = errors.New("upstream URL not configured")

// UpstreamError is any failure of the upstream round trip: transport, timeout
// or a body that could not be read.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

type Gateway struct {
	upstream string
	client   *http.Client
	origins  originPolicy
	log      *zap.SugaredLogger
}

// New builds a gateway. client defaults to one with cfg's timeout; net/http
// follows the backend's redirects on its own.
func New(cfg config.Relay, client *http.Client, logger *zap.SugaredLogger) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: cfg.TimeoutDur}
	}
	logger = logging.OrNop(logger).With("component", "relay")
	if !cfg.CORS.Strict {
		logger.Warnw("unrecognized origins are echoed back; set relay.cors.strict to fail closed")
	}
	if cfg.Upstream == "" {
		logger.Warnw("relay upstream is not configured, API calls will fail with 500")
	}
	return &Gateway{
		upstream: cfg.Upstream,
		client:   client,
		origins:  newOriginPolicy(cfg.CORS),
		log:      logger,
	}
}

func (g *Gateway) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Log(g.log))
	router.Use(chiMiddleware.Recoverer)
	router.Options("/api/*", g.PreflightHandler)
	router.Post("/api/*", g.SubmitHandler)
	return router
}

func (g *Gateway) PreflightHandler(w http.ResponseWriter, r *http.Request) {
	g.origins.apply(w.Header(), r.Header.Get("Origin"))
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	g.origins.apply(w.Header(), r.Header.Get("Origin"))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.log.Warnw("failed to read request body", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}

	status, payload, err := g.Forward(r.Context(), body)
	switch {
	case errors.Is(err, ErrNotConfigured):
		g.log.Errorw("relay upstream is not configured", "uri", r.RequestURI)
		writeError(w, http.StatusInternalServerError, err)
		return
	case err != nil:
		g.log.Warnw("upstream call failed", "uri", r.RequestURI, "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// Forward posts body to the upstream verbatim and returns the final status and
// body after redirects.
func (g *Gateway) Forward(ctx context.Context, body []byte) (int, []byte, error) {
	if g.upstream == "" {
		return 0, nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.upstream, bytes.NewReader(body))
	if err != nil {
		return 0, nil, &UpstreamError{Err: fmt.Errorf("build upstream request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &UpstreamError{Err: fmt.Errorf("read upstream body: %w", err)}
	}
	return resp.StatusCode, payload, nil
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Success: false, Error: err.Error()})
}
