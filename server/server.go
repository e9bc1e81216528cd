// Package server exposes the operator HTTP API: health, metrics, the event
// websocket and JSON endpoints for commands, currencies, giveaways and chat.
// It includes configurable CORS and injects correlation IDs into request
// contexts for consistent logging.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/senepa/Firebot/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// The provided context is used for the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := &authConfig{
		adminToken:    deps.AdminToken,
		adminUsername: deps.AdminUsername,
		adminPassword: deps.AdminPassword,
	}
	authCfg.enabled = authCfg.adminToken != "" || (authCfg.adminUsername != "" && authCfg.adminPassword != "")
	if !authCfg.enabled {
		slog.Warn("admin authentication not configured - mutating endpoints are UNPROTECTED. Set ADMIN_TOKEN for production")
	}
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	h := NewHandlers(deps)

	// protect guards endpoints that change state.
	protect := func(fn http.HandlerFunc) http.Handler {
		return adminAuth(rateLimitMiddleware(fn, limiter), authCfg)
	}

	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	if deps.Hub != nil {
		mux.Handle("GET /ws", deps.Hub)
	}

	// Commands
	mux.Handle("POST /commands/refresh", protect(h.HandleCommandsRefresh))
	mux.HandleFunc("GET /commands/system", h.HandleSystemCommandsList)
	mux.Handle("PUT /commands/system/{id}", protect(h.HandleSystemCommandOverride))
	mux.Handle("DELETE /commands/system/{id}", protect(h.HandleSystemCommandReset))
	mux.HandleFunc("GET /commands/custom", h.HandleCustomCommandsList)
	mux.Handle("POST /commands/custom", protect(h.HandleCustomCommandSave))
	mux.Handle("DELETE /commands/custom/{id}", protect(h.HandleCustomCommandDelete))
	mux.Handle("POST /commands/custom/{id}/trigger", protect(h.HandleCustomCommandTrigger))

	// Currencies
	mux.HandleFunc("GET /currencies", h.HandleCurrenciesList)
	mux.Handle("POST /currencies", protect(h.HandleCurrencyCreate))
	mux.Handle("PUT /currencies/{id}", protect(h.HandleCurrencyUpdate))
	mux.Handle("DELETE /currencies/{id}", protect(h.HandleCurrencyDelete))
	mux.Handle("POST /currencies/{id}/purge", protect(h.HandleCurrencyPurge))
	mux.Handle("POST /currencies/{id}/adjust", protect(h.HandleCurrencyAdjust))
	mux.HandleFunc("GET /currencies/{id}/top", h.HandleCurrencyTop)
	mux.HandleFunc("GET /currencies/{id}/holders", h.HandleCurrencyHolders)

	// Giveaways
	mux.HandleFunc("GET /giveaways", h.HandleGiveawaysList)
	mux.Handle("PUT /giveaways/{id}/settings", protect(h.HandleGiveawaySettings))
	mux.Handle("POST /giveaways/{id}/reset", protect(h.HandleGiveawayReset))
	mux.Handle("POST /giveaways/{id}/start", protect(h.HandleGiveawayStart))
	mux.Handle("POST /giveaways/{id}/stop", protect(h.HandleGiveawayStop))

	// Chat
	mux.Handle("POST /chat/send", protect(h.HandleChatSend))

	return withCORSConfig(withCorrelation(mux), loadCORSConfig())
}

// withCorrelation injects the correlation id, opens a tracing span and
// records the response status on it.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		if rec.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", rec.statusCode))
			span.SetStatus(code, msg)
		}
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
