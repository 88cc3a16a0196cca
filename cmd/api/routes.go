package main

import (
	"net/http"

	"go.uber.org/zap"

	"banklink/internal/shared/config"
	"banklink/internal/shared/middleware"
)

const apiPrefix = "/api/banklink"

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	h := deps.BankLinkHandler

	mux.HandleFunc("GET "+apiPrefix+"/health", h.HandleHealth)

	authMiddleware := middleware.Auth(deps.JWT)
	protected := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(fn))
	}

	protected("GET "+apiPrefix+"/state", h.HandleState)
	protected("POST "+apiPrefix+"/link/token", h.HandleLinkToken)
	protected("POST "+apiPrefix+"/link/complete", h.HandleLinkComplete)
	protected("POST "+apiPrefix+"/link/exit", h.HandleLinkExit)
	protected("DELETE "+apiPrefix+"/accounts/{id}", h.HandleDisconnect)
	protected("PUT "+apiPrefix+"/accounts/order", h.HandleReorder)
	protected("POST "+apiPrefix+"/refresh", h.HandleRefresh)
	protected("PUT "+apiPrefix+"/preferences/balances", h.HandleBalances)
	protected("POST "+apiPrefix+"/onboarding/complete", h.HandleOnboarded)
	protected("POST "+apiPrefix+"/session/close", h.HandleSessionClose)

	// Tracing sits directly on the mux so it sees the matched route pattern.
	var handler http.Handler = middleware.Tracing(mux)
	handler = middleware.CORS(cfg.Server.AllowedHosts)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.AllowedHosts(cfg.Server.AllowedHosts)(handler)

	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(handler)
	}
	if cfg.Server.HSTS {
		handler = middleware.HSTS(handler)
		logger.Info("HSTS enabled")
	}

	return handler
}
