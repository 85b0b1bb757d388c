// Package httpserver runs an http.Handler with configured timeouts and a
// graceful shutdown on context cancellation or SIGINT/SIGTERM.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
//
// Liveness and Readiness return handlers for orchestrator health checks. Readiness
// runs every registered Check against the request context and reports the
// first failure.
package httpserver
