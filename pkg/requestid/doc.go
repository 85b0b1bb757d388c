// Package requestid tags every HTTP request with a correlation identifier.
//
// Middleware reuses a well-formed X-Request-ID header or generates a UUID,
// echoes it back in the response and stores it in the request context.
// LoggerExtractor plugs into logger.WithContextExtractors so every record
// written with a request context carries request_id.
package requestid
