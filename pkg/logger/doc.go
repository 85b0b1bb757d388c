// Package logger builds the service's *slog.Logger.
//
// New applies functional options (format, level, output, static attributes)
// and wraps the chosen slog handler with LogHandlerDecorator, which runs the
// registered ContextExtractor callbacks on every record. This is how request
// ids end up on log lines written deep inside the payment flow without being
// threaded through every call.
//
//	log := logger.New(
//		logger.WithEnvironment(environment.Production, "paycore"),
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.ErrorContext(ctx, "intent finalization failed",
//		logger.IntentID(intentID),
//		logger.Transition("pending", "completed"),
//		logger.Error(err),
//	)
//
// The attribute helpers in attr.go keep key names consistent across packages.
package logger
