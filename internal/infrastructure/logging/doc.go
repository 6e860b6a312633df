// Package logging builds the zap loggers the sandbox components take.
//
// Production logs are JSON; development logs are colored console lines.
// Components receive a child logger from Component, so every line names
// where it came from:
//
//	logger, err := logging.New(logging.FromConfig(cfg.Logging))
//	exec := sandbox.NewExecutor(sandbox.WithLogger(logger.Component("sandbox")))
//
// Run lifecycle events are logged at Debug; timeouts and failed renders at
// Warn.
package logging
