// Package logger provides structured logging for the workflow engine
// using zerolog.
//
// It supports JSON and console output, level configuration, an optional
// run-scoped file sink, and component-scoped loggers with structured fields.
// There is no package-level logger: a *Logger is created once per run and
// passed explicitly to every component that logs.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "console"
//
// # Usage
//
//	log := logger.New(&cfg, "polysome").WithComponent("scheduler")
//	log.Info("node finished", logger.Fields(logger.FieldNode, "gen", "status", "SUCCEEDED"))
package logger
