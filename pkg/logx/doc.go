// Package logx wraps zerolog behind a small structured-logging API.
//
// The Logger value type is safe to copy and its zero value is a no-op, so
// components can accept a Logger without nil checks. Loggers created from a
// Service stay live across Service.Apply() calls, which is how config hot
// reload changes log level/output without re-wiring every component.
package logx
