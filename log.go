/*
Package dynarow – logging interface.

Callers may plug in any structured logger through the small Logger interface;
FuncLogger adapts a plain function (and with it zerolog, logrus, slog, ...).
*/
package dynarow

import (
	"encoding/json"
	"log"
)

// Logger is the interface callers may supply to Table and Model.
// Each method receives a structured context map (may be nil).
type Logger interface {
	Trace(message string, ctx map[string]any)
	Info(message string, ctx map[string]any)
	Warn(message string, ctx map[string]any)
	Error(message string, ctx map[string]any)
}

// defaultLogger writes info/warn/error to the standard library logger and
// silently drops trace.
type defaultLogger struct{}

func (defaultLogger) Trace(string, map[string]any) {}

func (defaultLogger) Info(msg string, ctx map[string]any)  { logLine("INFO", msg, ctx) }
func (defaultLogger) Warn(msg string, ctx map[string]any)  { logLine("WARN", msg, ctx) }
func (defaultLogger) Error(msg string, ctx map[string]any) { logLine("ERROR", msg, ctx) }

func logLine(level, msg string, ctx map[string]any) {
	if ctx == nil {
		log.Printf("[%s] %s", level, msg)
		return
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		log.Printf("[%s] %s %v", level, msg, ctx)
		return
	}
	log.Printf("[%s] %s %s", level, msg, b)
}

// verboseLogger additionally prints trace lines.
type verboseLogger struct{}

func (verboseLogger) Trace(msg string, ctx map[string]any) { logLine("TRACE", msg, ctx) }
func (verboseLogger) Info(msg string, ctx map[string]any)  { logLine("INFO", msg, ctx) }
func (verboseLogger) Warn(msg string, ctx map[string]any)  { logLine("WARN", msg, ctx) }
func (verboseLogger) Error(msg string, ctx map[string]any) { logLine("ERROR", msg, ctx) }

// FuncLogger wraps a plain function: func(level, message string, ctx map[string]any).
type FuncLogger struct {
	Fn func(level, message string, ctx map[string]any)
}

func (f FuncLogger) Trace(msg string, ctx map[string]any) { f.Fn("trace", msg, ctx) }
func (f FuncLogger) Info(msg string, ctx map[string]any)  { f.Fn("info", msg, ctx) }
func (f FuncLogger) Warn(msg string, ctx map[string]any)  { f.Fn("warn", msg, ctx) }
func (f FuncLogger) Error(msg string, ctx map[string]any) { f.Fn("error", msg, ctx) }

// Discard is a Logger that drops every line.
var Discard Logger = nopLogger{}

// nopLogger silently discards everything.
type nopLogger struct{}

func (nopLogger) Trace(string, map[string]any) {}
func (nopLogger) Info(string, map[string]any)  {}
func (nopLogger) Warn(string, map[string]any)  {}
func (nopLogger) Error(string, map[string]any) {}
