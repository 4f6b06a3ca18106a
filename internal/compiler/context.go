package compiler

import (
	"log/slog"
)

// Context carries per-invocation compilation state.
// One Context belongs to exactly one pipeline invocation.
type Context struct {
	// Logger receives pass progress at debug level. Defaults to slog.Default().
	Logger *slog.Logger

	// DumpDir, when set, receives a canonical JSON snapshot of the module
	// after each pipeline, named <pipeline>.json.
	DumpDir string
}

// NewContext creates a context that logs to logger.
func NewContext(logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{Logger: logger}
}

// Log returns the context logger, or slog.Default() when unset.
func (c *Context) Log() *slog.Logger {
	if c == nil || c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
