// Package logging configures structured slog output for the CLI.
//
// It provides console and JSON handlers, component-scoped loggers, and the
// standardized field keys the rest of the codebase logs under.
package logging
