// Package sl holds small slog attribute helpers shared across modules.
package sl

import "log/slog"

func Err(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// Secret logs a sensitive value as its first characters plus a mask, so
// a token can be correlated across log lines without being usable.
func Secret(key, value string) slog.Attr {
	masked := "?"
	switch {
	case len(value) > 5:
		masked = value[:5] + "***"
	case value != "":
		masked = "***"
	}
	return slog.String(key, masked)
}

// Module tags a logger with the emitting module name.
func Module(mod string) slog.Attr {
	return slog.String("mod", mod)
}
