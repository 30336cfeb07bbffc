package handlers

import (
	"log/slog"
	"strings"
)

// internalError logs the full error internally and returns a user-safe message.
// The returned message never contains credentials, hostnames or SQL.
func internalError(operation string, err error) string {
	slog.Error(operation, "error", err)
	return operation
}

// sanitizeDetail strips credentials from connection-string shaped text before
// it is surfaced as operator detail.
func sanitizeDetail(msg string) string {
	if idx := strings.Index(msg, "://"); idx != -1 {
		if atIdx := strings.Index(msg[idx:], "@"); atIdx != -1 {
			msg = msg[:idx+3] + "***@" + msg[idx+atIdx+1:]
		}
	}
	return msg
}
