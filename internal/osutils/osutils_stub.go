//go:build !windows

// Package osutils holds small platform helpers: privilege checks and the
// firewall rule for the control API.
package osutils

import (
	"log/slog"
	"os"
)

// IsAdmin reports whether the process runs as root.
func IsAdmin() bool {
	return os.Geteuid() == 0
}

// EnsureFirewallRule is a no-op outside Windows.
func EnsureFirewallRule(port int, logger *slog.Logger) error {
	if logger != nil {
		logger.Debug("Firewall rule management is only supported on Windows", "port", port)
	}
	return nil
}
