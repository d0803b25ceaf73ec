//go:build windows

// Package osutils holds small platform helpers: privilege checks and the
// firewall rule for the control API.
package osutils

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

// IsAdmin checks if the current process has administrative privileges
func IsAdmin() bool {
	var token windows.Token
	h, _ := windows.GetCurrentProcess()
	err := windows.OpenProcessToken(h, windows.TOKEN_QUERY, &token)
	if err != nil {
		return false
	}
	defer token.Close()

	var sid *windows.SID
	err = windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&sid,
	)
	if err != nil {
		return false
	}
	defer windows.FreeSid(sid)

	member, err := token.IsMember(sid)
	if err != nil {
		return false
	}

	return member
}

const ruleName = "recplay control API"

// EnsureFirewallRule makes sure inbound TCP traffic to the control API port
// is allowed, requesting elevation through UAC when needed.
func EnsureFirewallRule(port int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "firewall", "rule", ruleName, "port", port)

	output, err := exec.Command("netsh", "advfirewall", "firewall", "show", "rule", "name="+ruleName).CombinedOutput()
	out := string(output)
	if err == nil && strings.Contains(out, ruleName) {
		if strings.Contains(out, fmt.Sprintf("%d", port)) && strings.Contains(out, "Allow") {
			logger.Debug("Firewall rule already present")
			return nil
		}
		logger.Info("Firewall rule exists with a different port, updating")
	} else {
		logger.Info("Firewall rule not found, creating")
	}

	psCommand := fmt.Sprintf(
		"Remove-NetFirewallRule -DisplayName '%s' -ErrorAction SilentlyContinue; New-NetFirewallRule -DisplayName '%s' -Direction Inbound -LocalPort %d -Protocol TCP -Action Allow -Profile Any",
		ruleName, ruleName, port,
	)

	if IsAdmin() {
		cmd := exec.Command("powershell", "-NoProfile", "-Command", psCommand)
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("failed to create firewall rule: %w (output: %s)", err, string(output))
		}
		logger.Info("Firewall rule applied")
		return nil
	}

	verbPtr, _ := syscall.UTF16PtrFromString("runas")
	exePtr, _ := syscall.UTF16PtrFromString("powershell.exe")
	argPtr, _ := syscall.UTF16PtrFromString(fmt.Sprintf("-NoProfile -WindowStyle Hidden -Command \"%s\"", psCommand))
	if err := windows.ShellExecute(0, verbPtr, exePtr, argPtr, nil, windows.SW_HIDE); err != nil {
		return fmt.Errorf("failed to launch elevated powershell: %w", err)
	}
	logger.Info("Requested UAC elevation to add the firewall rule")
	return nil
}
