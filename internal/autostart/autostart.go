// Package autostart provides auto-start functionality.
package autostart

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

const (
	macLabel  = "com.recplay.agent"
	appName   = "recplay"
	serveVerb = "serve"
)

const macLaunchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
{{- range .Args}}
        <string>{{.}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
</dict>
</plist>
`

const xdgDesktopEntry = `[Desktop Entry]
Type=Application
Name=recplay
Comment=Record and replay mouse and keyboard input
Exec={{join .Args " "}}
X-GNOME-Autostart-enabled=true
NoDisplay=true
`

var templates = func() *template.Template {
	t := template.Must(template.New("plist").Parse(macLaunchAgentPlist))
	template.Must(t.New("desktop").Funcs(template.FuncMap{"join": strings.Join}).Parse(xdgDesktopEntry))
	return t
}()

// userHomeDir and executable are replaced in tests.
var (
	userHomeDir = os.UserHomeDir
	executable  = os.Executable
)

// ErrUnsupported is returned on platforms without an auto-start mechanism.
var ErrUnsupported = errors.New("auto-start is not supported on this platform")

// Enable enables auto-start on login. The agent is launched as
// "<executable> serve".
func Enable() error {
	execPath, err := executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	args := []string{execPath, serveVerb}

	switch runtime.GOOS {
	case "darwin":
		return writeEntry(macPath, "plist", args)
	case "windows":
		return enableWindows(args)
	case "linux", "freebsd", "openbsd", "netbsd":
		return writeEntry(xdgPath, "desktop", args)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, runtime.GOOS)
	}
}

// Disable disables auto-start on login
func Disable() error {
	switch runtime.GOOS {
	case "darwin":
		return removeEntry(macPath)
	case "windows":
		return disableWindows()
	case "linux", "freebsd", "openbsd", "netbsd":
		return removeEntry(xdgPath)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, runtime.GOOS)
	}
}

// IsEnabled checks if auto-start is enabled
func IsEnabled() bool {
	switch runtime.GOOS {
	case "darwin":
		return entryExists(macPath)
	case "windows":
		return isEnabledWindows()
	case "linux", "freebsd", "openbsd", "netbsd":
		return entryExists(xdgPath)
	default:
		return false
	}
}

func macPath() (string, error) {
	home, err := userHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents", macLabel+".plist"), nil
}

func xdgPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := userHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "autostart", appName+".desktop"), nil
}

func render(w io.Writer, name string, args []string) error {
	return templates.ExecuteTemplate(w, name, struct {
		Label string
		Args  []string
	}{macLabel, args})
}

func writeEntry(pathFn func() (string, error), tmpl string, args []string) error {
	path, err := pathFn()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f, tmpl, args); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func removeEntry(pathFn func() (string, error)) error {
	path, err := pathFn()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func entryExists(pathFn func() (string, error)) bool {
	path, err := pathFn()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
