// Package tray provides system tray functionality using getlantern/systray.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// MenuItem represents a menu item
type MenuItem struct {
	ID       int
	Title    string
	Callback func()
	disabled bool
	item     *systray.MenuItem
}

// Tray manages the system tray icon and menu
type Tray struct {
	mu      sync.Mutex
	items   []*MenuItem
	onReady func()
	onExit  func()
	ready   func()
	readyCh chan struct{}
	quitCh  chan struct{}
}

// New creates a new system tray. ready, when set, runs once the menu exists.
func New(title, tooltip string, ready func()) *Tray {
	t := &Tray{
		items:   make([]*MenuItem, 0),
		ready:   ready,
		readyCh: make(chan struct{}),
		quitCh:  make(chan struct{}),
	}

	t.onReady = func() {
		systray.SetTitle(title)
		systray.SetTooltip(tooltip)
		systray.SetIcon(getIcon())
	}

	t.onExit = func() {
		close(t.quitCh)
	}

	return t
}

// AddMenuItem adds a menu item to the tray. Items must be added before Run.
func (t *Tray) AddMenuItem(title string, callback func()) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := len(t.items)
	menuItem := &MenuItem{
		ID:       id,
		Title:    title,
		Callback: callback,
	}
	t.items = append(t.items, menuItem)
	return id
}

// AddSeparator adds a separator to the menu
func (t *Tray) AddSeparator() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, nil) // nil indicates separator
}

// SetItemEnabled enables or greys out a menu item. It may be called before
// or after the menu is shown.
func (t *Tray) SetItemEnabled(id int, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mi := t.lookup(id)
	if mi == nil {
		return
	}
	mi.disabled = !enabled
	if mi.item == nil {
		return
	}
	if enabled {
		mi.item.Enable()
	} else {
		mi.item.Disable()
	}
}

// SetItemTitle renames a menu item.
func (t *Tray) SetItemTitle(id int, title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mi := t.lookup(id)
	if mi == nil {
		return
	}
	mi.Title = title
	if mi.item != nil {
		mi.item.SetTitle(title)
	}
}

// SetTooltip changes the icon tooltip.
func (t *Tray) SetTooltip(tooltip string) {
	select {
	case <-t.readyCh:
		systray.SetTooltip(tooltip)
	default:
	}
}

func (t *Tray) lookup(id int) *MenuItem {
	if id >= 0 && id < len(t.items) {
		return t.items[id]
	}
	return nil
}

// Run starts the tray event loop (blocks). It must be called from the main
// goroutine on macOS.
func (t *Tray) Run() {
	systray.Run(t.setupMenu, t.onExit)
}

// setupMenu is called when systray is ready
func (t *Tray) setupMenu() {
	t.onReady()

	t.mu.Lock()
	for _, menuItem := range t.items {
		if menuItem == nil {
			// Separator
			systray.AddSeparator()
			continue
		}
		item := systray.AddMenuItem(menuItem.Title, "")
		if menuItem.disabled {
			item.Disable()
		}
		menuItem.item = item

		if menuItem.Callback != nil {
			go func(mi *MenuItem) {
				for {
					select {
					case <-mi.item.ClickedCh:
						mi.Callback()
					case <-t.quitCh:
						return
					}
				}
			}(menuItem)
		}
	}
	t.mu.Unlock()

	close(t.readyCh)
	if t.ready != nil {
		t.ready()
	}
}

// Stop stops the tray
func (t *Tray) Stop() {
	systray.Quit()
}

// getIcon returns a placeholder icon (valid 16x16 ICO)
func getIcon() []byte {
	// A valid 16x16 32-bit ICO file with correct size and DIB header
	icon := make([]byte, 1118)
	// ICO Header
	copy(icon[0:6], []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00})
	// Icon Directory
	copy(icon[6:22], []byte{
		0x10, 0x10, 0x00, 0x00, 0x01, 0x00, 0x20, 0x00,
		0x48, 0x04, 0x00, 0x00, // Size: 1024 (pixels) + 40 (header) + 32 (mask) = 1096 bytes
		0x16, 0x00, 0x00, 0x00, // Offset
	})
	// DIB Header
	copy(icon[22:62], []byte{
		0x28, 0x00, 0x00, 0x00, // Size
		0x10, 0x00, 0x00, 0x00, // Width
		0x20, 0x00, 0x00, 0x00, // Height (16 * 2 for icon)
		0x01, 0x00, // Planes
		0x20, 0x00, // BPP
		0x00, 0x00, 0x00, 0x00, // Compression
		0x00, 0x04, 0x00, 0x00, // Image Size
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	})
	// The rest (pixels and mask) can stay 0 for transparency
	return icon
}
