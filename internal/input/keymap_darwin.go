//go:build darwin

package input

// Windows VK code to macOS CGKeyCode mapping
// Reference: https://docs.microsoft.com/en-us/windows/win32/inputdev/virtual-key-codes
// Reference: https://developer.apple.com/documentation/coregraphics/cgkeycode
var vkToMac = map[uint16]uint16{
	// Letters A-Z (Windows VK_A = 0x41, macOS kVK_ANSI_A = 0x00)
	0x41: 0x00, 0x42: 0x0B, 0x43: 0x08, 0x44: 0x02, 0x45: 0x0E, 0x46: 0x03, 0x47: 0x05,
	0x48: 0x04, 0x49: 0x22, 0x4A: 0x26, 0x4B: 0x28, 0x4C: 0x25, 0x4D: 0x2E, 0x4E: 0x2D,
	0x4F: 0x1F, 0x50: 0x23, 0x51: 0x0C, 0x52: 0x0F, 0x53: 0x01, 0x54: 0x11, 0x55: 0x20,
	0x56: 0x09, 0x57: 0x0D, 0x58: 0x07, 0x59: 0x10, 0x5A: 0x06,

	// Numbers 0-9
	0x30: 0x1D, 0x31: 0x12, 0x32: 0x13, 0x33: 0x14, 0x34: 0x15,
	0x35: 0x17, 0x36: 0x16, 0x37: 0x1A, 0x38: 0x1C, 0x39: 0x19,

	// Function keys
	0x70: 0x7A, 0x71: 0x78, 0x72: 0x63, 0x73: 0x76, 0x74: 0x60, 0x75: 0x61,
	0x76: 0x62, 0x77: 0x64, 0x78: 0x65, 0x79: 0x6D, 0x7A: 0x67, 0x7B: 0x6F,

	// Special keys
	0x08: 0x33, // Backspace -> Delete
	0x09: 0x30, // Tab
	0x0D: 0x24, // Enter/Return
	0x10: 0x38, // Shift
	0x11: 0x3B, // Control
	0x12: 0x3A, // Alt -> Option
	0x14: 0x39, // Caps Lock
	0x1B: 0x35, // Escape
	0x20: 0x31, // Space

	// Arrow keys
	0x25: 0x7B, 0x26: 0x7E, 0x27: 0x7C, 0x28: 0x7D,

	// Navigation keys
	0x21: 0x74, // Page Up
	0x22: 0x79, // Page Down
	0x23: 0x77, // End
	0x24: 0x73, // Home
	0x2D: 0x72, // Insert -> Help
	0x2E: 0x75, // Delete -> Forward Delete

	// Modifier keys
	0x5B: 0x37, // Left Windows -> Left Command
	0x5C: 0x36, // Right Windows -> Right Command
	0xA1: 0x3C, // Right Shift
	0xA3: 0x3E, // Right Control
	0xA5: 0x3D, // Right Alt -> Right Option

	// Punctuation and symbols
	0xBA: 0x29, 0xBB: 0x18, 0xBC: 0x2B, 0xBD: 0x1B, 0xBE: 0x2F, 0xBF: 0x2C,
	0xC0: 0x32, 0xDB: 0x21, 0xDC: 0x2A, 0xDD: 0x1E, 0xDE: 0x27,

	// Numpad
	0x60: 0x52, 0x61: 0x53, 0x62: 0x54, 0x63: 0x55, 0x64: 0x56,
	0x65: 0x57, 0x66: 0x58, 0x67: 0x59, 0x68: 0x5B, 0x69: 0x5C,
	0x6A: 0x43, 0x6B: 0x45, 0x6D: 0x4E, 0x6E: 0x41, 0x6F: 0x4B,
}

var macToVK = func() map[uint16]uint16 {
	m := make(map[uint16]uint16, len(vkToMac))
	for vk, mac := range vkToMac {
		m[mac] = vk
	}
	return m
}()
