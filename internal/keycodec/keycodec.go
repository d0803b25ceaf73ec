// Package keycodec maps raw key notifications to canonical key identifiers and
// canonical keys back to handles an input synthesizer can press.
//
// Raw keys arrive in the Windows virtual-key code space; platform hooks on other
// systems translate their native codes into it before handing them over. The
// mapping tables are fixed at compile time. Anything outside them encodes to an
// unsupported key instead of failing.
package keycodec

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"recplay/internal/errkind"
)

// Name enumerates the named (non-character) keys.
type Name uint8

const (
	NameNone Name = iota
	Shift
	Ctrl
	Alt
	Cmd
	Enter
	Esc
	Tab
	Backspace
	Delete
	Insert
	Home
	End
	PageUp
	PageDown
	Up
	Down
	Left
	Right
	F1
	F2
	F3
	F4
	F5
	F6
	F7
	F8
	F9
	F10
	F11
	F12
	Space
	CapsLock
	PrintScreen
	Pause
	ScrollLock
	NumLock
	Menu

	nameCount
)

type namedKey struct {
	id string
	vk uint16
}

var namedKeys = [nameCount]namedKey{
	Shift:       {"shift", 0x10},
	Ctrl:        {"ctrl", 0x11},
	Alt:         {"alt", 0x12},
	Cmd:         {"cmd", 0x5B},
	Enter:       {"enter", 0x0D},
	Esc:         {"esc", 0x1B},
	Tab:         {"tab", 0x09},
	Backspace:   {"backspace", 0x08},
	Delete:      {"delete", 0x2E},
	Insert:      {"insert", 0x2D},
	Home:        {"home", 0x24},
	End:         {"end", 0x23},
	PageUp:      {"page_up", 0x21},
	PageDown:    {"page_down", 0x22},
	Up:          {"up", 0x26},
	Down:        {"down", 0x28},
	Left:        {"left", 0x25},
	Right:       {"right", 0x27},
	F1:          {"f1", 0x70},
	F2:          {"f2", 0x71},
	F3:          {"f3", 0x72},
	F4:          {"f4", 0x73},
	F5:          {"f5", 0x74},
	F6:          {"f6", 0x75},
	F7:          {"f7", 0x76},
	F8:          {"f8", 0x77},
	F9:          {"f9", 0x78},
	F10:         {"f10", 0x79},
	F11:         {"f11", 0x7A},
	F12:         {"f12", 0x7B},
	Space:       {"space", 0x20},
	CapsLock:    {"caps_lock", 0x14},
	PrintScreen: {"print_screen", 0x2C},
	Pause:       {"pause", 0x13},
	ScrollLock:  {"scroll_lock", 0x91},
	NumLock:     {"num_lock", 0x90},
	Menu:        {"menu", 0x5D},
}

// byVK resolves virtual-key codes to named keys. Left/right variants of the
// modifiers collapse onto the generic modifier.
var byVK = func() map[uint16]Name {
	m := make(map[uint16]Name, nameCount+8)
	for n := Name(1); n < nameCount; n++ {
		m[namedKeys[n].vk] = n
	}
	m[0xA0], m[0xA1] = Shift, Shift
	m[0xA2], m[0xA3] = Ctrl, Ctrl
	m[0xA4], m[0xA5] = Alt, Alt
	m[0x5C] = Cmd
	return m
}()

// byID resolves persisted identifiers, including the spellings older logs used.
var byID = func() map[string]Name {
	m := make(map[string]Name, nameCount+24)
	for n := Name(1); n < nameCount; n++ {
		m[namedKeys[n].id] = n
	}
	aliases := map[string]Name{
		"shift_l": Shift, "shift_r": Shift,
		"control": Ctrl, "ctrl_l": Ctrl, "ctrl_r": Ctrl,
		"alt_l": Alt, "alt_r": Alt, "alt_gr": Alt, "option": Alt,
		"cmd_l": Cmd, "cmd_r": Cmd, "super": Cmd, "win": Cmd, "command": Cmd,
		"return": Enter, "escape": Esc,
		"pageup": PageUp, "pgup": PageUp, "pagedown": PageDown, "pgdn": PageDown,
		"capslock": CapsLock, "printscreen": PrintScreen, "scrolllock": ScrollLock, "numlock": NumLock,
		"del": Delete, "ins": Insert,
	}
	for id, n := range aliases {
		m[id] = n
	}
	return m
}()

// oemChars holds the unshifted US-layout punctuation keys.
var oemChars = map[uint16]rune{
	0xBA: ';', 0xBB: '=', 0xBC: ',', 0xBD: '-', 0xBE: '.', 0xBF: '/',
	0xC0: '`', 0xDB: '[', 0xDC: '\\', 0xDD: ']', 0xDE: '\'',
	0x6A: '*', 0x6B: '+', 0x6D: '-', 0x6E: '.', 0x6F: '/',
}

var charVK = func() map[rune]uint16 {
	m := make(map[rune]uint16, len(oemChars))
	for vk, r := range oemChars {
		if vk >= 0xBA {
			m[r] = vk
		}
	}
	return m
}()

// shiftedChars maps US-layout shifted symbols to their base key.
var shiftedChars = map[rune]rune{
	'!': '1', '@': '2', '#': '3', '$': '4', '%': '5', '^': '6', '&': '7', '*': '8', '(': '9', ')': '0',
	':': ';', '+': '=', '<': ',', '_': '-', '>': '.', '?': '/', '~': '`', '{': '[', '|': '\\', '}': ']', '"': '\'',
}

var baseToShifted = func() map[rune]rune {
	m := make(map[rune]rune, len(shiftedChars))
	for shifted, base := range shiftedChars {
		m[base] = shifted
	}
	return m
}()

// ShiftedChar returns the character a US-layout key produces with shift held,
// or 0 when vk has no shifted character.
func ShiftedChar(vk uint16) rune {
	switch {
	case vk >= 0x41 && vk <= 0x5A:
		return rune('A' + vk - 0x41)
	case vk >= 0x30 && vk <= 0x39:
		return baseToShifted[rune('0'+vk-0x30)]
	case vk >= 0xBA:
		if r, ok := oemChars[vk]; ok {
			return baseToShifted[r]
		}
	}
	return 0
}

// Key is a canonical key identifier: a named key, a printable character, or
// an unsupported key that carries the text it was parsed from.
type Key struct {
	Name Name
	Char rune
	Raw  string
}

// Named returns the canonical key for n.
func Named(n Name) Key {
	return Key{Name: n}
}

// Char returns the canonical key for a printable character. The space
// character canonicalizes to the named key space.
func Char(r rune) Key {
	if r == ' ' {
		return Named(Space)
	}
	return Key{Char: r}
}

// Unsupported returns a key that can be logged but never synthesized.
func Unsupported(raw string) Key {
	return Key{Raw: raw}
}

// IsSupported reports whether k belongs to the canonical set.
func (k Key) IsSupported() bool {
	if k.Name != NameNone {
		return k.Name < nameCount
	}
	return k.Char != 0 && unicode.IsPrint(k.Char) && k.Char != ' '
}

// IsNamed reports whether k is one of the named keys.
func (k Key) IsNamed() bool {
	return k.Name != NameNone && k.Name < nameCount
}

// Fold returns k with character keys lower-cased.
func (k Key) Fold() Key {
	if k.Name == NameNone && k.Char != 0 {
		return Key{Char: unicode.ToLower(k.Char)}
	}
	return k
}

// String returns the persisted identifier of k.
func (k Key) String() string {
	switch {
	case k.IsNamed():
		return namedKeys[k.Name].id
	case k.IsSupported():
		return string(k.Char)
	default:
		return k.Raw
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It never fails: unknown
// identifiers become unsupported keys.
func (k *Key) UnmarshalText(text []byte) error {
	*k = Parse(string(text))
	return nil
}

// RawKey is a key notification as delivered by a platform hook.
type RawKey struct {
	// VK is the virtual-key code (Windows VK space).
	VK uint16
	// Char is the character the key produced under the active layout, 0 if none.
	Char rune
}

// Handle is everything a synthesizer needs to press a canonical key.
type Handle struct {
	// VK is the virtual-key code to press; 0 means the key must be typed as Char.
	VK uint16
	// Char is the character the handle produces, 0 for named keys.
	Char rune
	// Shift is set when VK must be pressed with shift held to produce Char.
	Shift bool
}

// Raw returns the raw notification a hook would deliver for a press of h.
func (h Handle) Raw() RawKey {
	return RawKey{VK: h.VK, Char: h.Char}
}

// Encode canonicalizes a raw key. The second result is false when the key
// is outside the canonical set; the returned key is then Unsupported.
func Encode(raw RawKey) (Key, bool) {
	if n, ok := byVK[raw.VK]; ok {
		return Named(n), true
	}
	if raw.Char != 0 && unicode.IsPrint(raw.Char) {
		return Char(raw.Char), true
	}
	switch {
	case raw.VK >= 0x41 && raw.VK <= 0x5A:
		return Char(rune('a' + raw.VK - 0x41)), true
	case raw.VK >= 0x30 && raw.VK <= 0x39:
		return Char(rune('0' + raw.VK - 0x30)), true
	case raw.VK >= 0x60 && raw.VK <= 0x69:
		return Char(rune('0' + raw.VK - 0x60)), true
	}
	if r, ok := oemChars[raw.VK]; ok {
		return Char(r), true
	}
	return Unsupported(fmt.Sprintf("vk:0x%02X", raw.VK)), false
}

// Decode resolves a canonical key to a synthesizable handle.
func Decode(k Key) (Handle, error) {
	if k.IsNamed() {
		return Handle{VK: namedKeys[k.Name].vk}, nil
	}
	if !k.IsSupported() {
		return Handle{}, errkind.ErrUnsupportedKey.WithMessagef("key %q has no synthesizable form", k.Raw)
	}

	r := k.Char
	switch {
	case r >= 'a' && r <= 'z':
		return Handle{VK: uint16(0x41 + r - 'a'), Char: r}, nil
	case r >= 'A' && r <= 'Z':
		return Handle{VK: uint16(0x41 + r - 'A'), Char: r, Shift: true}, nil
	case r >= '0' && r <= '9':
		return Handle{VK: uint16(0x30 + r - '0'), Char: r}, nil
	}
	if vk, ok := charVK[r]; ok {
		return Handle{VK: vk, Char: r}, nil
	}
	if base, ok := shiftedChars[r]; ok {
		h, _ := Decode(Char(base))
		return Handle{VK: h.VK, Char: r, Shift: true}, nil
	}
	return Handle{Char: r}, nil
}

// Parse converts a persisted identifier into a key. Legacy spellings such as
// "Key.enter" and "'a'" are accepted. Unknown identifiers yield an
// unsupported key carrying the original text.
func Parse(s string) Key {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		if orig == " " {
			return Named(Space)
		}
		return Unsupported(orig)
	}

	s = strings.TrimPrefix(s, "Key.")
	if utf8.RuneCountInString(s) == 3 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		s = s[1 : len(s)-1]
	}

	if utf8.RuneCountInString(s) == 1 {
		r, _ := utf8.DecodeRuneInString(s)
		if unicode.IsPrint(r) {
			return Char(r)
		}
		return Unsupported(orig)
	}

	if n, ok := byID[strings.ToLower(s)]; ok {
		return Named(n)
	}
	return Unsupported(orig)
}

// NamedKeys returns every named key in declaration order.
func NamedKeys() []Key {
	keys := make([]Key, 0, nameCount-1)
	for n := Name(1); n < nameCount; n++ {
		keys = append(keys, Named(n))
	}
	return keys
}
