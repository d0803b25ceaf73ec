package keycodec

import (
	"encoding/json"
	"errors"
	"testing"

	"recplay/internal/errkind"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canonicalSet() []Key {
	keys := NamedKeys()
	for r := rune(0x21); r <= 0x7E; r++ {
		keys = append(keys, Char(r))
	}
	for _, r := range "éßж€" {
		keys = append(keys, Char(r))
	}
	return keys
}

func TestRoundTrip_EncodeDecodeIsIdentity(t *testing.T) {
	for _, k := range canonicalSet() {
		h, err := Decode(k)
		require.NoError(t, err, "decode %s", k)

		got, ok := Encode(h.Raw())
		require.True(t, ok, "encode %s", k)
		assert.Equal(t, k, got, "round trip of %s", k)
	}
}

func TestRoundTrip_StringParse(t *testing.T) {
	for _, k := range canonicalSet() {
		assert.Equal(t, k, Parse(k.String()), "parse(%q)", k.String())
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		raw  RawKey
		want Key
	}{
		{"letter with char", RawKey{VK: 0x41, Char: 'a'}, Char('a')},
		{"shifted letter", RawKey{VK: 0x41, Char: 'A'}, Char('A')},
		{"letter under ctrl", RawKey{VK: 0x52, Char: 0x12}, Char('r')},
		{"digit without char", RawKey{VK: 0x37}, Char('7')},
		{"numpad digit", RawKey{VK: 0x63}, Char('3')},
		{"enter wins over carriage return", RawKey{VK: 0x0D, Char: '\r'}, Named(Enter)},
		{"space", RawKey{VK: 0x20, Char: ' '}, Named(Space)},
		{"right shift", RawKey{VK: 0xA1}, Named(Shift)},
		{"left control", RawKey{VK: 0xA2}, Named(Ctrl)},
		{"f12", RawKey{VK: 0x7B}, Named(F12)},
		{"oem comma", RawKey{VK: 0xBC}, Char(',')},
		{"layout char without vk", RawKey{Char: 'ü'}, Char('ü')},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Encode(tt.raw)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode_UnknownIsUnsupported(t *testing.T) {
	got, ok := Encode(RawKey{VK: 0xFF})
	assert.False(t, ok)
	assert.False(t, got.IsSupported())
	assert.Equal(t, "vk:0xFF", got.String())

	_, ok = Encode(RawKey{VK: 0xAD, Char: 0x7F})
	assert.False(t, ok, "media key with a control char")
}

func TestDecode(t *testing.T) {
	h, err := Decode(Char('Q'))
	require.NoError(t, err)
	assert.Equal(t, Handle{VK: 0x51, Char: 'Q', Shift: true}, h)

	h, err = Decode(Char('?'))
	require.NoError(t, err)
	assert.Equal(t, Handle{VK: 0xBF, Char: '?', Shift: true}, h)

	h, err = Decode(Named(Esc))
	require.NoError(t, err)
	assert.Equal(t, Handle{VK: 0x1B}, h)

	h, err = Decode(Char('ж'))
	require.NoError(t, err)
	assert.Equal(t, Handle{Char: 'ж'}, h)
}

func TestDecode_Unsupported(t *testing.T) {
	_, err := Decode(Unsupported("Key.media_play_pause"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.ErrUnsupportedKey))
}

func TestParse_LegacySpellings(t *testing.T) {
	assert.Equal(t, Named(Enter), Parse("Key.enter"))
	assert.Equal(t, Named(Shift), Parse("Key.shift_r"))
	assert.Equal(t, Named(Ctrl), Parse("Ctrl"))
	assert.Equal(t, Char('a'), Parse("'a'"))
	assert.Equal(t, Char('\''), Parse("'''"))
	assert.Equal(t, Named(Space), Parse(" "))
	assert.Equal(t, Named(PageDown), Parse("page_down"))
}

func TestParse_UnknownKeepsText(t *testing.T) {
	k := Parse("Key.media_next")
	assert.False(t, k.IsSupported())
	assert.Equal(t, "Key.media_next", k.String())

	_, err := Decode(k)
	assert.Error(t, err)
}

func TestKey_TextMarshaling(t *testing.T) {
	data, err := json.Marshal(map[string]Key{"key": Named(F5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"f5"}`, string(data))

	var decoded struct {
		Key Key `json:"key"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"key":"x"}`), &decoded))
	assert.Equal(t, Char('x'), decoded.Key)
}

func TestKey_Fold(t *testing.T) {
	assert.Equal(t, Char('r'), Char('R').Fold())
	assert.Equal(t, Named(Alt), Named(Alt).Fold())
}

func TestShiftedChar(t *testing.T) {
	assert.Equal(t, 'Q', ShiftedChar(0x51))
	assert.Equal(t, '!', ShiftedChar(0x31))
	assert.Equal(t, ')', ShiftedChar(0x30))
	assert.Equal(t, '?', ShiftedChar(0xBF))
	assert.Equal(t, rune(0), ShiftedChar(0x70))
	assert.Equal(t, rune(0), ShiftedChar(0x6A), "numpad keys ignore shift")

	k, ok := Encode(RawKey{VK: 0x32, Char: ShiftedChar(0x32)})
	require.True(t, ok)
	assert.Equal(t, Char('@'), k)
}
