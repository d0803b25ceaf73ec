package action

import (
	"testing"

	"recplay/internal/keycodec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_AppendPreservesOrder(t *testing.T) {
	l := NewLog()
	l.Append(Move(10, 10, 0))
	l.Append(Click(10, 10, ButtonLeft, true, 0.3))
	l.Append(KeyPress(keycodec.Char('a'), 0.5))

	got := l.Actions()
	require.Len(t, got, 3)
	assert.Equal(t, KindMove, got[0].Kind)
	assert.Equal(t, KindClick, got[1].Kind)
	assert.Equal(t, KindKey, got[2].Kind)
	assert.InDelta(t, 0.5, l.Duration(), 1e-9)
}

func TestLog_FrozenRejectsAppend(t *testing.T) {
	l := NewLog()
	l.Append(Move(1, 2, 0))
	l.Freeze()

	assert.True(t, l.Frozen())
	assert.Panics(t, func() { l.Append(Move(3, 4, 1)) })
	assert.Equal(t, 1, l.Len())
}

func TestLog_ActionsReturnsCopy(t *testing.T) {
	l := NewFrozenLog([]Action{Move(1, 1, 0)})
	got := l.Actions()
	got[0].Position.X = 99

	assert.Equal(t, 1, l.Actions()[0].Position.X)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate([]Action{Move(0, 0, 0), Move(0, 0, 0), Move(0, 0, 1.2)}))
	assert.Error(t, Validate([]Action{Move(0, 0, 1), Move(0, 0, 0.5)}))
	assert.Error(t, Validate([]Action{Move(0, 0, -0.1)}))
}

func TestParseButton(t *testing.T) {
	for in, want := range map[string]Button{
		"left":         ButtonLeft,
		"Button.right": ButtonRight,
		" LEFT ":       ButtonLeft,
	} {
		got, ok := ParseButton(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseButton("middle")
	assert.False(t, ok)
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "click(5,6) right down@1.250", Click(5, 6, ButtonRight, true, 1.25).String())
	assert.Equal(t, `key "enter"@0.000`, KeyPress(keycodec.Named(keycodec.Enter), 0).String())
}
