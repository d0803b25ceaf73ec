package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEnvelope(t *testing.T) {
	msg, err := NewMessage(TypeCommand, CommandPayload{ID: "1", Command: CommandReplay, Loops: 2, Speed: 1.5})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"command","payload":{"id":"1","command":"replay","loops":2,"speed":1.5}}`, string(data))

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	var cmd CommandPayload
	require.NoError(t, back.Decode(&cmd))
	assert.Equal(t, CommandReplay, cmd.Command)
	assert.Equal(t, 2, cmd.Loops)
}

func TestDecodeWithoutPayload(t *testing.T) {
	var cmd CommandPayload
	assert.Error(t, Message{Type: TypeCommand}.Decode(&cmd))
}

func TestErrorBody(t *testing.T) {
	assert.Equal(t, "E_NO_RECORDING: nothing saved", (&ErrorBody{Code: "E_NO_RECORDING", Message: "nothing saved"}).Error())
	assert.Equal(t, "bad", (&ErrorBody{Message: "bad"}).Error())
}
