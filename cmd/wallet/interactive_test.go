package main

import (
	"encoding/json"
	"testing"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-wallet/protocol"
)

func TestPayloadFields(t *testing.T) {
	fields := payloadFields(protocol.CmdAsyncCall)
	require.Len(t, fields, 3)
	assert.Equal(t, "method", fields[0].name)
	assert.Equal(t, "string", fields[0].typeStr())
	assert.Equal(t, "params", fields[1].name)
	assert.Equal(t, "json", fields[1].typeStr())
	assert.Equal(t, "walletId", fields[2].name)
	assert.Equal(t, "s64", fields[2].typeStr())

	assert.Empty(t, payloadFields(protocol.CmdGetVersion))
}

func TestPayloadsCoverValidCommands(t *testing.T) {
	for cmd := range payloads {
		assert.True(t, cmd.Valid(), cmd.String())
	}
}

func TestBuildPayload(t *testing.T) {
	fields := payloadFields(protocol.CmdInvoke)
	inputs := make([]textinput.Model, len(fields))
	for i := range inputs {
		inputs[i] = textinput.New()
	}
	inputs[0].SetValue(`{"method":"getbalance"}`)
	inputs[1].SetValue("7")

	payload, err := buildPayload(fields, inputs)
	require.NoError(t, err)
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"params":{"method":"getbalance"},"walletId":7}`, string(data))

	inputs[1].SetValue("seven")
	_, err = buildPayload(fields, inputs)
	assert.ErrorContains(t, err, "walletId")
}

func TestConvertField(t *testing.T) {
	v, ok, err := convertField("", field{name: "x"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)

	v, ok, err = convertField("not json", field{name: "params", raw: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "not json", v)

	v, _, err = convertField("42", payloadFields(protocol.CmdGetCurrentTxFee)[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}
