package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandNames(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range Commands() {
		name := c.String()
		require.NotEmpty(t, name, "command %d has no wire name", c)
		require.False(t, seen[name], "duplicate wire name %q", name)
		seen[name] = true

		parsed, ok := ParseCommand(name)
		require.True(t, ok)
		assert.Equal(t, c, parsed)
	}
	assert.Len(t, seen, int(NumCommands))
}

func TestParseCommand_Unknown(t *testing.T) {
	_, ok := ParseCommand("frobnicate")
	assert.False(t, ok)
	assert.Equal(t, "unknown", NumCommands.String())
	assert.False(t, NumCommands.Valid())
}

func TestEventHelpers(t *testing.T) {
	assert.True(t, IsEvent("event_sync_progress"))
	assert.False(t, IsEvent("get_version"))
	assert.Equal(t, "sync_progress", EventCategory("event_sync_progress"))
	assert.Equal(t, "event_log", EventType("log"))

	ev, err := NewEvent("log", map[string]string{"line": "hi"})
	require.NoError(t, err)
	assert.Zero(t, ev.ID)

	data, err := EncodeResponse(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event_log","result":{"line":"hi"}}`, string(data))
}

func TestRequestWireShape(t *testing.T) {
	req, err := NewRequest(3, CmdOpen.String(), OpenPayload{Path: "a.wallet", Password: "pw"})
	require.NoError(t, err)

	data, err := EncodeRequest(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"type":"open","payload":{"path":"a.wallet","password":"pw"}}`, string(data))

	noPayload, err := NewRequest(4, CmdGetVersion.String(), nil)
	require.NoError(t, err)
	data, err = EncodeRequest(noPayload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":4,"type":"get_version"}`, string(data))
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantID  uint64
		wantErr bool
		wantReq bool
	}{
		{name: "valid", input: `{"id":1,"type":"reset"}`, wantID: 1, wantReq: true},
		{name: "not json", input: `{`, wantErr: true},
		{name: "zero id", input: `{"id":0,"type":"reset"}`, wantErr: true, wantReq: true},
		{name: "missing type keeps id", input: `{"id":9}`, wantID: 9, wantErr: true, wantReq: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantReq {
				require.NotNil(t, req)
				assert.Equal(t, tt.wantID, req.ID)
			} else {
				assert.Nil(t, req)
			}
		})
	}
}

func TestSuccessAndFailure(t *testing.T) {
	req := &Request{ID: 5, Type: "get_version"}

	ok := Success(req, nil)
	assert.Equal(t, uint64(5), ok.ID)
	assert.Equal(t, "get_version", ok.Type)
	assert.False(t, ok.Failed())
	data, err := EncodeResponse(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":5,"type":"get_version","result":null}`, string(data))

	bad := Failure(req, nil)
	assert.True(t, bad.Failed())
	assert.Equal(t, "unknown error", bad.Error)
	assert.Nil(t, bad.Result)
}

func TestParamsText(t *testing.T) {
	assert.Equal(t, "{}", ParamsText(nil))
	assert.Equal(t, "{}", ParamsText(json.RawMessage("null")))
	assert.Equal(t, `{"method":"getbalance"}`, ParamsText(json.RawMessage(`"{\"method\":\"getbalance\"}"`)))
	assert.Equal(t, `{"method":"getbalance"}`, ParamsText(json.RawMessage(`{"method":"getbalance"}`)))
}

func TestJobResultState(t *testing.T) {
	tests := map[string]JobState{
		"":          JobWorking,
		"working":   JobWorking,
		"idle":      JobWorking,
		"completed": JobCompleted,
		"error":     JobFailed,
		"failed":    JobFailed,
	}
	for status, want := range tests {
		r := JobResult{Status: status}
		assert.Equal(t, want, r.State(), "status %q", status)
	}
}
