package jsonrpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	req, rpcErr := DecodeRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"session/prompt","params":{"text":"hi"}}`))
	require.Nil(t, rpcErr)
	assert.Equal(t, "session/prompt", req.Method)
	assert.False(t, req.IsNotification())
}

func TestDecodeRequestRejectsBatch(t *testing.T) {
	_, rpcErr := DecodeRequest([]byte(`[{"jsonrpc":"2.0","id":1,"method":"a"}]`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, InvalidRequest, rpcErr.Code)
}

func TestDecodeRequestParseError(t *testing.T) {
	_, rpcErr := DecodeRequest([]byte(`{not json`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, ParseError, rpcErr.Code)
}

func TestDecodeRequestWrongVersion(t *testing.T) {
	_, rpcErr := DecodeRequest([]byte(`{"jsonrpc":"1.0","id":1,"method":"a"}`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, InvalidRequest, rpcErr.Code)
}

func TestEventNotificationEnvelope(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	n, err := NewEventNotification("session.exited", at, map[string]any{"id": "s1"})
	require.NoError(t, err)
	assert.Equal(t, EventMethod, n.Method)

	var env EventEnvelope
	require.NoError(t, json.Unmarshal(n.Params, &env))
	assert.Equal(t, "session.exited", env.Type)
	assert.True(t, env.Timestamp.Equal(at))
}

func TestErrorResponseRoundTrip(t *testing.T) {
	resp := NewErrorResponse(7, MethodNotFound, "unknown method")
	b, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.NotNil(t, decoded.Error)
	assert.Equal(t, MethodNotFound, decoded.Error.Code)
	assert.Nil(t, decoded.Result)
}
