package control

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-delayline"
)

func newTestServer(t *testing.T) (*Server, *delayline.Parameters, *httptest.Server) {
	t.Helper()
	params := delayline.NewParameters()
	srv := NewServer(params, slog.New(slog.DiscardHandler))
	srv.PollInterval = 5 * time.Millisecond

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, params, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one of msgType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestServer_InitialState(t *testing.T) {
	_, _, ts := newTestServer(t)
	conn := dial(t, ts)

	msg := readUntil(t, conn, TypeState)
	var state StatePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	require.Len(t, state.Params, 7)
	assert.Equal(t, ParamValue{ID: 3, Name: "distance", Value: delayline.DefaultDistance}, state.Params[3])
}

func TestServer_SetParamByID(t *testing.T) {
	_, params, ts := newTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, TypeState)

	sendJSON(t, conn, map[string]any{
		"type":    TypeSetParam,
		"payload": map[string]any{"id": 3, "value": 2.5},
	})

	msg := readUntil(t, conn, TypeParamChanged)
	var pv ParamValue
	require.NoError(t, json.Unmarshal(msg.Payload, &pv))
	assert.Equal(t, ParamValue{ID: 3, Name: "distance", Value: 2.5}, pv)
	assert.Equal(t, 2.5, params.Snapshot().Distance)
}

func TestServer_SetParamByName(t *testing.T) {
	_, params, ts := newTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, TypeState)

	sendJSON(t, conn, map[string]any{
		"type":    TypeSetParam,
		"payload": map[string]any{"name": "feedback", "value": 0.75},
	})
	readUntil(t, conn, TypeParamChanged)
	assert.Equal(t, 0.75, params.Snapshot().Feedback)
}

func TestServer_BroadcastsExternalChanges(t *testing.T) {
	srv, params, ts := newTestServer(t)
	a := dial(t, ts)
	b := dial(t, ts)
	readUntil(t, a, TypeState)
	readUntil(t, b, TypeState)
	require.Eventually(t, func() bool { return srv.ClientCount() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, params.SetParam(delayline.ParamWetDryMix, 0.25))

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readUntil(t, conn, TypeParamChanged)
		var pv ParamValue
		require.NoError(t, json.Unmarshal(msg.Payload, &pv))
		assert.Equal(t, uint32(delayline.ParamWetDryMix), pv.ID)
		assert.Equal(t, 0.25, pv.Value)
	}
}

func TestServer_Errors(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{"unknown id", `{"type":"set_param","payload":{"id":42,"value":1}}`},
		{"unknown name", `{"type":"set_param","payload":{"name":"gain","value":1}}`},
		{"missing id", `{"type":"set_param","payload":{"value":1}}`},
		{"bad payload", `{"type":"set_param","payload":"x"}`},
		{"unknown type", `{"type":"launch"}`},
		{"not json", `hello`},
	}

	_, params, ts := newTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, TypeState)
	before := params.Snapshot()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.message)))
			msg := readUntil(t, conn, TypeError)
			var e ErrorPayload
			require.NoError(t, json.Unmarshal(msg.Payload, &e))
			assert.NotEmpty(t, e.Message)
		})
	}

	assert.Equal(t, before, params.Snapshot())
}

func TestServer_GetState(t *testing.T) {
	_, params, ts := newTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, TypeState)

	require.NoError(t, params.SetParam(delayline.ParamDelayTime, 0.3))
	sendJSON(t, conn, Message{Type: TypeGetState})

	msg := readUntil(t, conn, TypeState)
	var state StatePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.Equal(t, 0.3, state.Params[delayline.ParamDelayTime].Value)
}

func TestServer_APIState(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var state StatePayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Len(t, state.Params, 7)
}

func TestServer_APIParams(t *testing.T) {
	_, params, ts := newTestServer(t)

	put := func(body []byte) int {
		req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/params", bytes.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	block := make([]byte, 0, 24)
	for _, v := range []float32{0.2, 0.5, 0.25, 0} {
		block = binary.LittleEndian.AppendUint32(block, math.Float32bits(v))
	}
	block = binary.LittleEndian.AppendUint32(block, 2)
	block = binary.LittleEndian.AppendUint32(block, 4)

	assert.Equal(t, http.StatusBadRequest, put(block[:10]))
	assert.InDelta(t, delayline.DefaultDelayTime, params.Snapshot().DelayTime, 0)

	assert.Equal(t, http.StatusNoContent, put(block))
	assert.InDelta(t, 0.2, params.Snapshot().DelayTime, 1e-7)
	assert.Equal(t, delayline.InterpLagrange4, params.Static().Interpolation)
	assert.Equal(t, 4, params.Static().OversampleFactor)
}

func TestServer_CloseDisconnectsClients(t *testing.T) {
	srv, _, ts := newTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, TypeState)

	srv.Close()
	srv.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Zero(t, srv.ClientCount())
}
