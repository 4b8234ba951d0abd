package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/textpipe/internal/document"
)

func dialOCR(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(requestIDHeader, "ws-1")
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws/ocr", header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	require.NoError(t, json.Unmarshal(data, v), string(data))
}

func TestWebSocket_FramesAreNumbered(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialOCR(t, ts.URL)
	page := twoWordPage(t)

	for _, want := range []string{"frame-1", "frame-2"} {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, page))
		var out document.OCROut
		readJSON(t, conn, &out)
		assert.Equal(t, want, out.Name)
		assert.Equal(t, [2]int{200, 400}, out.Dimensions)
		require.NotEmpty(t, out.Items)
	}
}

func TestWebSocket_OptionsApplyToLaterFrames(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialOCR(t, ts.URL)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"resolve_blocks": true}`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, twoWordPage(t)))

	var out document.OCROut
	readJSON(t, conn, &out)
	assert.Equal(t, "frame-1", out.Name)
	require.NotEmpty(t, out.Items)
}

func TestWebSocket_Errors(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialOCR(t, ts.URL)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"det_bs": 0}`)))
	var bad ErrorResponse
	readJSON(t, conn, &bad)
	assert.Contains(t, bad.Error, "det_bs")
	assert.Equal(t, "ws-1", bad.RequestID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	readJSON(t, conn, &bad)
	assert.Contains(t, bad.Error, "invalid options")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("garbage")))
	readJSON(t, conn, &bad)
	assert.Contains(t, bad.Error, "frame-1")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("%PDF-1.7\n")))
	readJSON(t, conn, &bad)
	assert.Contains(t, bad.Error, "not accepted")

	// The session survives rejected frames.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, twoWordPage(t)))
	var out document.OCROut
	readJSON(t, conn, &out)
	assert.Equal(t, "frame-3", out.Name)
}

func TestWebSocket_UnknownArchitecture(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialOCR(t, ts.URL)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"det_arch": "nope"}`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, twoWordPage(t)))
	var bad ErrorResponse
	readJSON(t, conn, &bad)
	assert.Contains(t, bad.Error, "nope")
}
