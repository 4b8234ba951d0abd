package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/textpipe/internal/document"
	"github.com/MeKo-Tech/textpipe/internal/ocr"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsSession is one /ws/ocr connection. Text frames carry OCRIn fields that
// replace the session options; binary frames carry one image each and are
// answered with one OCROut.
type wsSession struct {
	s         *Server
	conn      *websocket.Conn
	requestID string
	in        OCRIn
	predictor *ocr.Predictor
	done      func()
	frames    int
}

// ocrWebSocketHandler handles WebSocket connections for streaming OCR.
func (s *Server) ocrWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	sess := &wsSession{s: s, conn: conn, requestID: RequestID(r.Context()), in: s.defaults}
	defer sess.reset()
	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr, "request_id", sess.requestID)
	sess.run(r.Context())
}

func (ws *wsSession) run(ctx context.Context) {
	_ = ws.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket error", "error", err, "request_id", ws.requestID)
			}
			return
		}
		_ = ws.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		websocketMessagesTotal.WithLabelValues("received").Inc()

		switch messageType {
		case websocket.TextMessage:
			ws.configure(data)
		case websocket.BinaryMessage:
			ws.process(ctx, data)
		}
	}
}

// configure applies an options message over the current options.
func (ws *wsSession) configure(data []byte) {
	in := ws.in
	if err := json.Unmarshal(data, &in); err != nil {
		ws.sendError(&validationError{msg: fmt.Sprintf("invalid options: %v", err)})
		return
	}
	if err := in.Validate(); err != nil {
		ws.sendError(err)
		return
	}
	ws.reset()
	ws.in = in
}

func (ws *wsSession) process(ctx context.Context, data []byte) {
	ws.frames++
	name := fmt.Sprintf("frame-%d", ws.frames)
	images, err := decodeBytes(name, data, false)
	if err != nil {
		ws.sendError(&UploadError{Index: ws.frames - 1, Name: name, Err: err})
		return
	}

	ctx, cancel := ws.s.withTimeout(ctx)
	defer cancel()
	if ws.predictor == nil {
		p, done, err := ws.s.ocrPredictor(ctx, ws.in)
		if err != nil {
			ws.sendError(err)
			return
		}
		ws.predictor, ws.done = p, done
	}

	doc, stats, err := ws.predictor.PredictWithStats(ctx, imagesOf(images))
	if err != nil {
		ws.sendError(err)
		return
	}
	imagesProcessed.WithLabelValues("ocr").Add(float64(stats.Pages))
	wordsRecognized.Add(float64(stats.Words))
	ws.send(document.Export(name, doc.Pages[0]))
}

// reset releases the bound predictor.
func (ws *wsSession) reset() {
	if ws.done != nil {
		ws.done()
	}
	ws.predictor, ws.done = nil, nil
}

func (ws *wsSession) send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode websocket message", "error", err)
		return
	}
	_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("failed to send websocket message", "error", err, "request_id", ws.requestID)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

func (ws *wsSession) sendError(err error) {
	slog.Debug("websocket frame rejected", "request_id", ws.requestID, "error", err)
	ws.send(ErrorResponse{Error: err.Error(), RequestID: ws.requestID})
}
