package feed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsReadLimit        = 1 << 20
	wsPongWait         = 60 * time.Second
	wsPingPeriod       = 25 * time.Second
	wsWriteWait        = 5 * time.Second
)

// WebSocketSource dials a quote feed over WebSocket.
type WebSocketSource struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

// NewWebSocketSource creates a source for the feed at url (ws:// or wss://).
func NewWebSocketSource(url string) *WebSocketSource {
	return &WebSocketSource{
		URL:    url,
		Dialer: &websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
	}
}

func (s *WebSocketSource) Connect(ctx context.Context) (Stream, error) {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.URL, s.Header)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	st := &wsStream{conn: conn, done: make(chan struct{})}
	go st.keepalive()
	return st, nil
}

type wsStream struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// keepalive pings the server so idle feeds are not reaped by proxies.
func (s *wsStream) keepalive() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsStream) Read(ctx context.Context) ([]byte, error) {
	// gorilla reads are not context aware; closing the conn unblocks them.
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		typ, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		err = s.conn.Close()
	})
	return err
}
