package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cloudoperators/greenhouse-mirror/internal/mirror"
	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// MessageTypeSnapshot carries the full collection
	MessageTypeSnapshot = "snapshot"
	// MessageTypeClosed is the last message before the server ends a stream
	MessageTypeClosed = "closed"

	writeTimeout = 10 * time.Second
)

// StreamMessage is one websocket frame. Every change is sent as the full
// collection so a consumer never merges deltas.
type StreamMessage struct {
	Type  string                   `json:"type"`
	Kind  string                   `json:"kind"`
	Items []map[string]interface{} `json:"items"`
	Error string                   `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  16 * 1024,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

var errSlowSubscriber = errors.New("subscriber too slow, collection updates dropped")

// watchHandler streams the collection on connect and after every commit.
func (s *Server) watchHandler(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.log.Warn(logger.WithErrorField(r.Context(), err), "Websocket upgrade failed")
		return
	}

	ctx := logger.WithWatch(r.Context(), m.Name())
	ctx = logger.WithSubscriber(ctx, uuid.NewString())
	stream := newStream(conn, m, s.buffer, s.closing)
	s.log.Info(ctx, "Subscriber connected")
	err = stream.run(ctx)
	if err != nil && !isExpectedCloseError(err) {
		s.log.Warn(logger.WithErrorField(ctx, err), "Subscriber stream ended")
		return
	}
	s.log.Info(ctx, "Subscriber disconnected")
}

type stream struct {
	conn   *websocket.Conn
	mirror *mirror.Mirror
	kind   string

	updates chan mirror.Collection
	// overflow is closed once when updates is full
	overflow chan struct{}
	closing  <-chan struct{}
}

func newStream(conn *websocket.Conn, m *mirror.Mirror, buffer int, closing <-chan struct{}) *stream {
	return &stream{
		conn:     conn,
		mirror:   m,
		kind:     m.Name(),
		updates:  make(chan mirror.Collection, buffer),
		overflow: make(chan struct{}),
		closing:  closing,
	}
}

func (st *stream) run(ctx context.Context) error {
	defer st.conn.Close()

	// Subscribe before reading Current so no commit falls between them.
	overflowed := false
	unsubscribe := st.mirror.Subscribe(func(c mirror.Collection) {
		if overflowed {
			return
		}
		select {
		case st.updates <- c:
		default:
			overflowed = true
			close(st.overflow)
		}
	})
	defer unsubscribe()

	clientGone := make(chan error, 1)
	go func() {
		for {
			if _, _, err := st.conn.ReadMessage(); err != nil {
				clientGone <- err
				return
			}
		}
	}()

	if err := st.send(StreamMessage{Type: MessageTypeSnapshot, Kind: st.kind, Items: st.mirror.Current().Objects()}); err != nil {
		return err
	}

	for {
		select {
		case c := <-st.updates:
			if err := st.send(StreamMessage{Type: MessageTypeSnapshot, Kind: st.kind, Items: c.Objects()}); err != nil {
				return err
			}
		case <-st.overflow:
			_ = st.send(StreamMessage{Type: MessageTypeClosed, Kind: st.kind, Error: errSlowSubscriber.Error()})
			st.close(websocket.ClosePolicyViolation, "too slow")
			return errSlowSubscriber
		case err := <-clientGone:
			return err
		case <-st.closing:
			_ = st.send(StreamMessage{Type: MessageTypeClosed, Kind: st.kind})
			st.close(websocket.CloseGoingAway, "server shutting down")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (st *stream) send(msg StreamMessage) error {
	if err := st.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return st.conn.WriteJSON(msg)
}

func (st *stream) close(code int, text string) {
	_ = st.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeTimeout))
}

func isExpectedCloseError(err error) bool {
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
