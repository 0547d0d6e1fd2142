package ingress

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/nats-io/nats.go"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 64
)

// Message types exchanged with capture clients.
const (
	TypeFrame      = "frame"
	TypeControl    = "control"
	TypeSession    = "session"
	TypeTranscript = "transcript"
	TypeGate       = "gate"
)

// Inbound is a client message. Exactly one of Frame or Control is set,
// matching Type.
type Inbound struct {
	Type    string                  `json:"type"`
	Frame   *protocol.LandmarkFrame `json:"frame,omitempty"`
	Control *protocol.Control       `json:"control,omitempty"`
}

// Outbound wraps a bus payload for the client.
type Outbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Handler upgrades capture clients to websockets and relays their frames and
// controls onto the bus, streaming transcript and gate updates back.
type Handler struct {
	bus      *bus.Client
	cfg      config.IngressConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(cfg config.IngressConfig, busClient *bus.Client, logger *slog.Logger) *Handler {
	return &Handler{
		bus:    busClient,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ingress")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if !protocol.ValidSessionID(sessionID) {
		http.Error(w, "invalid session_id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		h:         h,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan Outbound, sendBuffer),
		done:      make(chan struct{}),
		logger:    h.logger.With(slog.String("session_id", sessionID)),
	}
	if err := c.subscribe(); err != nil {
		c.logger.Error("failed to subscribe session subjects", slog.String("error", err.Error()))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "bus unavailable"))
		_ = conn.Close()
		return
	}
	c.enqueue(Outbound{Type: TypeSession, SessionID: sessionID})
	c.logger.Info("capture client connected", slog.String("remote", r.RemoteAddr))

	go c.writePump()
	c.readPump()
}

type client struct {
	h         *Handler
	conn      *websocket.Conn
	sessionID string
	send      chan Outbound
	done      chan struct{}
	closeOnce sync.Once
	subs      []*nats.Subscription
	logger    *slog.Logger
}

func (c *client) subscribe() error {
	forward := func(kind string) nats.MsgHandler {
		return func(msg *nats.Msg) {
			c.enqueue(Outbound{Type: kind, SessionID: c.sessionID, Payload: json.RawMessage(msg.Data)})
		}
	}
	conn := c.h.bus.Conn()
	text, err := conn.Subscribe(protocol.SessionSubject(protocol.SubjectTranscriptPrefix, c.sessionID), forward(TypeTranscript))
	if err != nil {
		return err
	}
	c.subs = append(c.subs, text)
	gate, err := conn.Subscribe(protocol.SessionSubject(protocol.SubjectGatePrefix, c.sessionID), forward(TypeGate))
	if err != nil {
		_ = text.Unsubscribe()
		return err
	}
	c.subs = append(c.subs, gate)
	return conn.Flush()
}

// enqueue drops the message when the client cannot keep up.
func (c *client) enqueue(out Outbound) {
	select {
	case <-c.done:
	case c.send <- out:
	default:
		c.logger.Warn("client send buffer full, dropping update", slog.String("type", out.Type))
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		for _, sub := range c.subs {
			_ = sub.Unsubscribe()
		}
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) readPump() {
	defer func() {
		stop := protocol.Control{SessionID: c.sessionID, Action: protocol.ActionStop}
		if err := c.h.bus.PublishJSON(protocol.SessionSubject(protocol.SubjectControlPrefix, c.sessionID), stop); err != nil {
			c.logger.Warn("failed to publish stop on disconnect", slog.String("error", err.Error()))
		}
		c.close()
		c.logger.Info("capture client disconnected")
	}()

	if c.h.cfg.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.h.cfg.MaxMessageBytes)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("ignoring non-text message", slog.Int("type", messageType))
			continue
		}
		c.relay(data)
	}
}

func (c *client) relay(data []byte) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.logger.Warn("failed to decode client message", slog.String("error", err.Error()))
		return
	}

	var (
		subject string
		payload any
	)
	switch in.Type {
	case TypeFrame:
		if in.Frame == nil {
			return
		}
		in.Frame.SessionID = c.sessionID
		subject, payload = protocol.SessionSubject(protocol.SubjectLandmarkFramePrefix, c.sessionID), in.Frame
	case TypeControl:
		if in.Control == nil {
			return
		}
		in.Control.SessionID = c.sessionID
		subject, payload = protocol.SessionSubject(protocol.SubjectControlPrefix, c.sessionID), in.Control
	default:
		c.logger.Warn("unknown client message type", slog.String("type", in.Type))
		return
	}
	if err := c.h.bus.PublishJSON(subject, payload); err != nil {
		c.logger.Warn("failed to publish client message", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case out := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(out); err != nil {
				c.logger.Warn("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
