package ingress

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/landmark"
	"github.com/loqalabs/loqa-sign/internal/natsserver"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/loqalabs/loqa-sign/internal/recognition"
	"github.com/loqalabs/loqa-sign/internal/sign"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setup(t *testing.T, withService bool) (*bus.Client, *httptest.Server) {
	t.Helper()
	logger := newLogger()
	cfg := config.Default()
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = ""
	cfg.Pipeline.CooldownMS = 0
	cfg.EventStore.RetentionMode = "ephemeral"

	ns, err := natsserver.Start(cfg.Bus, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(ns.Shutdown)
	cfg.Bus.Servers = []string{ns.ClientURL()}

	client, err := bus.Connect(context.Background(), cfg.Bus, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	if withService {
		svc := sign.NewService(context.Background(), cfg, client, recognition.NewMockRecognizer(), nil, nil, logger)
		if err := svc.Start(); err != nil {
			t.Fatalf("start service: %v", err)
		}
		t.Cleanup(svc.Close)
	}

	srv := httptest.NewServer(NewHandler(cfg.Ingress, client, logger))
	t.Cleanup(srv.Close)
	return client, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Outbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var out Outbound
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	return out
}

func TestSessionAssignedOnConnect(t *testing.T) {
	_, srv := setup(t, false)
	conn := dial(t, srv, "")
	out := read(t, conn)
	if out.Type != TypeSession || out.SessionID == "" {
		t.Fatalf("unexpected greeting %+v", out)
	}
}

func TestRejectsInvalidSessionID(t *testing.T) {
	_, srv := setup(t, false)
	resp, err := http.Get(srv.URL + "?session_id=a.b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestControlRelayedWithSession(t *testing.T) {
	client, srv := setup(t, false)
	controls := make(chan protocol.Control, 4)
	sub, err := client.Conn().Subscribe(protocol.SubjectControlPrefix+".>", func(msg *nats.Msg) {
		var ctrl protocol.Control
		if err := json.Unmarshal(msg.Data, &ctrl); err == nil {
			controls <- ctrl
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	_ = client.Conn().Flush()

	conn := dial(t, srv, "?session_id=kiosk")
	read(t, conn)
	// Clients cannot address another session.
	msg := Inbound{Type: TypeControl, Control: &protocol.Control{SessionID: "other", Action: protocol.ActionReset}}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ctrl := <-controls:
		if ctrl.SessionID != "kiosk" || ctrl.Action != protocol.ActionReset {
			t.Fatalf("unexpected control %+v", ctrl)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("control not relayed")
	}
}

func TestFramesStreamTranscriptBack(t *testing.T) {
	_, srv := setup(t, true)
	conn := dial(t, srv, "?session_id=kiosk")
	read(t, conn)

	for i := 0; i < 30; i++ {
		frame := &protocol.LandmarkFrame{Sequence: i, Pose: []landmark.Point{{X: 0.1, Y: 0.2, Visibility: 1}}}
		if err := conn.WriteJSON(Inbound{Type: TypeFrame, Frame: frame}); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		out := read(t, conn)
		if out.Type != TypeTranscript {
			continue
		}
		var update protocol.TranscriptUpdate
		if err := json.Unmarshal(out.Payload, &update); err != nil {
			t.Fatalf("decode transcript: %v", err)
		}
		if update.Text != "[sign frames=30]" || update.SessionID != "kiosk" {
			t.Fatalf("unexpected transcript %+v", update)
		}
		return
	}
	t.Fatal("no transcript received")
}
