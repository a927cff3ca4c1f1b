package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/auth"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/notify"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/registry"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/security"
)

type testStack struct {
	gw     *Gateway
	tokens *auth.TokenProvider
	srv    *httptest.Server
	reg    *registry.Registry
	gov    *security.Governor
}

func newTestStack(t *testing.T, govOpts security.Options) *testStack {
	t.Helper()
	tokens, err := auth.NewTestTokenProvider(time.Hour)
	if err != nil {
		t.Fatalf("token provider: %v", err)
	}
	reg := registry.New()
	gov := security.NewGovernor(govOpts, zap.NewNop())
	val := auth.NewValidator(tokens, auth.ValidatorOptions{}, zap.NewNop())
	gw := New(Options{HeartbeatInterval: time.Minute}, reg, gov, val, nil, zap.NewNop())
	gw.SetRouter(notify.NewRouter(gw, nil, nil, nil, zap.NewNop()))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testStack{gw: gw, tokens: tokens, srv: srv, reg: reg, gov: gov}
}

func (s *testStack) issue(t *testing.T, userID, role, name string) string {
	t.Helper()
	token, err := s.tokens.Issue(userID, auth.UserClaims{Role: role, Name: name})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (s *testStack) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal frame %q: %v", payload, err)
	}
	return env
}

func sendFrame(t *testing.T, conn *websocket.Conn, frameType string, data interface{}) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal data: %v", err)
		}
		raw = b
	}
	if err := conn.WriteJSON(Envelope{Type: frameType, Data: raw}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestConnect_EstablishedAndPing(t *testing.T) {
	s := newTestStack(t, security.Options{})
	conn := s.dial(t, s.issue(t, "user-1", auth.RoleGuardian, "Ana"))

	env := readFrame(t, conn)
	if env.Type != TypeConnectionEstablished {
		t.Fatalf("first frame = %q, want connection_established", env.Type)
	}
	var est EstablishedData
	if err := json.Unmarshal(env.Data, &est); err != nil {
		t.Fatalf("unmarshal established: %v", err)
	}
	if est.UserID != "user-1" || est.Role != auth.RoleGuardian {
		t.Errorf("established = %+v", est)
	}
	if !s.reg.IsConnected("user-1") {
		t.Error("user should be registered")
	}

	sendFrame(t, conn, TypePing, nil)
	if env := readFrame(t, conn); env.Type != TypePong {
		t.Errorf("reply = %q, want pong", env.Type)
	}
}

func TestConnect_RejectsBadToken(t *testing.T) {
	s := newTestStack(t, security.Options{})

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=not-a-token"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		// handshake-level rejection also acceptable
		return
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if err == nil {
		t.Fatal("expected close, got a frame")
	}
	if ok := errorsAs(err, &closeErr); !ok || closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("close = %v, want code 1008", err)
	}
}

func TestConnect_PerIPLimitClosesWith1008(t *testing.T) {
	s := newTestStack(t, security.Options{MaxConnectionsPerIP: 1})
	token := s.issue(t, "user-1", auth.RoleGuardian, "Ana")

	first := s.dial(t, token)
	if env := readFrame(t, first); env.Type != TypeConnectionEstablished {
		t.Fatalf("first frame = %q", env.Type)
	}

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=" + token
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return
	}
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = second.ReadMessage()
	var closeErr *websocket.CloseError
	if err == nil || !errorsAs(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("second connection close = %v, want code 1008", err)
	}
}

func TestGroups_JoinLeave(t *testing.T) {
	s := newTestStack(t, security.Options{})
	conn := s.dial(t, s.issue(t, "user-1", auth.RoleGuardian, "Ana"))
	readFrame(t, conn) // connection_established

	sendFrame(t, conn, TypeJoinGroup, GroupData{GroupID: "vehicle-7"})
	env := readFrame(t, conn)
	if env.Type != TypeGroupJoined {
		t.Fatalf("reply = %q, want group_joined", env.Type)
	}
	var ack AckData
	json.Unmarshal(env.Data, &ack)
	if ack.GroupID != "vehicle-7" {
		t.Errorf("ack group = %q", ack.GroupID)
	}

	sendFrame(t, conn, TypeLeaveGroup, GroupData{GroupID: "vehicle-7"})
	if env := readFrame(t, conn); env.Type != TypeGroupLeft {
		t.Errorf("reply = %q, want group_left", env.Type)
	}
}

func TestSendNotification_AdminOnly(t *testing.T) {
	s := newTestStack(t, security.Options{})

	guardian := s.dial(t, s.issue(t, "guardian-1", auth.RoleGuardian, "Ana"))
	readFrame(t, guardian)

	sendFrame(t, guardian, TypeSendNotification, SendNotificationData{
		Type: "manutencao", Title: "t", Message: "m",
	})
	env := readFrame(t, guardian)
	if env.Type != TypeError {
		t.Fatalf("guardian send reply = %q, want error", env.Type)
	}
	var errData ErrorData
	json.Unmarshal(env.Data, &errData)
	if errData.Message != "not authorized" {
		t.Errorf("error message = %q", errData.Message)
	}
}

func TestSendNotification_AdminUnicastDelivery(t *testing.T) {
	s := newTestStack(t, security.Options{})

	target := s.dial(t, s.issue(t, "guardian-1", auth.RoleGuardian, "Ana"))
	readFrame(t, target)

	admin := s.dial(t, s.issue(t, "admin-1", auth.RoleAdmin, "Root"))
	readFrame(t, admin)

	sendFrame(t, admin, TypeSendNotification, SendNotificationData{
		Type: "manutencao", Title: "Aviso", Message: "Atualização do aplicativo",
		Priority: "high", Recipients: []string{"guardian-1"},
	})

	env := readFrame(t, admin)
	if env.Type != TypeNotificationSent {
		t.Fatalf("admin reply = %q, want notification_sent", env.Type)
	}
	var ack AckData
	json.Unmarshal(env.Data, &ack)
	if ack.Delivered != 1 || ack.NotificationID == "" {
		t.Errorf("ack = %+v, want delivered 1 with id", ack)
	}

	target.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := target.ReadMessage()
	if err != nil {
		t.Fatalf("target read: %v", err)
	}
	var n notify.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	if n.Title != "Aviso" || n.Priority != notify.PriorityHigh {
		t.Errorf("notification = %+v", n)
	}
	if n.ExpiresAt.Sub(n.CreatedAt) != 48*time.Hour {
		t.Errorf("high priority expiry delta = %v, want 48h", n.ExpiresAt.Sub(n.CreatedAt))
	}
}

func TestBroadcast_ReachesSubscribersOnly(t *testing.T) {
	s := newTestStack(t, security.Options{})

	sub := s.dial(t, s.issue(t, "guardian-1", auth.RoleGuardian, "Ana"))
	readFrame(t, sub)

	unsub := s.dial(t, s.issue(t, "guardian-2", auth.RoleGuardian, "Bia"))
	readFrame(t, unsub)
	sendFrame(t, unsub, TypeUnsubscribeNotifications, nil)

	// unsubscribe has no ack; give the server a moment to process
	time.Sleep(100 * time.Millisecond)

	n := notify.NewNotification(notify.EventMaintenance, notify.PriorityLow, "Manutenção", "sistema", nil, nil)
	if got := s.gw.BroadcastNotification(n); got != 1 {
		t.Errorf("broadcast delivered = %d, want 1", got)
	}

	sub.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := sub.ReadMessage(); err != nil {
		t.Errorf("subscriber should receive broadcast: %v", err)
	}
	unsub.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := unsub.ReadMessage(); err == nil {
		t.Error("unsubscribed connection should not receive broadcast")
	}
}

func TestMalformedAndUnknownFrames(t *testing.T) {
	s := newTestStack(t, security.Options{})
	conn := s.dial(t, s.issue(t, "user-1", auth.RoleDriver, "Caio"))
	readFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if env := readFrame(t, conn); env.Type != TypeError {
		t.Errorf("malformed reply = %q, want error", env.Type)
	}

	sendFrame(t, conn, "telepatia", nil)
	if env := readFrame(t, conn); env.Type != TypeError {
		t.Errorf("unknown type reply = %q, want error", env.Type)
	}
}

func TestDisconnect_Unregisters(t *testing.T) {
	s := newTestStack(t, security.Options{})
	conn := s.dial(t, s.issue(t, "user-1", auth.RoleGuardian, "Ana"))
	readFrame(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !s.reg.IsConnected("user-1") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("user should be unregistered after disconnect")
}

func TestRemoteIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	if got := remoteIP(r); got != "10.1.2.3" {
		t.Errorf("remoteIP = %q, want 10.1.2.3", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := remoteIP(r); got != "203.0.113.9" {
		t.Errorf("remoteIP with XFF = %q, want 203.0.113.9", got)
	}
}

func errorsAs(err error, target **websocket.CloseError) bool {
	return errors.As(err, target)
}
