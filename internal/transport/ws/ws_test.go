package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"chatroom/internal/domain"
	"chatroom/internal/dto"
	"chatroom/internal/events"
	"chatroom/internal/jwtsigner"
	"chatroom/internal/service/impl"
	"chatroom/internal/session"
	"chatroom/internal/store"
	"chatroom/internal/store/storetest"

	"github.com/gorilla/websocket"
)

type testEnv struct {
	srv    *httptest.Server
	st     *store.Store
	tokens *impl.TokenServiceImpl
	hub    *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := storetest.Open(t)
	signer, err := jwtsigner.NewFromBase64("", "kid-test", "chatroom-test")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	tokens := impl.NewTokenServiceImpl(impl.TokenConfig{AccessTTL: time.Hour, SingleDeviceLogin: true}, signer, st)

	hub := NewHub()
	go hub.Run()
	rec := session.NewReconciler(st, session.NewRegistry(), hub, session.Config{
		StoreTimeout: 2 * time.Second, HistoryLimit: 5, HistoryMax: 100, MaxMessageLength: 200,
	})
	srv := httptest.NewServer(NewHandler(hub, tokens, rec, Config{HistoryLimit: 5}))
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Shutdown(2 * time.Second)
	})
	return &testEnv{srv: srv, st: st, tokens: tokens, hub: hub}
}

func (e *testEnv) account(t *testing.T, username string) *domain.Account {
	t.Helper()
	a := &domain.Account{Username: username, PasswordAlgo: "argon2id", PasswordHash: []byte("h"), PasswordSalt: []byte("s"), PasswordParams: []byte("{}")}
	if err := e.st.Accounts().Create(context.Background(), a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

func (e *testEnv) issue(t *testing.T, a *domain.Account, device string) string {
	t.Helper()
	res, err := e.tokens.Issue(context.Background(), a, "127.0.0.1", device)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return res.AccessToken
}

func (e *testEnv) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return websocket.DefaultDialer.Dial(u, nil)
}

func (e *testEnv) connect(t *testing.T, token string) (*websocket.Conn, events.Welcome) {
	t.Helper()
	conn, _, err := e.dial(t, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	in := next(t, conn)
	if in.Type != events.TypeWelcome {
		t.Fatalf("expected welcome first, got %q", in.Type)
	}
	var w events.Welcome
	decode(t, in, &w)
	return conn, w
}

func next(t *testing.T, conn *websocket.Conn) events.Inbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var in events.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	return in
}

// nextOf skips frames until one of type typ arrives.
func nextOf(t *testing.T, conn *websocket.Conn, typ string) events.Inbound {
	t.Helper()
	for i := 0; i < 20; i++ {
		if in := next(t, conn); in.Type == typ {
			return in
		}
	}
	t.Fatalf("no %q frame", typ)
	return events.Inbound{}
}

func decode(t *testing.T, in events.Inbound, dst any) {
	t.Helper()
	if err := json.Unmarshal(in.Data, dst); err != nil {
		t.Fatalf("decode %s payload: %v", in.Type, err)
	}
}

func write(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	if err := conn.WriteJSON(events.Envelope{Type: typ, Data: data}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func expectError(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	in := nextOf(t, conn, events.TypeError)
	var e events.Error
	decode(t, in, &e)
	if e.Code != code {
		t.Fatalf("expected error %q, got %+v", code, e)
	}
}

func TestAnonymousReaderCannotJoin(t *testing.T) {
	env := newTestEnv(t)
	conn, w := env.connect(t, "")
	if w.Authenticated || w.ConnID == "" {
		t.Fatalf("unexpected welcome %+v", w)
	}

	write(t, conn, events.TypeJoin, dto.JoinRequest{DisplayName: "guest"})
	expectError(t, conn, "anonymous_join")

	write(t, conn, events.TypeSend, dto.SendRequest{Content: "hi"})
	expectError(t, conn, "not_joined")

	write(t, conn, events.TypeGetUsers, nil)
	in := nextOf(t, conn, events.TypeUsersList)
	var roster []domain.Presence
	decode(t, in, &roster)
	if len(roster) != 0 {
		t.Fatalf("expected empty roster, got %+v", roster)
	}
}

func TestJoinBroadcastsThenReplaysHistory(t *testing.T) {
	env := newTestEnv(t)
	alice := env.account(t, "alice")
	conn, w := env.connect(t, env.issue(t, alice, "device1"))
	if !w.Authenticated || w.Username != "alice" {
		t.Fatalf("unexpected welcome %+v", w)
	}

	write(t, conn, events.TypeJoin, dto.JoinRequest{DisplayName: "alice", UserID: alice.ID.String()})

	in := next(t, conn)
	var msg domain.Message
	decode(t, in, &msg)
	if in.Type != events.TypeMessage || msg.Kind != domain.MessageKindSystem || msg.Content != "alice joined the chat" {
		t.Fatalf("expected join notice first, got %s %+v", in.Type, msg)
	}
	if in := next(t, conn); in.Type != events.TypeUsersList {
		t.Fatalf("expected roster second, got %s", in.Type)
	}
	if in := next(t, conn); in.Type != events.TypeHistory {
		t.Fatalf("expected history third, got %s", in.Type)
	}

	write(t, conn, events.TypeSend, dto.SendRequest{Content: "  hello  "})
	in = nextOf(t, conn, events.TypeMessage)
	decode(t, in, &msg)
	if msg.Content != "hello" || msg.Username != "alice" || msg.Kind != domain.MessageKindUser {
		t.Fatalf("unexpected chat message %+v", msg)
	}
}

func TestJoinRejectsForeignUserID(t *testing.T) {
	env := newTestEnv(t)
	alice := env.account(t, "alice")
	bob := env.account(t, "bob")
	conn, _ := env.connect(t, env.issue(t, alice, "device1"))

	write(t, conn, events.TypeJoin, dto.JoinRequest{DisplayName: "bob", UserID: bob.ID.String()})
	expectError(t, conn, "identity_mismatch")
}

func TestSecondDeviceEvictsFirst(t *testing.T) {
	env := newTestEnv(t)
	alice := env.account(t, "alice")

	t1 := env.issue(t, alice, "device1")
	s1, _ := env.connect(t, t1)
	write(t, s1, events.TypeJoin, dto.JoinRequest{DisplayName: "alice"})
	nextOf(t, s1, events.TypeHistory)

	t2 := env.issue(t, alice, "device2")
	s2, w2 := env.connect(t, t2)
	write(t, s2, events.TypeJoin, dto.JoinRequest{DisplayName: "alice"})

	// Device 1 is told why before its socket is closed.
	in := nextOf(t, s1, events.TypeForcedLogout)
	var fl events.ForcedLogout
	decode(t, in, &fl)
	if fl.Reason == "" {
		t.Fatal("forced_logout must carry a reason")
	}
	_ = s1.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := s1.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy close after forced_logout, got %v", err)
	}

	// Device 2 sees a roster refresh, not a second join notice.
	in = next(t, s2)
	if in.Type != events.TypeUsersList {
		t.Fatalf("expected roster for replaced session, got %s", in.Type)
	}
	nextOf(t, s2, events.TypeHistory)

	// Give the evicted socket's disconnect time to run; it must not remove
	// device 2's record.
	time.Sleep(100 * time.Millisecond)
	rows, err := env.st.Presence().ListAll(context.Background())
	if err != nil {
		t.Fatalf("list presence: %v", err)
	}
	if len(rows) != 1 || rows[0].ConnID != w2.ConnID {
		t.Fatalf("record must belong to device 2 (%s), got %+v", w2.ConnID, rows)
	}

	// T1 was superseded by the second login: a new socket with it is anonymous.
	s3, w3 := env.connect(t, t1)
	if w3.Authenticated {
		t.Fatal("superseded credential must fall back to anonymous")
	}
	write(t, s3, events.TypeJoin, dto.JoinRequest{DisplayName: "alice"})
	expectError(t, s3, "anonymous_join")
}

func TestLeaveIsBroadcast(t *testing.T) {
	env := newTestEnv(t)
	alice := env.account(t, "alice")
	bob := env.account(t, "bob")

	sb, _ := env.connect(t, env.issue(t, bob, "b"))
	write(t, sb, events.TypeJoin, dto.JoinRequest{DisplayName: "bob"})
	nextOf(t, sb, events.TypeHistory)

	sa, _ := env.connect(t, env.issue(t, alice, "a"))
	write(t, sa, events.TypeJoin, dto.JoinRequest{DisplayName: "alice"})
	nextOf(t, sa, events.TypeHistory)
	nextOf(t, sb, events.TypeUsersList)

	_ = sa.Close()

	for {
		in := nextOf(t, sb, events.TypeMessage)
		var msg domain.Message
		decode(t, in, &msg)
		if msg.Content == "alice left the chat" {
			break
		}
	}
	in := next(t, sb)
	var roster []domain.Presence
	decode(t, in, &roster)
	if in.Type != events.TypeUsersList || len(roster) != 1 || roster[0].Username != "bob" {
		t.Fatalf("expected roster with bob only, got %s %+v", in.Type, roster)
	}
}

func TestSendAfterLogoutIsRefused(t *testing.T) {
	env := newTestEnv(t)
	alice := env.account(t, "alice")
	token := env.issue(t, alice, "device1")
	conn, _ := env.connect(t, token)
	write(t, conn, events.TypeJoin, dto.JoinRequest{DisplayName: "alice"})
	nextOf(t, conn, events.TypeHistory)

	if err := env.tokens.RevokeOne(context.Background(), token); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	write(t, conn, events.TypeSend, dto.SendRequest{Content: "after logout"})
	expectError(t, conn, "revoked_credential")

	msgs, err := env.st.Messages().Tail(context.Background(), 50)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	for _, m := range msgs {
		if m.Content == "after logout" {
			t.Fatal("message from a revoked credential was stored")
		}
	}
	rows, err := env.st.Presence().ListAll(context.Background())
	if err != nil {
		t.Fatalf("list presence: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("revoked socket must leave the roster, got %+v", rows)
	}

	// The socket stays open as an anonymous reader.
	write(t, conn, events.TypeSend, dto.SendRequest{Content: "again"})
	expectError(t, conn, "not_joined")
	write(t, conn, events.TypeJoin, dto.JoinRequest{DisplayName: "alice"})
	expectError(t, conn, "anonymous_join")
}

func TestUpgradeRefusedWhenStoreDown(t *testing.T) {
	env := newTestEnv(t)
	alice := env.account(t, "alice")
	token := env.issue(t, alice, "device1")

	sqlDB, err := env.st.DB.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	_ = sqlDB.Close()

	_, resp, err := env.dial(t, token)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %+v", resp)
	}
}

func TestMalformedFrame(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := env.connect(t, "")
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectError(t, conn, "bad_request")
}
