package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-shop-relay/internal/domain"
	"github.com/tbourn/go-shop-relay/internal/presence"
	"github.com/tbourn/go-shop-relay/internal/push"
	"github.com/tbourn/go-shop-relay/internal/repo"
	"github.com/tbourn/go-shop-relay/internal/services"
)

// ---------- fakes ----------

type emitted struct {
	Event   string
	Payload any
}

type fakeClient struct {
	id string

	mu     sync.Mutex
	events []emitted
	acks   map[int64]any
	closed bool
}

func newClient(id string) *fakeClient { return &fakeClient{id: id, acks: map[int64]any{}} }

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.events = append(c.events, emitted{Event: event, Payload: payload})
	return nil
}

func (c *fakeClient) Ack(id int64, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks[id] = payload
	return nil
}

func (c *fakeClient) named(event string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, e := range c.events {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (c *fakeClient) ack(t *testing.T, id int64) ackStatus {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.acks[id]
	if !ok {
		t.Fatalf("no ack %d on %s", id, c.id)
	}
	st, ok := a.(ackStatus)
	if !ok {
		t.Fatalf("ack %d has type %T", id, a)
	}
	return st
}

type recordingSender struct {
	mu     sync.Mutex
	tokens []string
	last   push.Notification
	err    error
}

func (s *recordingSender) SendToToken(_ context.Context, token string, n push.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	s.last = n
	return s.err
}

func (s *recordingSender) SendToTokens(_ context.Context, tokens []string, _ push.Notification) (push.MulticastResult, error) {
	return push.MulticastResult{Sent: len(tokens)}, nil
}

func (s *recordingSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// ---------- harness ----------

type harness struct {
	db     *gorm.DB
	gw     *Gateway
	dir    *presence.Directory
	sender *recordingSender
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:rt_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	sender := &recordingSender{}
	dir := presence.New("admin", repo.HiddenUsers{DB: db}, zerolog.Nop())
	notes := services.NewNotificationService(db, sender, zerolog.Nop())
	msgs := services.NewMessageService(db, 50)
	return &harness{db: db, gw: NewGateway(dir, notes, msgs, zerolog.Nop()), dir: dir, sender: sender}
}

func frame(t *testing.T, event string, data any, ack ...int64) Frame {
	t.Helper()
	f := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		f.Data = raw
	}
	if len(ack) > 0 {
		id := ack[0]
		f.Ack = &id
	}
	return f
}

func (h *harness) send(t *testing.T, c Client, event string, data any, ack ...int64) {
	t.Helper()
	h.gw.Handle(context.Background(), c, frame(t, event, data, ack...))
	h.gw.Wait()
}

func (h *harness) register(t *testing.T, c Client, identity string) {
	t.Helper()
	h.send(t, c, EventRegister, map[string]string{"userId": identity})
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// ---------- scenarios ----------

func TestSendPrivateMessage_UserToAdmin(t *testing.T) {
	h := newHarness(t)
	a, b := newClient("A"), newClient("B")
	h.register(t, a, "admin")
	h.register(t, b, "u1")

	h.send(t, b, EventSendPrivateMessage, map[string]string{"sender": "u1", "receiver": "admin", "message": "hi"}, 1)

	if st := b.ack(t, 1); st.Status != "ok" {
		t.Fatalf("ack = %+v; want ok", st)
	}

	var msgs []domain.Message
	h.db.Find(&msgs)
	if len(msgs) != 1 || msgs[0].Sender != "u1" || msgs[0].Receiver != "admin" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	var notes []domain.Notification
	h.db.Find(&notes)
	if len(notes) != 1 || notes[0].UserID != "admin" {
		t.Fatalf("expected one admin notification, got %+v", notes)
	}

	got := a.named(EventNewNotification)
	if len(got) != 1 {
		t.Fatalf("admin should receive one newNotification, got %d", len(got))
	}
	if n, ok := got[0].(*domain.Notification); !ok || n.Message != "hi" {
		t.Fatalf("unexpected newNotification payload: %#v", got[0])
	}
	if len(a.named(EventReceivePrivateMessage)) != 1 {
		t.Fatalf("live admin should receive the chat message")
	}
	if len(b.named(EventReceivePrivateMessage)) != 1 {
		t.Fatalf("sender should receive its echo")
	}

	// getMessages returns the turn oldest-first.
	h.send(t, a, EventGetMessages, "u1")
	hist := a.named(EventChatHistory)
	if len(hist) != 1 {
		t.Fatalf("expected one chatHistory event, got %d", len(hist))
	}
	ch := hist[0].(chatHistory)
	if ch.UserID != "u1" || len(ch.Messages) != 1 || ch.Messages[0].Sender != "u1" || ch.Messages[0].Message != "hi" {
		t.Fatalf("unexpected history: %+v", ch)
	}

	var stored domain.Message
	h.db.First(&stored)
	if stored.Hidden {
		t.Fatalf("message should not be hidden")
	}

	// hide then list hidden
	h.send(t, a, EventHideChatWithUser, "u1")
	h.send(t, a, EventGetHiddenUsers, nil)
	lists := a.named(EventHiddenUsersList)
	if len(lists) != 1 {
		t.Fatalf("expected hiddenUsersList, got %d", len(lists))
	}
	hidden := lists[0].(map[string]bool)
	if len(hidden) != 1 || !hidden["u1"] {
		t.Fatalf("hidden = %v; want {u1:true}", hidden)
	}
}

func TestSendPrivateMessage_AdminPushAttemptedWhileOnline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_ = repo.SaveToken(ctx, h.db, "admin", "tok-admin")

	a, b := newClient("A"), newClient("B")
	h.register(t, a, "admin")
	h.register(t, b, "u1")

	h.send(t, b, EventSendPrivateMessage, map[string]string{"sender": "u1", "receiver": "admin", "message": "hello"}, 1)

	if h.sender.calls() != 1 || h.sender.tokens[0] != "tok-admin" {
		t.Fatalf("expected one push to the admin token, got %v", h.sender.tokens)
	}
	if n := h.count(t, &domain.Notification{}); n != 1 {
		t.Fatalf("expected a single notification, got %d", n)
	}
}

func TestSendPrivateMessage_OfflineReceiverGetsPush(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.Create(&domain.User{ID: "u2", Username: "bob"})
	_ = repo.SaveToken(ctx, h.db, "u2", "tok-u2")

	b := newClient("B")
	h.register(t, b, "u1")
	h.send(t, b, EventSendPrivateMessage, map[string]string{"sender": "u1", "receiver": "u2", "message": "ping"}, 7)

	if st := b.ack(t, 7); st.Status != "ok" {
		t.Fatalf("ack = %+v", st)
	}
	if n := h.count(t, &domain.Message{}); n != 1 {
		t.Fatalf("expected one message, got %d", n)
	}
	if h.sender.calls() != 1 || h.sender.tokens[0] != "tok-u2" {
		t.Fatalf("expected one push to u2, got %v", h.sender.tokens)
	}
	if h.sender.last.Data["message"] != "ping" || h.sender.last.Data["type"] != "message" {
		t.Fatalf("unexpected push data: %v", h.sender.last.Data)
	}
	if _, ok := h.dir.Lookup("u2"); ok {
		t.Fatalf("u2 must stay offline")
	}
}

func TestSendPrivateMessage_ReceiverKnownFromEarlierSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := newClient("C")
	h.send(t, c, EventRegister, map[string]string{"userId": "u2", "username": "bob", "fcmToken": "tok-u2"})
	h.gw.Disconnect(ctx, c)

	b := newClient("B")
	h.register(t, b, "u1")
	h.send(t, b, EventSendPrivateMessage, map[string]string{"sender": "u1", "receiver": "u2", "message": "still there?"}, 1)

	var notes []domain.Notification
	h.db.Find(&notes)
	if len(notes) != 1 || notes[0].UserID != "u2" || notes[0].Username != "bob" {
		t.Fatalf("expected one notification for u2, got %+v", notes)
	}
	if h.sender.calls() != 1 || h.sender.tokens[0] != "tok-u2" {
		t.Fatalf("expected one push to u2, got %v", h.sender.tokens)
	}
}

func TestRegister_KeepsProfileFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.Create(&domain.User{ID: "u1", Username: "alice", Email: "alice@shop.test", Admin: true})

	h.send(t, newClient("C"), EventRegister, map[string]string{"userId": "u1", "username": "Alice B"})

	u, err := repo.GetUser(ctx, h.db, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Username != "Alice B" || u.Email != "alice@shop.test" || !u.Admin {
		t.Fatalf("unexpected user after register: %+v", u)
	}
}

func TestDisconnect_DropsEveryIdentityOnConnection(t *testing.T) {
	h := newHarness(t)
	a, c := newClient("A"), newClient("C")
	h.register(t, a, "admin")
	h.register(t, c, "u1")
	h.register(t, c, "u2")
	if got := testutil.ToFloat64(identitiesOnline); got != 3 {
		t.Fatalf("identities online = %v; want 3", got)
	}

	h.gw.Disconnect(context.Background(), c)

	for _, id := range []string{"u1", "u2"} {
		if _, ok := h.dir.Lookup(id); ok {
			t.Fatalf("%s still online", id)
		}
	}
	if got := testutil.ToFloat64(identitiesOnline); got != 1 {
		t.Fatalf("identities online = %v; want 1", got)
	}
	lists := a.named(EventUpdateUserList)
	if last := lists[len(lists)-1].([]presence.Entry); len(last) != 0 {
		t.Fatalf("admin list should be empty, got %+v", last)
	}
}

func TestSendPrivateMessage_OnlineReceiver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_ = repo.SaveToken(ctx, h.db, "u2", "tok-u2")

	b, c := newClient("B"), newClient("C")
	h.register(t, b, "u1")
	h.register(t, c, "u2")
	h.send(t, b, EventSendPrivateMessage, map[string]string{"sender": "u1", "receiver": "u2", "message": "yo"}, 1)

	if n := h.count(t, &domain.Message{}); n != 1 {
		t.Fatalf("expected one message, got %d", n)
	}
	if got := c.named(EventReceivePrivateMessage); len(got) != 1 {
		t.Fatalf("receiver should get one live message, got %d", len(got))
	}
	if got := b.named(EventReceivePrivateMessage); len(got) != 1 {
		t.Fatalf("sender should get one echo, got %d", len(got))
	}
	if len(c.named(EventNotification)) != 0 {
		t.Fatalf("popup is only for admin-sent messages")
	}
	if h.sender.calls() != 0 {
		t.Fatalf("no push expected for an online receiver, got %d", h.sender.calls())
	}
}

func TestSendPrivateMessage_AdminToUserPopup(t *testing.T) {
	h := newHarness(t)
	a, c := newClient("A"), newClient("C")
	h.register(t, a, "admin")
	h.register(t, c, "u1")

	h.send(t, a, EventSendPrivateMessage, map[string]string{"sender": "admin", "receiver": "u1", "message": "thanks"}, 1)

	pops := c.named(EventNotification)
	if len(pops) != 1 {
		t.Fatalf("expected one popup, got %d", len(pops))
	}
	if p := pops[0].(popup); p.Message != "thanks" || p.Type != "message" {
		t.Fatalf("unexpected popup: %+v", p)
	}
}

func TestSendPrivateMessage_UnregisteredSender(t *testing.T) {
	h := newHarness(t)
	b := newClient("B")

	h.send(t, b, EventSendPrivateMessage, map[string]string{"sender": "u1", "receiver": "admin", "message": "hi"}, 3)

	if st := b.ack(t, 3); st.Status != "error" || st.Message == "" {
		t.Fatalf("ack = %+v; want error", st)
	}
	if n := h.count(t, &domain.Message{}); n != 0 {
		t.Fatalf("nothing may be persisted, got %d messages", n)
	}
}

func TestSendPrivateMessage_EmptyBodyFails(t *testing.T) {
	h := newHarness(t)
	b := newClient("B")
	h.register(t, b, "u1")

	h.send(t, b, EventSendPrivateMessage, map[string]string{"sender": "u1", "receiver": "admin", "message": "  "}, 4)
	if st := b.ack(t, 4); st.Status != "error" {
		t.Fatalf("ack = %+v; want error", st)
	}
}

func TestOrderStatusUpdate(t *testing.T) {
	h := newHarness(t)
	h.db.Create(&domain.User{ID: "u1"})
	c := newClient("C")
	h.register(t, c, "u1")

	h.send(t, c, EventOrderStatusUpdate, map[string]any{"orderId": 42, "status": "shipped"}, 1)
	if st := c.ack(t, 1); st.Status != "error" {
		t.Fatalf("missing userId must fail, got %+v", st)
	}

	h.send(t, c, EventOrderStatusUpdate, map[string]any{"userId": "u1", "orderId": 42, "status": "shipped"}, 2)
	// No push token: the ack still succeeds.
	if st := c.ack(t, 2); st.Status != "ok" {
		t.Fatalf("ack = %+v; want ok", st)
	}
	pops := c.named(EventNotification)
	if len(pops) != 1 {
		t.Fatalf("expected one live notification, got %d", len(pops))
	}
	if p := pops[0].(popup); p.Message != "Order #42 updated: Shipped" || p.Title != "Order update" {
		t.Fatalf("unexpected popup: %+v", p)
	}
	if n := h.count(t, &domain.Notification{}); n != 1 {
		t.Fatalf("expected one stored notification, got %d", n)
	}
}

func TestOrderStatusUpdate_PushFailureStillAcksOK(t *testing.T) {
	h := newHarness(t)
	h.db.Create(&domain.User{ID: "u1"})
	_ = repo.SaveToken(context.Background(), h.db, "u1", "tok")
	h.sender.err = errors.New("provider down")
	c := newClient("C")

	h.send(t, c, EventOrderStatusUpdate, map[string]any{"userId": "u1", "orderId": "A-1", "status": "delivered"}, 9)
	if st := c.ack(t, 9); st.Status != "ok" {
		t.Fatalf("ack = %+v; want ok", st)
	}
}

func TestAdminComment(t *testing.T) {
	h := newHarness(t)
	a, c := newClient("A"), newClient("C")
	h.register(t, a, "admin")
	h.register(t, c, "u1")

	h.send(t, a, EventAdminComment, map[string]any{"userId": "u1", "postId": "p-9", "commentText": "Nice pick"}, 5)

	st := a.ack(t, 5)
	if st.Status != "ok" || st.Notification == nil || st.Notification.Type != "comment" {
		t.Fatalf("ack = %+v", st)
	}
	if st.Notification.Data["postId"] != "p-9" {
		t.Fatalf("postId not carried: %v", st.Notification.Data)
	}
	if got := c.named(EventNewCommentNotification); len(got) != 1 {
		t.Fatalf("expected newCommentNotification, got %d", len(got))
	}
	if n := h.count(t, &domain.Notification{}); n != 1 {
		t.Fatalf("expected exactly one notification, got %d", n)
	}

	h.send(t, a, EventAdminComment, map[string]any{"postId": "p-9", "commentText": "x"}, 6)
	if st := a.ack(t, 6); st.Status != "error" || st.Message != "" {
		t.Fatalf("failure ack must be generic, got %+v", st)
	}
}

func TestRegister_SavesTokenAndBackfillsAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	at := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	if _, err := repo.CreateMessage(ctx, h.db, "u7", "admin", "old question", at); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c := newClient("C")
	h.send(t, c, EventRegister, map[string]string{"userId": "u3", "username": "Carol", "fcmToken": "tok-3"})
	if tok, err := repo.GetToken(ctx, h.db, "u3"); err != nil || tok != "tok-3" {
		t.Fatalf("token = %q, %v", tok, err)
	}

	a := newClient("A")
	h.register(t, a, "admin")

	lists := a.named(EventUpdateUserList)
	if len(lists) == 0 {
		t.Fatalf("admin should receive a user list")
	}
	last := lists[len(lists)-1].([]presence.Entry)
	var seen7, seen3 bool
	for _, e := range last {
		switch e.Identity {
		case "u7":
			seen7 = true
			if !e.LastActivity.Equal(at) {
				t.Fatalf("u7 activity = %v; want %v", e.LastActivity, at)
			}
		case "u3":
			seen3 = e.DisplayName == "Carol"
		case "admin":
			t.Fatalf("admin must not list itself")
		}
	}
	if !seen7 || !seen3 {
		t.Fatalf("user list missing entries: %+v", last)
	}
}

func TestUnhide_RefreshesAdminList(t *testing.T) {
	h := newHarness(t)
	a, c := newClient("A"), newClient("C")
	h.register(t, a, "admin")
	h.register(t, c, "u1")

	h.send(t, a, EventHideChatWithUser, map[string]string{"userId": "u1"})
	lists := a.named(EventUpdateUserList)
	for _, e := range lists[len(lists)-1].([]presence.Entry) {
		if e.Identity == "u1" {
			t.Fatalf("u1 should be hidden")
		}
	}

	h.send(t, a, EventUnhideUser, "u1")
	lists = a.named(EventUpdateUserList)
	found := false
	for _, e := range lists[len(lists)-1].([]presence.Entry) {
		found = found || e.Identity == "u1"
	}
	if !found {
		t.Fatalf("u1 should be listed again after unhide")
	}
}

func TestDisconnect_StaleHandleKeepsNewer(t *testing.T) {
	h := newHarness(t)
	old, cur := newClient("old"), newClient("cur")
	h.register(t, old, "u1")
	h.register(t, cur, "u1")

	h.gw.Disconnect(context.Background(), old)
	if c, ok := h.dir.Lookup("u1"); !ok || c.ID() != "cur" {
		t.Fatalf("stale disconnect clobbered the newer handle")
	}

	h.send(t, cur, EventDisconnect, nil)
	if _, ok := h.dir.Lookup("u1"); ok {
		t.Fatalf("u1 should be offline")
	}
}

func TestHandle_UnknownEventAndNoAck(t *testing.T) {
	h := newHarness(t)
	c := newClient("C")
	before := testutil.ToFloat64(eventsTotal.WithLabelValues("unknown", outcomeIgnored))

	h.send(t, c, "launchRockets", map[string]int{"n": 1}, 1)

	if after := testutil.ToFloat64(eventsTotal.WithLabelValues("unknown", outcomeIgnored)); after != before+1 {
		t.Fatalf("unknown events should be counted, got %v -> %v", before, after)
	}
	if len(c.acks) != 0 || len(c.events) != 0 {
		t.Fatalf("unknown events must not answer")
	}

	// Events without an ack id still run but answer nothing.
	h.send(t, c, EventSendPrivateMessage, map[string]string{"sender": "ghost", "receiver": "admin", "message": "x"})
	if len(c.acks) != 0 {
		t.Fatalf("no ack expected without an ack id")
	}
}

func TestEmitToAdmin(t *testing.T) {
	h := newHarness(t)
	if h.gw.EmitToAdmin(EventNewNotification, "x") {
		t.Fatalf("no admin connected")
	}
	a := newClient("A")
	h.register(t, a, "admin")
	if !h.gw.EmitToAdmin(EventNewNotification, "x") {
		t.Fatalf("admin is connected")
	}
	if len(a.named(EventNewNotification)) != 1 {
		t.Fatalf("admin did not receive the event")
	}
}
