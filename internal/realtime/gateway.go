// Package realtime is the connection gateway: it terminates websocket
// connections, decodes inbound event frames, dispatches them to the chat and
// notification services and emits outbound events through the presence
// directory.
//
// Frames from one connection are handled strictly in arrival order on that
// connection's reader goroutine. Frames from different connections are
// handled concurrently; shared state lives in the presence.Directory and the
// Durable Store.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-shop-relay/internal/domain"
	"github.com/tbourn/go-shop-relay/internal/presence"
	"github.com/tbourn/go-shop-relay/internal/repo"
	"github.com/tbourn/go-shop-relay/internal/services"
)

// Notifier is the delivery surface the gateway needs from
// services.NotificationService.
type Notifier interface {
	Notify(ctx context.Context, key string, in services.NotifyInput) services.Result
	Push(ctx context.Context, identity string, in services.NotifyInput) services.Result
	Record(ctx context.Context, n *domain.Notification) error
	SaveToken(ctx context.Context, userID, token string) error
	SyncUser(ctx context.Context, identity, username string) error
}

// Messenger is the chat persistence surface the gateway needs from
// services.MessageService.
type Messenger interface {
	Send(ctx context.Context, sender, receiver, body string) (*domain.Message, error)
	History(ctx context.Context, userID, adminID string) ([]domain.Message, error)
	Correspondents(ctx context.Context, adminID string) ([]repo.SenderActivity, error)
}

// Client is a live connection as seen by the dispatcher.
type Client interface {
	presence.Conn
	// Ack answers the client frame carrying id.
	Ack(id int64, payload any) error
}

// Ack payloads.
type ackStatus struct {
	Status       string               `json:"status"`
	Message      string               `json:"message,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

var ackOK = ackStatus{Status: "ok"}

func ackError(msg string) ackStatus { return ackStatus{Status: "error", Message: msg} }

// Inbound payloads.
type registerPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	FcmToken string `json:"fcmToken"`
}

type privateMessagePayload struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Message  string `json:"message"`
}

type adminCommentPayload struct {
	UserID      string `json:"userId"`
	PostID      any    `json:"postId"`
	CommentText string `json:"commentText"`
}

// Outbound payloads.
type chatMessage struct {
	Sender     string    `json:"sender"`
	Receiver   string    `json:"receiver,omitempty"`
	SenderName string    `json:"senderName"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

type popup struct {
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Type    string         `json:"type"`
	Data    map[string]any `json:"data,omitempty"`
}

type chatHistory struct {
	UserID   string        `json:"userId"`
	Messages []chatMessage `json:"messages"`
}

// Gateway dispatches decoded frames. It is constructed once per process.
type Gateway struct {
	dir      *presence.Directory
	notifier Notifier
	msgs     Messenger
	log      zerolog.Logger

	bg sync.WaitGroup
}

// NewGateway wires the dispatcher to the directory and services.
func NewGateway(dir *presence.Directory, notifier Notifier, msgs Messenger, log zerolog.Logger) *Gateway {
	return &Gateway{
		dir:      dir,
		notifier: notifier,
		msgs:     msgs,
		log:      log.With().Str("component", "realtime").Logger(),
	}
}

// Wait blocks until background work started by the gateway has finished.
func (g *Gateway) Wait() { g.bg.Wait() }

// Handle dispatches one frame from c. Errors never escape; they are logged,
// counted, and acknowledged where the event has an ack contract.
func (g *Gateway) Handle(ctx context.Context, c Client, f Frame) {
	// In-flight work outlives the connection that started it.
	ctx = context.WithoutCancel(ctx)

	var outcome string
	switch f.Event {
	case EventRegister:
		outcome = g.register(ctx, c, f)
	case EventSendPrivateMessage:
		outcome = g.sendPrivateMessage(ctx, c, f)
	case EventOrderStatusUpdate:
		outcome = g.orderStatusUpdate(ctx, c, f)
	case EventAdminComment:
		outcome = g.adminComment(ctx, c, f)
	case EventHideChatWithUser:
		outcome = g.hide(ctx, f, true)
	case EventUnhideUser:
		outcome = g.hide(ctx, f, false)
	case EventGetHiddenUsers:
		outcome = g.getHiddenUsers(ctx, c)
	case EventGetMessages:
		outcome = g.getMessages(ctx, c, f)
	case EventDisconnect:
		g.Disconnect(ctx, c)
		outcome = outcomeOK
	default:
		g.log.Debug().Str("conn_id", c.ID()).Str("event", f.Event).Msg("unknown event ignored")
		outcome = outcomeIgnored
	}
	countEvent(f.Event, outcome)
}

// Disconnect drops every identity registered on c and refreshes the admin's
// list. Disconnecting a handle that was already superseded changes nothing.
func (g *Gateway) Disconnect(ctx context.Context, c Client) {
	removed := g.dir.Remove(c)
	if len(removed) == 0 {
		return
	}
	identitiesOnline.Set(float64(g.dir.Online()))
	g.log.Info().Str("conn_id", c.ID()).Strs("identities", removed).Msg("connection unregistered")
	g.pushUserList(ctx)
}

// EmitToAdmin sends event to the canonical admin connection. It reports
// whether an admin connection was live.
func (g *Gateway) EmitToAdmin(event string, payload any) bool {
	admin, ok := g.dir.Admin()
	if !ok {
		return false
	}
	g.emit(admin, event, payload)
	return true
}

func (g *Gateway) register(ctx context.Context, c Client, f Frame) string {
	var in registerPayload
	if err := decodeData(f.Data, &in); err != nil {
		g.log.Warn().Err(err).Str("conn_id", c.ID()).Msg("malformed register payload")
		return outcomeError
	}
	identity := strings.TrimSpace(in.UserID)
	if identity == "" {
		g.log.Warn().Str("conn_id", c.ID()).Msg("register without userId")
		return outcomeError
	}

	username := strings.TrimSpace(in.Username)
	g.dir.Register(identity, username, c)
	identitiesOnline.Set(float64(g.dir.Online()))
	log := g.log.With().Str("conn_id", c.ID()).Str("identity", identity).Logger()
	log.Info().Msg("connection registered")

	if err := g.notifier.SyncUser(ctx, identity, username); err != nil {
		log.Error().Err(err).Msg("sync user record")
	}

	if tok := strings.TrimSpace(in.FcmToken); tok != "" {
		if err := g.notifier.SaveToken(ctx, identity, tok); err != nil {
			log.Error().Err(err).Msg("save push token")
		}
	}

	if identity != g.dir.AdminID() {
		g.pushUserList(ctx)
		return outcomeOK
	}

	g.bg.Add(1)
	go func() {
		defer g.bg.Done()
		g.backfill(ctx)
		g.pushUserList(ctx)
	}()
	return outcomeOK
}

// backfill adds everyone who ever wrote to the admin to the directory.
func (g *Gateway) backfill(ctx context.Context) {
	senders, err := g.msgs.Correspondents(ctx, g.dir.AdminID())
	if err != nil {
		g.log.Error().Err(err).Msg("load past correspondents")
		return
	}
	for _, s := range senders {
		g.dir.Know(s.Sender, s.LastAt)
	}
	g.log.Debug().Int("correspondents", len(senders)).Msg("admin directory backfilled")
}

func (g *Gateway) sendPrivateMessage(ctx context.Context, c Client, f Frame) string {
	var in privateMessagePayload
	if err := decodeData(f.Data, &in); err != nil {
		g.ack(c, f, ackError("malformed message"))
		return outcomeError
	}
	sender, receiver := strings.TrimSpace(in.Sender), strings.TrimSpace(in.Receiver)
	if _, ok := g.dir.Lookup(sender); sender == "" || !ok {
		g.ack(c, f, ackError("connection is not registered"))
		return outcomeError
	}

	msg, err := g.msgs.Send(ctx, sender, receiver, in.Message)
	if err != nil {
		g.log.Error().Err(err).Str("sender", sender).Str("receiver", receiver).Msg("persist message")
		g.ack(c, f, ackError("could not send message"))
		return outcomeError
	}
	g.dir.Touch(sender, msg.Timestamp)
	g.dir.Touch(receiver, msg.Timestamp)

	admin := g.dir.AdminID()
	senderName := g.dir.DisplayName(sender)
	out := chatMessage{
		Sender:     sender,
		Receiver:   receiver,
		SenderName: senderName,
		Message:    msg.Body,
		Timestamp:  msg.Timestamp,
	}
	data := map[string]any{"type": "message", "sender": sender, "receiver": receiver, "message": msg.Body}

	receiverConn, receiverLive := g.dir.Lookup(receiver)
	switch {
	case receiverLive:
		g.emit(receiverConn, EventReceivePrivateMessage, out)
	case receiver != admin:
		// The admin branch below pushes on its own.
		res := g.notifier.Notify(ctx, receiver, services.NotifyInput{
			Title:   "Message from " + senderName,
			Message: "You have a new message from " + senderName,
			Type:    "message",
			Data:    data,
		})
		g.logDelivery(res, receiver)
	}

	if senderConn, ok := g.dir.Lookup(sender); ok {
		g.emit(senderConn, EventReceivePrivateMessage, out)
	}

	if sender == admin && receiverLive {
		g.emit(receiverConn, EventNotification, popup{Title: "New message", Message: msg.Body, Type: "message"})
	}

	if receiver == admin {
		note := &domain.Notification{
			UserID:   admin,
			Username: senderName,
			Title:    "New message from " + senderName,
			Message:  msg.Body,
			Type:     "message",
			Data:     data,
		}
		if err := g.notifier.Record(ctx, note); err != nil {
			g.log.Error().Err(err).Str("sender", sender).Msg("persist admin notification")
			g.ack(c, f, ackError("could not send message"))
			return outcomeError
		}
		g.EmitToAdmin(EventNewNotification, note)

		res := g.notifier.Push(ctx, admin, services.NotifyInput{
			Title:   "Message from a customer",
			Message: fmt.Sprintf("New message from %s: %s", senderName, msg.Body),
			Type:    "message",
			Data:    data,
		})
		g.logDelivery(res, admin)
	}

	g.pushUserList(ctx)
	g.ack(c, f, ackOK)
	return outcomeOK
}

func (g *Gateway) orderStatusUpdate(ctx context.Context, c Client, f Frame) string {
	var in map[string]any
	if err := decodeData(f.Data, &in); err != nil {
		g.ack(c, f, ackError("malformed order update"))
		return outcomeError
	}
	userID := strings.TrimSpace(text(in["userId"]))
	if userID == "" {
		g.ack(c, f, ackError("missing userId"))
		return outcomeError
	}

	n := popup{
		Title:   "Order update",
		Message: fmt.Sprintf("Order #%s updated: %s", text(in["orderId"]), statusLabel(text(in["status"]))),
		Type:    "order",
		Data:    in,
	}
	res := g.notifier.Notify(ctx, userID, services.NotifyInput{
		Title:   n.Title,
		Message: n.Message,
		Type:    n.Type,
		Data:    in,
	})
	g.logDelivery(res, userID)

	if conn, ok := g.dir.Lookup(userID); ok {
		g.emit(conn, EventNotification, n)
	}
	g.ack(c, f, ackOK)
	return outcomeOK
}

func (g *Gateway) adminComment(ctx context.Context, c Client, f Frame) string {
	var in adminCommentPayload
	if err := decodeData(f.Data, &in); err != nil {
		g.ack(c, f, ackStatus{Status: "error"})
		return outcomeError
	}
	userID := strings.TrimSpace(in.UserID)

	note := &domain.Notification{
		UserID:  userID,
		Title:   "New comment from the shop",
		Message: in.CommentText,
		Type:    "comment",
		Data:    map[string]any{"postId": in.PostID},
	}
	if err := g.notifier.Record(ctx, note); err != nil {
		g.log.Error().Err(err).Str("user_id", userID).Msg("persist comment notification")
		g.ack(c, f, ackStatus{Status: "error"})
		return outcomeError
	}

	res := g.notifier.Push(ctx, userID, services.NotifyInput{
		Title:   note.Title,
		Message: note.Message,
		Type:    note.Type,
		Data:    note.Data,
	})
	g.logDelivery(res, userID)

	if conn, ok := g.dir.Lookup(userID); ok {
		g.emit(conn, EventNewCommentNotification, note)
	}
	g.ack(c, f, ackStatus{Status: "ok", Notification: note})
	return outcomeOK
}

// hide hides (or unhides) a user from the admin's conversation list. There
// is no ack contract.
func (g *Gateway) hide(ctx context.Context, f Frame, hide bool) string {
	userID, err := identityArg(f.Data)
	if err != nil || userID == "" {
		g.log.Warn().Err(err).Str("event", f.Event).Msg("missing userId")
		return outcomeError
	}
	admin := g.dir.AdminID()
	if hide {
		g.dir.Hide(ctx, admin, userID)
	} else {
		g.dir.Unhide(ctx, admin, userID)
	}
	g.pushUserList(ctx)
	return outcomeOK
}

func (g *Gateway) getHiddenUsers(ctx context.Context, c Client) string {
	g.emit(c, EventHiddenUsersList, g.dir.Hidden(ctx, g.dir.AdminID()))
	return outcomeOK
}

func (g *Gateway) getMessages(ctx context.Context, c Client, f Frame) string {
	userID, err := identityArg(f.Data)
	if err != nil || userID == "" {
		g.log.Warn().Err(err).Msg("getMessages without userId")
		return outcomeError
	}
	history, err := g.msgs.History(ctx, userID, g.dir.AdminID())
	if err != nil {
		g.log.Error().Err(err).Str("user_id", userID).Msg("load chat history")
		return outcomeError
	}

	out := chatHistory{UserID: userID, Messages: make([]chatMessage, 0, len(history))}
	for _, m := range history {
		out.Messages = append(out.Messages, chatMessage{
			Sender:     m.Sender,
			SenderName: g.dir.DisplayName(m.Sender),
			Message:    m.Body,
			Timestamp:  m.Timestamp,
		})
	}
	g.emit(c, EventChatHistory, out)
	return outcomeOK
}

// pushUserList sends a fresh conversation list to the admin, if connected.
func (g *Gateway) pushUserList(ctx context.Context) {
	admin, ok := g.dir.Admin()
	if !ok {
		return
	}
	g.emit(admin, EventUpdateUserList, g.dir.Snapshot(ctx, g.dir.AdminID()))
}

// emit is a soft operation: a closed or saturated connection drops the frame.
func (g *Gateway) emit(c presence.Conn, event string, payload any) {
	if err := c.Emit(event, payload); err != nil {
		g.log.Debug().Err(err).Str("conn_id", c.ID()).Str("event", event).Msg("emit dropped")
	}
}

func (g *Gateway) ack(c Client, f Frame, payload any) {
	if f.Ack == nil {
		return
	}
	if err := c.Ack(*f.Ack, payload); err != nil {
		g.log.Debug().Err(err).Str("conn_id", c.ID()).Str("event", f.Event).Msg("ack dropped")
	}
}

func (g *Gateway) logDelivery(res services.Result, identity string) {
	switch {
	case res.Err == nil:
		g.log.Debug().Str("identity", identity).Bool("delivered", res.Delivered).Msg("push delivered")
	case res.Notification != nil || isSoft(res.Err):
		g.log.Warn().Err(res.Err).Str("identity", identity).Msg("push not delivered")
	default:
		g.log.Error().Err(res.Err).Str("identity", identity).Msg("notification failed")
	}
}

func isSoft(err error) bool {
	return errors.Is(err, services.ErrNoPushToken) || errors.Is(err, services.ErrPushDisabled)
}

// statusLabel title-cases an order status ("out_for_delivery" becomes
// "Out For Delivery"). Casers are stateful, so one is built per call.
func statusLabel(status string) string {
	status = strings.TrimSpace(strings.ReplaceAll(status, "_", " "))
	return cases.Title(language.English).String(status)
}

// text renders a decoded JSON scalar.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}
