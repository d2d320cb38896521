// Package realtime – Frames
//
// This file defines the event names and the JSON frame envelope exchanged
// with clients, plus the decoding helpers used by the Gateway.
package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Inbound event names.
const (
	EventRegister           = "register"
	EventSendPrivateMessage = "sendPrivateMessage"
	EventOrderStatusUpdate  = "orderStatusUpdate"
	EventAdminComment       = "adminComment"
	EventHideChatWithUser   = "hideChatWithUser"
	EventUnhideUser         = "unhideUser"
	EventGetHiddenUsers     = "getHiddenUsers"
	EventGetMessages        = "getMessages"
	EventDisconnect         = "disconnect"
)

// Outbound event names.
const (
	EventReceivePrivateMessage  = "receivePrivateMessage"
	EventNotification           = "notification"
	EventUpdateUserList         = "updateUserList"
	EventHiddenUsersList        = "hiddenUsersList"
	EventChatHistory            = "chatHistory"
	EventNewNotification        = "newNotification"
	EventNewCommentNotification = "newCommentNotification"
	eventAck                    = "ack"
)

var (
	errEmptyFrame   = errors.New("empty frame")
	errMissingEvent = errors.New("frame has no event name")
)

// Frame is one decoded client frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int64          `json:"ack,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Ack   *int64 `json:"ack,omitempty"`
	Data  any    `json:"data"`
}

// DecodeFrame parses a client text frame.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if len(bytes.TrimSpace(raw)) == 0 {
		return f, errEmptyFrame
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, err
	}
	f.Event = strings.TrimSpace(f.Event)
	if f.Event == "" {
		return f, errMissingEvent
	}
	return f, nil
}

func encodeEvent(event string, payload any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: payload})
}

func encodeAck(id int64, payload any) ([]byte, error) {
	return json.Marshal(outFrame{Event: eventAck, Ack: &id, Data: payload})
}

// decodeData unmarshals a frame payload into v. Numbers are kept as
// json.Number so order IDs survive unchanged. A missing payload leaves v
// untouched.
func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// identityArg accepts either a bare JSON string or {"userId": "..."}.
func identityArg(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var obj struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	return strings.TrimSpace(obj.UserID), nil
}
