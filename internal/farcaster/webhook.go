package farcaster

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// 事件类型，frame_* 为旧名称
const (
	EventMiniAppAdded          = "miniapp_added"
	EventMiniAppRemoved        = "miniapp_removed"
	EventFrameAdded            = "frame_added"
	EventFrameRemoved          = "frame_removed"
	EventNotificationsEnabled  = "notifications_enabled"
	EventNotificationsDisabled = "notifications_disabled"
)

var ErrMalformedEvent = errors.New("malformed webhook event")

// NotificationDetails 客户端下发的通知地址和 token
type NotificationDetails struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// SignedMessage JSON Farcaster Signature 格式
type SignedMessage struct {
	Header    string `json:"header"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

type header struct {
	FID  int64  `json:"fid"`
	Type string `json:"type"`
	Key  string `json:"key"`
}

type payload struct {
	Event               string               `json:"event"`
	NotificationDetails *NotificationDetails `json:"notificationDetails,omitempty"`
}

// Event 解码后的 webhook 事件
type Event struct {
	FID     int64
	Type    string
	Key     string
	Details *NotificationDetails
}

// ParseEvent 解码 header 与 payload，签名校验由 SDK 握手负责
func ParseEvent(body []byte) (*Event, error) {
	var msg SignedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if msg.Header == "" || msg.Payload == "" {
		return nil, fmt.Errorf("%w: header and payload are required", ErrMalformedEvent)
	}

	var h header
	if err := decodeSegment(msg.Header, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedEvent, err)
	}
	if h.FID <= 0 {
		return nil, fmt.Errorf("%w: header fid missing", ErrMalformedEvent)
	}

	var p payload
	if err := decodeSegment(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedEvent, err)
	}
	switch p.Event {
	case EventMiniAppAdded, EventFrameAdded, EventMiniAppRemoved, EventFrameRemoved,
		EventNotificationsEnabled, EventNotificationsDisabled:
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, p.Event)
	}

	ev := &Event{FID: h.FID, Type: p.Event, Key: h.Key}
	if p.NotificationDetails != nil && p.NotificationDetails.URL != "" && p.NotificationDetails.Token != "" {
		ev.Details = p.NotificationDetails
	}
	return ev, nil
}

// EncodeSegment 测试和客户端模拟用
func EncodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeSegment(seg string, v interface{}) error {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Enables 事件是否开启通知
func (e *Event) Enables() bool {
	switch e.Type {
	case EventMiniAppAdded, EventFrameAdded, EventNotificationsEnabled:
		return e.Details != nil
	}
	return false
}

// Disables 事件是否关闭通知
func (e *Event) Disables() bool {
	switch e.Type {
	case EventMiniAppRemoved, EventFrameRemoved, EventNotificationsDisabled:
		return true
	}
	return false
}
