package farcaster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basebox-backend/internal/common"
	"basebox-backend/internal/kv"
	"basebox-backend/internal/kv/kvtest"
)

func neynarServer(t *testing.T, casts string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/farcaster/feed/user/casts", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("fid"))
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(casts))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newNeynar(baseURL string) *NeynarClient {
	return NewNeynarClient(common.FarcasterConfig{
		NeynarAPIKey:  "test-key",
		NeynarBaseURL: baseURL,
		CastKeyword:   "BaseBox",
	}, "https://basebox.example", nil)
}

func TestHasQualifyingCast(t *testing.T) {
	since := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		casts string
		want  bool
	}{
		{"keyword today", `{"casts":[{"hash":"0x1","text":"gm from #basebox","timestamp":"2025-11-05T08:00:00Z"}]}`, true},
		{"keyword yesterday", `{"casts":[{"hash":"0x1","text":"basebox","timestamp":"2025-11-04T23:59:00Z"}]}`, false},
		{"embed", `{"casts":[{"hash":"0x2","text":"look","timestamp":"2025-11-05T01:00:00Z","embeds":[{"url":"https://basebox.example/capsule/1"}]}]}`, true},
		{"unrelated", `{"casts":[{"hash":"0x3","text":"gm","timestamp":"2025-11-05T01:00:00Z"}]}`, false},
		{"empty", `{"casts":[]}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := neynarServer(t, tc.casts)
			ok, err := newNeynar(srv.URL).HasQualifyingCast(context.Background(), 42, since)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestNeynarErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newNeynar(srv.URL).HasQualifyingCast(context.Background(), 42, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestAllowAll(t *testing.T) {
	ok, err := AllowAll{}.HasQualifyingCast(context.Background(), 1, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func signedBody(t *testing.T, fid int64, p payload) []byte {
	t.Helper()
	h, err := EncodeSegment(header{FID: fid, Type: "app_key", Key: "0xabc"})
	require.NoError(t, err)
	pl, err := EncodeSegment(p)
	require.NoError(t, err)
	raw, err := json.Marshal(SignedMessage{Header: h, Payload: pl, Signature: "sig"})
	require.NoError(t, err)
	return raw
}

func TestParseEvent(t *testing.T) {
	details := &NotificationDetails{URL: "https://api.warpcast.com/v1/frame-notifications", Token: "tok"}
	ev, err := ParseEvent(signedBody(t, 42, payload{Event: EventMiniAppAdded, NotificationDetails: details}))
	require.NoError(t, err)
	assert.Equal(t, int64(42), ev.FID)
	assert.Equal(t, EventMiniAppAdded, ev.Type)
	assert.Equal(t, details, ev.Details)
	assert.True(t, ev.Enables())

	ev, err = ParseEvent(signedBody(t, 42, payload{Event: EventFrameAdded}))
	require.NoError(t, err)
	assert.False(t, ev.Enables())
	assert.False(t, ev.Disables())

	ev, err = ParseEvent(signedBody(t, 42, payload{Event: EventNotificationsDisabled}))
	require.NoError(t, err)
	assert.True(t, ev.Disables())

	for _, bad := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"header":"","payload":""}`),
		[]byte(`{"header":"!!!","payload":"!!!"}`),
		signedBody(t, 0, payload{Event: EventMiniAppAdded}),
		signedBody(t, 42, payload{Event: "something_else"}),
	} {
		_, err := ParseEvent(bad)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	}
}

type notificationServer struct {
	mu       sync.Mutex
	requests []sendRequest
	invalid  bool
}

func (s *notificationServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.mu.Lock()
		s.requests = append(s.requests, req)
		invalid := s.invalid
		s.mu.Unlock()

		resp := map[string]interface{}{"result": map[string][]string{
			"successfulTokens":  {},
			"invalidTokens":     {},
			"rateLimitedTokens": {},
		}}
		if invalid {
			resp["result"].(map[string][]string)["invalidTokens"] = req.Tokens
		} else {
			resp["result"].(map[string][]string)["successfulTokens"] = req.Tokens
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestNotifierLifecycle(t *testing.T) {
	store, _ := kvtest.NewRedis(t)
	ns := &notificationServer{}
	srv := httptest.NewServer(ns.handler(t))
	defer srv.Close()

	n := NewNotifier(store, "https://basebox.example", srv.Client())
	ctx := context.Background()

	err := n.Send(ctx, 42, Notification{Title: "hi"})
	assert.ErrorIs(t, err, ErrNotificationsDisabled)

	ev := &Event{FID: 42, Type: EventMiniAppAdded, Details: &NotificationDetails{URL: srv.URL, Token: "tok-42"}}
	require.NoError(t, n.HandleEvent(ctx, ev))

	enabled, err := n.Enabled(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, enabled)
	require.Len(t, ns.requests, 1)
	assert.Equal(t, "welcome-42", ns.requests[0].NotificationID)
	assert.Equal(t, []string{"tok-42"}, ns.requests[0].Tokens)
	assert.Equal(t, "https://basebox.example", ns.requests[0].TargetURL)

	long := "This title is definitely longer than thirty-two characters"
	require.NoError(t, n.Send(ctx, 42, Notification{Title: long, Body: "b"}))
	last := ns.requests[len(ns.requests)-1]
	assert.Len(t, last.Title, maxTitleChars)
	assert.NotEmpty(t, last.NotificationID)

	require.NoError(t, n.HandleEvent(ctx, &Event{FID: 42, Type: EventNotificationsDisabled}))
	on, err := n.IsEnabled(ctx, 42)
	require.NoError(t, err)
	assert.False(t, on)
	_, ok, err := store.Get(ctx, kv.UserNotificationsKey(42))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNotifierDropsInvalidToken(t *testing.T) {
	store, _ := kvtest.NewRedis(t)
	ns := &notificationServer{invalid: true}
	srv := httptest.NewServer(ns.handler(t))
	defer srv.Close()

	n := NewNotifier(store, "https://basebox.example", srv.Client())
	ctx := context.Background()
	require.NoError(t, n.SaveDetails(ctx, 7, NotificationDetails{URL: srv.URL, Token: "stale"}))

	err := n.Send(ctx, 7, Notification{Title: "hi", Body: "there"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	on, err := n.IsEnabled(ctx, 7)
	require.NoError(t, err)
	assert.False(t, on)
}
